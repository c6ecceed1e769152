package snapshot

// Empty returns the minimal valid snapshot: the magic header, an
// immediate end-of-file tag and a zero-filled checksum trailer. A leader
// ships this as the full-resync payload.
func Empty() []byte {
	payload := make([]byte, 0, headerSize+1+8)
	payload = append(payload, "REDIS0011"...)
	payload = append(payload, opcodeEOF)
	payload = append(payload, make([]byte, 8)...)
	return payload
}
