package snapshot

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// Snapshot format constants
const (
	headerSize  = 9
	magicPrefix = "REDIS"

	opcodeEOF      = 0xFF
	opcodeDB       = 0xFE
	opcodeExpiry   = 0xFD // seconds, uint32 little-endian
	opcodeExpiryMs = 0xFC // milliseconds, uint64 little-endian
	opcodeResizeDB = 0xFB
	opcodeAux      = 0xFA

	typeString = 0

	// maxStringLen guards length fields in corrupt files; nothing the
	// decoder is meant to load is anywhere near this large.
	maxStringLen = 64 * 1024 * 1024
)

// FormatError represents an unusable snapshot: bad magic header,
// unsupported value type or size encoding, or a truncated file.
//
// Callers treat it as "no usable snapshot" and start from an empty store;
// it never aborts the process.
type FormatError struct {
	Message string
}

// Error implements the error interface
func (e *FormatError) Error() string {
	return fmt.Sprintf("snapshot format error: %s", e.Message)
}

func formatErrorf(format string, args ...interface{}) error {
	return &FormatError{Message: fmt.Sprintf(format, args...)}
}

// Handler receives decoded snapshot entries during parsing
type Handler interface {
	// OnKey is called for each string entry in file order
	OnKey(key, value []byte, expiry *time.Time) error

	// OnAux is called for each auxiliary metadata field
	OnAux(key, value []byte) error

	// OnEnd is called when the end-of-file tag is reached
	OnEnd() error
}

// Parser decodes a snapshot stream
type Parser struct {
	br *bufio.Reader

	handler Handler

	// inBody flips once the first database marker, expiry tag or entry
	// is seen. Before that, unknown bytes are metadata and are skipped;
	// after, an unknown tag is an unsupported value type.
	inBody bool
}

// NewParser creates a parser reading from r
func NewParser(r io.Reader, handler Handler) *Parser {
	return &Parser{
		br:      bufio.NewReader(r),
		handler: handler,
	}
}

// Parse decodes the stream, invoking the handler for each entry. It stops
// at the end-of-file tag; trailing checksum bytes are not verified.
func (p *Parser) Parse() error {
	if err := p.readHeader(); err != nil {
		return err
	}

	var expiry *time.Time

	for {
		opcode, err := p.br.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read opcode: %w", err)
		}

		switch opcode {
		case opcodeEOF:
			return p.handler.OnEnd()

		case opcodeDB:
			p.inBody = true
			// Database index carries nothing the store needs.
			if _, err := p.readLength(); err != nil {
				return formatErrorf("database index: %v", err)
			}

		case opcodeResizeDB:
			// Two hash-table size hints, both skipped.
			if _, err := p.readLength(); err != nil {
				return formatErrorf("resize hint: %v", err)
			}
			if _, err := p.readLength(); err != nil {
				return formatErrorf("resize hint: %v", err)
			}

		case opcodeAux:
			key, err := p.readString()
			if err != nil {
				return formatErrorf("aux key: %v", err)
			}
			value, err := p.readString()
			if err != nil {
				return formatErrorf("aux value for %q: %v", key, err)
			}
			if err := p.handler.OnAux(key, value); err != nil {
				return err
			}

		case opcodeExpiry:
			// Absolute expiry in seconds, converted to milliseconds.
			p.inBody = true
			var ts uint32
			if err := binary.Read(p.br, binary.LittleEndian, &ts); err != nil {
				return formatErrorf("second expiry: %v", err)
			}
			t := time.UnixMilli(int64(ts) * 1000)
			expiry = &t

		case opcodeExpiryMs:
			// Absolute expiry in milliseconds.
			p.inBody = true
			var ts uint64
			if err := binary.Read(p.br, binary.LittleEndian, &ts); err != nil {
				return formatErrorf("millisecond expiry: %v", err)
			}
			t := time.UnixMilli(int64(ts))
			expiry = &t

		case typeString:
			p.inBody = true
			key, err := p.readString()
			if err != nil {
				return formatErrorf("entry key: %v", err)
			}
			value, err := p.readString()
			if err != nil {
				return formatErrorf("entry value for %q: %v", key, err)
			}
			if err := p.handler.OnKey(key, value, expiry); err != nil {
				return err
			}
			expiry = nil

		default:
			if p.inBody {
				return formatErrorf("unsupported value type 0x%02x", opcode)
			}
			// Metadata section: skip unknown bytes one at a time until
			// a known tag shows up.
		}
	}

	return p.handler.OnEnd()
}

// readHeader validates the 9-byte magic header
func (p *Parser) readHeader() error {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(p.br, header); err != nil {
		return formatErrorf("header: %v", err)
	}

	if string(header[:len(magicPrefix)]) != magicPrefix {
		return formatErrorf("bad magic %q", header[:len(magicPrefix)])
	}

	for _, b := range header[len(magicPrefix):] {
		if b < '0' || b > '9' {
			return formatErrorf("bad version %q", header[len(magicPrefix):])
		}
	}

	return nil
}

// readLength reads a size-encoded integer. The two most-significant bits
// of the first byte select the mode; the "special" mode 0b11 has no plain
// length and is rejected outright.
func (p *Parser) readLength() (uint64, error) {
	b, err := p.br.ReadByte()
	if err != nil {
		return 0, err
	}

	switch (b & 0xC0) >> 6 {
	case 0:
		// 6-bit length
		return uint64(b & 0x3F), nil

	case 1:
		// 14-bit length: 6 high bits plus one following byte
		b2, err := p.br.ReadByte()
		if err != nil {
			return 0, err
		}
		return uint64(b&0x3F)<<8 | uint64(b2), nil

	case 2:
		// 32-bit big-endian length in the following 4 bytes
		var length uint32
		if err := binary.Read(p.br, binary.BigEndian, &length); err != nil {
			return 0, err
		}
		return uint64(length), nil

	default:
		// Special encodings (integer/compressed strings) carry no plain
		// length; the low 6 bits must never be read as one.
		return 0, fmt.Errorf("unsupported special encoding 0x%02x", b&0x3F)
	}
}

// readString reads a length-prefixed string
func (p *Parser) readString() ([]byte, error) {
	length, err := p.readLength()
	if err != nil {
		return nil, err
	}

	if length > maxStringLen {
		return nil, fmt.Errorf("string length %d too large", length)
	}

	if length == 0 {
		return []byte{}, nil
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(p.br, data); err != nil {
		return nil, fmt.Errorf("string body: %w", err)
	}

	return data, nil
}

// Parse is a convenience function to decode a snapshot stream
func Parse(r io.Reader, handler Handler) error {
	return NewParser(r, handler).Parse()
}
