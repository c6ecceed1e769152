package protocol

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
)

const (
	// CRLF is the Redis protocol line terminator
	CRLF = "\r\n"

	// maxBulkSize is the maximum size for bulk strings (512MB)
	maxBulkSize = 512 * 1024 * 1024

	// maxArraySize is the maximum number of elements in an array
	maxArraySize = 1024 * 1024
)

var crlfBytes = []byte(CRLF)

// Reader is a streaming RESP protocol reader.
//
// Every frame is fully consumed before the next read starts, so multiple
// replies delivered in one network read are still handed out one at a time.
type Reader struct {
	br *bufio.Reader
}

// NewReader creates a new streaming RESP reader
func NewReader(r io.Reader) *Reader {
	return &Reader{
		br: bufio.NewReader(r),
	}
}

// ReadNext reads the next RESP value from the stream
func (r *Reader) ReadNext() (Value, error) {
	typeByte, err := r.br.ReadByte()
	if err != nil {
		return Value{}, err
	}

	switch ValueType(typeByte) {
	case TypeSimpleString:
		return r.readSimpleString()
	case TypeError:
		return r.readError()
	case TypeInteger:
		return r.readInteger()
	case TypeBulkString:
		return r.readBulkString()
	case TypeArray:
		return r.readArray()
	default:
		return Value{}, protocolErrorf("unknown RESP type: %c (0x%02x)", typeByte, typeByte)
	}
}

// readSimpleString reads a simple string value
func (r *Reader) readSimpleString() (Value, error) {
	line, err := r.readLine()
	if err != nil {
		return Value{}, err
	}

	return Value{
		Type: TypeSimpleString,
		Data: line,
	}, nil
}

// readError reads an error value
func (r *Reader) readError() (Value, error) {
	line, err := r.readLine()
	if err != nil {
		return Value{}, err
	}

	return Value{
		Type: TypeError,
		Data: line,
	}, nil
}

// readInteger reads an integer value
func (r *Reader) readInteger() (Value, error) {
	line, err := r.readLine()
	if err != nil {
		return Value{}, err
	}

	integer, err := parseInt64(line)
	if err != nil {
		return Value{}, protocolErrorf("invalid integer: %s", line)
	}

	return Value{
		Type:    TypeInteger,
		Integer: integer,
	}, nil
}

// parseInt64 parses an int64 from a byte slice without allocation
func parseInt64(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, strconv.ErrSyntax
	}

	var neg bool
	var i int

	switch b[0] {
	case '-':
		neg = true
		i = 1
	case '+':
		i = 1
	}

	if i >= len(b) {
		return 0, strconv.ErrSyntax
	}

	var n int64
	for ; i < len(b); i++ {
		if b[i] < '0' || b[i] > '9' {
			return 0, strconv.ErrSyntax
		}

		if n > (1<<63-1)/10 {
			return 0, strconv.ErrRange
		}

		n = n*10 + int64(b[i]-'0')
	}

	if neg {
		return -n, nil
	}
	return n, nil
}

// readBulkString reads a bulk string value
func (r *Reader) readBulkString() (Value, error) {
	line, err := r.readLine()
	if err != nil {
		return Value{}, err
	}

	length, err := parseInt64(line)
	if err != nil {
		return Value{}, protocolErrorf("invalid bulk string length: %s", line)
	}

	// Null bulk string
	if length == -1 {
		return Value{
			Type:   TypeBulkString,
			IsNull: true,
		}, nil
	}

	if length < 0 || length > maxBulkSize {
		return Value{}, protocolErrorf("invalid bulk string length: %d", length)
	}

	// Read the string data plus CRLF. io.ReadFull errors on truncated
	// input rather than reading past what the peer sent.
	data := make([]byte, length)
	if _, err := io.ReadFull(r.br, data); err != nil {
		return Value{}, fmt.Errorf("bulk string body: %w", err)
	}

	if err := r.expectCRLF(); err != nil {
		return Value{}, err
	}

	return Value{
		Type: TypeBulkString,
		Data: data,
	}, nil
}

// readArray reads an array value
func (r *Reader) readArray() (Value, error) {
	line, err := r.readLine()
	if err != nil {
		return Value{}, err
	}

	length, err := parseInt64(line)
	if err != nil {
		return Value{}, protocolErrorf("invalid array length: %s", line)
	}

	// Null array
	if length == -1 {
		return Value{
			Type:   TypeArray,
			IsNull: true,
		}, nil
	}

	if length < 0 || length > maxArraySize {
		return Value{}, protocolErrorf("invalid array length: %d", length)
	}

	array := make([]Value, length)
	for i := int64(0); i < length; i++ {
		value, err := r.ReadNext()
		if err != nil {
			return Value{}, err
		}
		array[i] = value
	}

	return Value{
		Type:  TypeArray,
		Array: array,
	}, nil
}

// ReadSyncPayload reads the raw snapshot payload a master ships after a
// FULLRESYNC reply: a bulk length line followed by exactly that many raw
// bytes, with no trailing CRLF. The payload is delivered to fn in chunks.
func (r *Reader) ReadSyncPayload(fn func(chunk []byte) error) error {
	typeByte, err := r.br.ReadByte()
	if err != nil {
		return err
	}

	if ValueType(typeByte) != TypeBulkString {
		return protocolErrorf("expected sync payload header, got %c", typeByte)
	}

	line, err := r.readLine()
	if err != nil {
		return err
	}

	length, err := parseInt64(line)
	if err != nil {
		return protocolErrorf("invalid sync payload length: %s", line)
	}

	if length == -1 {
		return fn(nil)
	}

	if length < 0 || length > maxBulkSize {
		return protocolErrorf("invalid sync payload length: %d", length)
	}

	const chunkSize = 8192
	buffer := make([]byte, chunkSize)
	remaining := length

	for remaining > 0 {
		toRead := chunkSize
		if remaining < int64(chunkSize) {
			toRead = int(remaining)
		}

		n, err := io.ReadFull(r.br, buffer[:toRead])
		if err != nil {
			return fmt.Errorf("sync payload body: %w", err)
		}

		if err := fn(buffer[:n]); err != nil {
			return err
		}

		remaining -= int64(n)
	}

	// No CRLF after the payload.
	return nil
}

// DiscardLine drops buffered input up to and including the next line
// terminator. Serving loops use it to resynchronize after a malformed
// frame so the connection can keep carrying later frames.
func (r *Reader) DiscardLine() error {
	_, err := r.br.ReadBytes('\n')
	return err
}

// readLine reads a line terminated by CRLF
func (r *Reader) readLine() ([]byte, error) {
	line, err := r.br.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read line: %w", err)
	}

	if len(line) < 2 || !bytes.HasSuffix(line, crlfBytes) {
		return nil, protocolErrorf("missing CRLF terminator")
	}

	return line[:len(line)-2], nil
}

// expectCRLF reads and validates a CRLF terminator
func (r *Reader) expectCRLF() error {
	crlf := make([]byte, 2)
	if _, err := io.ReadFull(r.br, crlf); err != nil {
		return fmt.Errorf("failed to read CRLF terminator: %w", err)
	}

	if !bytes.Equal(crlf, crlfBytes) {
		return protocolErrorf("expected CRLF terminator, got [%d, %d]", crlf[0], crlf[1])
	}

	return nil
}
