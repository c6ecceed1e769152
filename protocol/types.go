package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// ValueType represents the type of a RESP value
type ValueType byte

const (
	// RESP value types
	TypeSimpleString ValueType = '+'
	TypeError        ValueType = '-'
	TypeInteger      ValueType = ':'
	TypeBulkString   ValueType = '$'
	TypeArray        ValueType = '*'
)

// Value represents a parsed RESP value
type Value struct {
	Type    ValueType
	Data    []byte
	Integer int64
	Array   []Value
	IsNull  bool
}

// String returns a string representation of the value
func (v Value) String() string {
	switch v.Type {
	case TypeSimpleString:
		return string(v.Data)
	case TypeError:
		return string(v.Data)
	case TypeInteger:
		return strconv.FormatInt(v.Integer, 10)
	case TypeBulkString:
		if v.IsNull {
			return "(nil)"
		}
		return string(v.Data)
	case TypeArray:
		if v.IsNull {
			return "(nil)"
		}
		parts := make([]string, len(v.Array))
		for i, item := range v.Array {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprintf("unknown type %c", v.Type)
	}
}

// Bytes returns the byte representation of the value
func (v Value) Bytes() []byte {
	return v.Data
}

// IsError returns true if this is an error value
func (v Value) IsError() bool {
	return v.Type == TypeError
}

// Error returns the error message if this is an error value
func (v Value) Error() string {
	if v.Type == TypeError {
		return string(v.Data)
	}
	return ""
}

// Command represents a Redis command parsed from a RESP array
type Command struct {
	Name string
	Args [][]byte
}

// ParseCommand parses a RESP array value into a Command
//
// The command name is uppercased so dispatch is case-insensitive.
func ParseCommand(v Value) (*Command, error) {
	if v.Type != TypeArray || v.IsNull || len(v.Array) == 0 {
		return nil, &ProtocolError{Message: "invalid command format"}
	}

	cmd := &Command{
		Args: make([][]byte, len(v.Array)-1),
	}

	// First element is the command name
	if v.Array[0].Type != TypeBulkString || v.Array[0].IsNull {
		return nil, &ProtocolError{Message: "command name must be a bulk string"}
	}
	cmd.Name = strings.ToUpper(string(v.Array[0].Data))

	// Remaining elements are arguments
	for i := 1; i < len(v.Array); i++ {
		if v.Array[i].Type != TypeBulkString {
			return nil, &ProtocolError{Message: "command arguments must be bulk strings"}
		}
		cmd.Args[i-1] = v.Array[i].Data
	}

	return cmd, nil
}

// String returns a string representation of the command
func (c *Command) String() string {
	args := make([]string, len(c.Args))
	for i, arg := range c.Args {
		args[i] = string(arg)
	}
	return c.Name + " " + strings.Join(args, " ")
}

// ProtocolError represents a malformed or truncated RESP frame.
//
// It is a request-level failure: the connection that produced it stays
// usable and the server answers with a generic error reply.
type ProtocolError struct {
	Message string
}

// Error implements the error interface
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s", e.Message)
}

func protocolErrorf(format string, args ...interface{}) error {
	return &ProtocolError{Message: fmt.Sprintf(format, args...)}
}
