package replication

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
)

// handshakeStep tracks which reply the follower is currently awaiting.
// Steps only ever advance in order; a reply for a later step arriving
// early is a handshake failure, not something to reorder around.
type handshakeStep int

const (
	stepDisconnected handshakeStep = iota
	stepAwaitPong
	stepAwaitPortAck
	stepAwaitCapaAck
	stepAwaitFullResync
	stepStreaming
)

// String returns the step name used in error reports
func (s handshakeStep) String() string {
	switch s {
	case stepDisconnected:
		return "disconnected"
	case stepAwaitPong:
		return "await-pong"
	case stepAwaitPortAck:
		return "await-port-ack"
	case stepAwaitCapaAck:
		return "await-capa-ack"
	case stepAwaitFullResync:
		return "await-fullresync"
	case stepStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// HandshakeError reports a failed replication handshake: an unexpected
// reply at some step, or no reply before the step deadline.
type HandshakeError struct {
	Step  string
	Reply string
	Err   error
}

// Error implements the error interface
func (e *HandshakeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("handshake failed at %s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("handshake failed at %s: unexpected reply %q", e.Step, e.Reply)
}

// Unwrap returns the wrapped error
func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// DefaultStepTimeout bounds how long the follower waits for each
// handshake reply before giving up.
const DefaultStepTimeout = 5 * time.Second

// Handshake drives the follower side of the replication handshake over a
// single connection. It owns the connection exclusively until Run
// returns.
type Handshake struct {
	conn   net.Conn
	reader *protocol.Reader
	writer *protocol.Writer

	listeningPort int
	stepTimeout   time.Duration

	step handshakeStep
}

// NewHandshake prepares a handshake over conn. listeningPort is the port
// this follower serves clients on, reported to the leader via REPLCONF.
func NewHandshake(conn net.Conn, listeningPort int) *Handshake {
	return &Handshake{
		conn:          conn,
		reader:        protocol.NewReader(conn),
		writer:        protocol.NewWriter(conn),
		listeningPort: listeningPort,
		stepTimeout:   DefaultStepTimeout,
		step:          stepDisconnected,
	}
}

// SetStepTimeout overrides the per-step reply deadline
func (h *Handshake) SetStepTimeout(timeout time.Duration) {
	if timeout > 0 {
		h.stepTimeout = timeout
	}
}

// Reader returns the protocol reader positioned after the last consumed
// reply. After a successful Run the next bytes on it are the raw
// snapshot payload.
func (h *Handshake) Reader() *protocol.Reader {
	return h.reader
}

// Run performs the four handshake steps in order and returns the
// replication id and offset announced by the leader's FULLRESYNC reply.
func (h *Handshake) Run() (replID string, offset int64, err error) {
	h.step = stepAwaitPong
	if err := h.exchange("PING"); err != nil {
		return "", 0, err
	}
	if err := h.expectSimple("PONG"); err != nil {
		return "", 0, err
	}

	h.step = stepAwaitPortAck
	if err := h.exchange("REPLCONF", "listening-port", strconv.Itoa(h.listeningPort)); err != nil {
		return "", 0, err
	}
	if err := h.expectSimple("OK"); err != nil {
		return "", 0, err
	}

	h.step = stepAwaitCapaAck
	if err := h.exchange("REPLCONF", "capa", "psync2"); err != nil {
		return "", 0, err
	}
	if err := h.expectSimple("OK"); err != nil {
		return "", 0, err
	}

	h.step = stepAwaitFullResync
	if err := h.exchange("PSYNC", "?", "-1"); err != nil {
		return "", 0, err
	}
	replID, offset, err = h.expectFullResync()
	if err != nil {
		return "", 0, err
	}

	h.step = stepStreaming
	return replID, offset, nil
}

// exchange writes one command and flushes it
func (h *Handshake) exchange(cmd string, args ...string) error {
	if err := h.writer.WriteCommand(cmd, args...); err != nil {
		return &HandshakeError{Step: h.step.String(), Err: err}
	}
	if err := h.writer.Flush(); err != nil {
		return &HandshakeError{Step: h.step.String(), Err: err}
	}
	return nil
}

// readReply reads exactly one reply frame under the step deadline
func (h *Handshake) readReply() (protocol.Value, error) {
	if err := h.conn.SetReadDeadline(time.Now().Add(h.stepTimeout)); err != nil {
		return protocol.Value{}, &HandshakeError{Step: h.step.String(), Err: err}
	}

	value, err := h.reader.ReadNext()
	if err != nil {
		return protocol.Value{}, &HandshakeError{Step: h.step.String(), Err: err}
	}

	return value, nil
}

// expectSimple consumes one reply and requires it to be the given simple
// string; anything else fails the handshake.
func (h *Handshake) expectSimple(want string) error {
	value, err := h.readReply()
	if err != nil {
		return err
	}

	if value.Type != protocol.TypeSimpleString || string(value.Data) != want {
		return &HandshakeError{Step: h.step.String(), Reply: value.String()}
	}

	return nil
}

// expectFullResync consumes one reply and requires a well-formed
// "+FULLRESYNC <replid> <offset>" line.
func (h *Handshake) expectFullResync() (string, int64, error) {
	value, err := h.readReply()
	if err != nil {
		return "", 0, err
	}

	if value.Type != protocol.TypeSimpleString {
		return "", 0, &HandshakeError{Step: h.step.String(), Reply: value.String()}
	}

	parts := strings.Fields(string(value.Data))
	if len(parts) != 3 || parts[0] != "FULLRESYNC" || len(parts[1]) != 40 {
		return "", 0, &HandshakeError{Step: h.step.String(), Reply: value.String()}
	}

	offset, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", 0, &HandshakeError{Step: h.step.String(), Reply: value.String()}
	}

	return parts[1], offset, nil
}
