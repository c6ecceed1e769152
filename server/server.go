package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
	"github.com/raniellyferreira/redis-inmemory-server/replication"
	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

// Config is the read-only slice of server configuration the command
// engine can report via CONFIG GET.
type Config struct {
	Dir        string
	DBFilename string
}

// Server provides Redis protocol server functionality
type Server struct {
	storage storage.Storage
	cfg     Config
	state   replication.State

	// Server configuration
	addr string

	// Connection management
	listener net.Listener
	clients  sync.Map // map[net.Conn]*Client

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	connCount    int64
	commandCount int64
	errorCount   int64
	mu           sync.RWMutex
}

// Client represents a connected client
type Client struct {
	conn   net.Conn
	reader *protocol.Reader
	writer *protocol.Writer
	server *Server

	lastCmd time.Time

	// Control
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a new Redis protocol server serving the given store.
// state carries the role and replication identity reported via INFO and
// FULLRESYNC.
func NewServer(addr string, stor storage.Storage, cfg Config, state replication.State) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		storage: stor,
		cfg:     cfg,
		state:   state,
		addr:    addr,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start starts the server
func (s *Server) Start() error {
	var err error
	s.listener, err = net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.wg.Add(1)
	go s.acceptConnections()

	return nil
}

// Stop stops the server
func (s *Server) Stop() error {
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}

	// Close all client connections
	s.clients.Range(func(key, value interface{}) bool {
		if client, ok := value.(*Client); ok {
			client.Close()
		}
		return true
	})

	s.wg.Wait()
	return nil
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Port returns the port the server is actually listening on
func (s *Server) Port() int {
	if s.listener != nil {
		if tcp, ok := s.listener.Addr().(*net.TCPAddr); ok {
			return tcp.Port
		}
	}
	return 0
}

// Stats returns server statistics
func (s *Server) Stats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clientCount := 0
	s.clients.Range(func(key, value interface{}) bool {
		clientCount++
		return true
	})

	return map[string]interface{}{
		"connected_clients": clientCount,
		"total_commands":    s.commandCount,
		"total_errors":      s.errorCount,
		"total_connections": s.connCount,
	}
}

// acceptConnections accepts new client connections
func (s *Server) acceptConnections() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return // Server is shutting down
			}
			continue
		}

		s.handleNewClient(conn)
	}
}

// handleNewClient handles a new client connection
func (s *Server) handleNewClient(conn net.Conn) {
	s.mu.Lock()
	s.connCount++
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(s.ctx)
	client := &Client{
		conn:    conn,
		reader:  protocol.NewReader(conn),
		writer:  protocol.NewWriter(conn),
		server:  s,
		lastCmd: time.Now(),
		ctx:     ctx,
		cancel:  cancel,
	}

	s.clients.Store(conn, client)

	s.wg.Add(1)
	go client.handle()
}

// Close closes the client connection
func (c *Client) Close() {
	c.cancel()
	c.conn.Close()
	c.server.clients.Delete(c.conn)
}

// handle handles client requests. A malformed frame gets an error reply
// and the loop keeps reading; only EOF or repeated stream errors end the
// connection.
func (c *Client) handle() {
	defer c.server.wg.Done()
	defer c.Close()

	streamErrors := 0

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		value, err := c.reader.ReadNext()
		if err != nil {
			if c.ctx.Err() != nil {
				return // Server shutting down
			}

			var protoErr *protocol.ProtocolError
			if !errors.As(err, &protoErr) {
				return // EOF or a dead connection
			}

			streamErrors++
			if streamErrors >= 5 {
				// The stream is beyond resynchronization.
				return
			}

			// Drop the rest of the malformed line and keep serving.
			if err := c.reader.DiscardLine(); err != nil {
				return
			}
			c.writeError("ERR Invalid command format")
			continue
		}

		streamErrors = 0

		cmd, err := protocol.ParseCommand(value)
		if err != nil {
			c.writeError("ERR Invalid command format")
			continue
		}

		c.lastCmd = time.Now()
		c.executeCommand(cmd)
	}
}

// Response writers

func (c *Client) writeString(s string) {
	c.writer.WriteSimpleString(s)
	c.writer.Flush()
}

func (c *Client) writeError(s string) {
	c.server.mu.Lock()
	c.server.errorCount++
	c.server.mu.Unlock()
	c.writer.WriteError(s)
	c.writer.Flush()
}

func (c *Client) writeBulkString(data []byte) {
	c.writer.WriteBulkString(data)
	c.writer.Flush()
}

func (c *Client) writeNull() {
	c.writer.WriteNullBulkString()
	c.writer.Flush()
}

func (c *Client) writeStringArray(elems []string) {
	c.writer.WriteBulkStringArray(elems)
	c.writer.Flush()
}
