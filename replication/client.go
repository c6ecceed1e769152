package replication

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/snapshot"
	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

// Logger interface for replication logging
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// MetricsCollector interface for replication metrics
type MetricsCollector interface {
	RecordSyncDuration(duration time.Duration)
	RecordReconnection()
	RecordError(errorType string)
}

// Stats tracks follower replication statistics
type Stats struct {
	mu sync.RWMutex

	Connected      bool
	MasterAddr     string
	MasterReplID   string
	FullSyncCount  int64
	ReconnectCount int64
	LastSyncTime   time.Time
	BytesReceived  int64
}

// Client drives follower-side replication: it connects to the configured
// leader, runs the handshake, applies the full-resync snapshot to the
// store and then stays attached to the leader connection.
//
// A failed session never takes the follower down; the local store keeps
// serving clients, possibly stale, while the client retries.
type Client struct {
	// Configuration
	masterAddr    string
	listeningPort int
	storage       storage.Storage

	// Connection state
	mu        sync.RWMutex
	conn      net.Conn
	connected bool

	// Replication state announced by the leader
	replID     string
	replOffset int64

	// Control
	stopChan chan struct{}
	doneChan chan struct{}
	stopped  int32 // atomic flag to prevent double stop
	runEnded int32 // atomic flag to prevent double doneChan close

	// Sync completion
	synced         chan struct{}
	syncOnce       sync.Once
	onSyncComplete []func()

	// Statistics
	stats *Stats

	// Configuration
	logger         Logger
	metrics        MetricsCollector
	connectTimeout time.Duration
	stepTimeout    time.Duration
	retryDelay     time.Duration
	maxRetries     int
}

// NewClient creates a new replication client. listeningPort is the port
// this follower serves clients on.
func NewClient(masterAddr string, listeningPort int, stor storage.Storage) *Client {
	return &Client{
		masterAddr:     masterAddr,
		listeningPort:  listeningPort,
		storage:        stor,
		stopChan:       make(chan struct{}),
		doneChan:       make(chan struct{}),
		synced:         make(chan struct{}),
		stats:          &Stats{MasterAddr: masterAddr},
		connectTimeout: 5 * time.Second,
		stepTimeout:    DefaultStepTimeout,
		retryDelay:     time.Second,
		maxRetries:     5,
		logger:         &defaultLogger{},
	}
}

// SetLogger sets the logger
func (c *Client) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// SetMetrics sets the metrics collector
func (c *Client) SetMetrics(metrics MetricsCollector) {
	c.metrics = metrics
}

// SetConnectTimeout sets the leader dial timeout
func (c *Client) SetConnectTimeout(timeout time.Duration) {
	if timeout > 0 {
		c.connectTimeout = timeout
	}
}

// SetStepTimeout sets the per-step handshake reply deadline
func (c *Client) SetStepTimeout(timeout time.Duration) {
	if timeout > 0 {
		c.stepTimeout = timeout
	}
}

// SetRetryPolicy bounds reconnection: at most maxRetries consecutive
// failed sessions, delay apart. A successful sync resets the count.
func (c *Client) SetRetryPolicy(maxRetries int, delay time.Duration) {
	if maxRetries > 0 {
		c.maxRetries = maxRetries
	}
	if delay > 0 {
		c.retryDelay = delay
	}
}

// OnSyncComplete registers a callback invoked after the first full sync
func (c *Client) OnSyncComplete(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSyncComplete = append(c.onSyncComplete, fn)
}

// Start begins replication in the background
func (c *Client) Start(ctx context.Context) error {
	c.logger.Info("Starting replication client", "master", c.masterAddr)
	go c.run(ctx)
	return nil
}

// Stop stops replication
func (c *Client) Stop() error {
	if !atomic.CompareAndSwapInt32(&c.stopped, 0, 1) {
		return nil
	}

	c.logger.Info("Stopping replication client")
	close(c.stopChan)
	c.disconnect()

	select {
	case <-c.doneChan:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("stop timeout")
	}
}

// WaitForSync blocks until the initial full sync completes or the context
// is cancelled.
func (c *Client) WaitForSync(ctx context.Context) error {
	select {
	case <-c.synced:
		return nil
	case <-c.doneChan:
		return fmt.Errorf("replication stopped before sync completed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsConnected returns true while a leader session is established
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// GetStats returns a copy of the current replication statistics
func (c *Client) GetStats() Stats {
	c.stats.mu.RLock()
	defer c.stats.mu.RUnlock()

	return Stats{
		Connected:      c.stats.Connected,
		MasterAddr:     c.stats.MasterAddr,
		MasterReplID:   c.stats.MasterReplID,
		FullSyncCount:  c.stats.FullSyncCount,
		ReconnectCount: c.stats.ReconnectCount,
		LastSyncTime:   c.stats.LastSyncTime,
		BytesReceived:  c.stats.BytesReceived,
	}
}

// run is the main replication loop. Failed sessions are retried with a
// fixed delay; after maxRetries consecutive failures the client gives up
// and the follower keeps serving its local store.
func (c *Client) run(ctx context.Context) {
	defer func() {
		if atomic.CompareAndSwapInt32(&c.runEnded, 0, 1) {
			close(c.doneChan)
		}
	}()

	failures := 0

	for {
		select {
		case <-c.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := c.runSession(); err != nil {
			failures++
			c.logger.Error("Replication session failed", "error", err, "attempt", failures)
			c.recordMetricError("session")
			c.disconnect()

			if failures >= c.maxRetries {
				c.logger.Error("Giving up on replication, serving local store", "attempts", failures)
				return
			}

			select {
			case <-time.After(c.retryDelay):
			case <-c.stopChan:
				return
			case <-ctx.Done():
				return
			}
			continue
		}

		// Session ended cleanly (stop requested).
		return
	}
}

// runSession performs one connect/handshake/sync/attach cycle
func (c *Client) runSession() error {
	conn, err := c.connect()
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.masterAddr, err)
	}

	hs := NewHandshake(conn, c.listeningPort)
	hs.SetStepTimeout(c.stepTimeout)

	start := time.Now()
	replID, offset, err := hs.Run()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.replID = replID
	c.replOffset = offset
	c.mu.Unlock()

	if err := c.receiveSnapshot(conn, hs); err != nil {
		return err
	}

	duration := time.Since(start)
	if c.metrics != nil {
		c.metrics.RecordSyncDuration(duration)
	}

	c.updateStats(func(s *Stats) {
		s.MasterReplID = replID
		s.FullSyncCount++
		s.LastSyncTime = time.Now()
	})

	c.markSynced()
	c.logger.Info("Full sync completed", "master", c.masterAddr, "duration", duration)

	return c.drain(hs)
}

// connect establishes the leader connection
func (c *Client) connect() (net.Conn, error) {
	c.logger.Debug("Connecting to master", "addr", c.masterAddr)

	dialer := &net.Dialer{Timeout: c.connectTimeout}
	conn, err := dialer.Dial("tcp", c.masterAddr)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.updateStats(func(s *Stats) {
		s.Connected = true
		s.ReconnectCount++
	})

	if c.metrics != nil {
		c.metrics.RecordReconnection()
	}

	return conn, nil
}

// disconnect closes the leader connection
func (c *Client) disconnect() {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected = false
	c.mu.Unlock()

	c.updateStats(func(s *Stats) {
		s.Connected = false
	})
}

// receiveSnapshot reads the raw full-resync payload and replaces the
// store contents with it.
func (c *Client) receiveSnapshot(conn net.Conn, hs *Handshake) error {
	if err := conn.SetReadDeadline(time.Now().Add(c.stepTimeout)); err != nil {
		return err
	}

	var payload []byte
	err := hs.Reader().ReadSyncPayload(func(chunk []byte) error {
		payload = append(payload, chunk...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("read sync payload: %w", err)
	}

	c.updateStats(func(s *Stats) {
		s.BytesReceived += int64(len(payload))
	})

	// A full resync replaces whatever the follower held before.
	if err := c.storage.FlushAll(); err != nil {
		return err
	}
	if err := snapshot.Load(payload, c.storage); err != nil {
		// Leave nothing half-applied behind.
		c.storage.FlushAll()
		return fmt.Errorf("apply sync payload: %w", err)
	}

	return nil
}

// drain keeps the leader connection attached after the sync, consuming
// and discarding whatever the leader sends. Incremental command
// application is not part of this client; staying attached keeps the
// session alive and detects a dropped leader.
func (c *Client) drain(hs *Handshake) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return nil
	}

	// No deadline while attached; the leader may stay silent for long.
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return err
	}

	for {
		select {
		case <-c.stopChan:
			return nil
		default:
		}

		if _, err := hs.Reader().ReadNext(); err != nil {
			if atomic.LoadInt32(&c.stopped) == 1 {
				return nil
			}
			if err == io.EOF {
				return fmt.Errorf("master closed connection")
			}
			return fmt.Errorf("master stream: %w", err)
		}
	}
}

// markSynced closes the sync gate once and fires callbacks
func (c *Client) markSynced() {
	c.syncOnce.Do(func() {
		close(c.synced)

		c.mu.RLock()
		callbacks := make([]func(), len(c.onSyncComplete))
		copy(callbacks, c.onSyncComplete)
		c.mu.RUnlock()

		for _, callback := range callbacks {
			callback()
		}
	})
}

// updateStats atomically updates statistics
func (c *Client) updateStats(fn func(*Stats)) {
	c.stats.mu.Lock()
	defer c.stats.mu.Unlock()
	fn(c.stats)
}

// recordMetricError records an error metric
func (c *Client) recordMetricError(errorType string) {
	if c.metrics != nil {
		c.metrics.RecordError(errorType)
	}
}

// defaultLogger is a no-op logger implementation
type defaultLogger struct{}

func (l *defaultLogger) Debug(msg string, fields ...interface{}) {}
func (l *defaultLogger) Info(msg string, fields ...interface{})  {}
func (l *defaultLogger) Error(msg string, fields ...interface{}) {}
