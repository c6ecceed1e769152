package redisserver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/raniellyferreira/redis-inmemory-server/replication"
	"github.com/raniellyferreira/redis-inmemory-server/server"
	"github.com/raniellyferreira/redis-inmemory-server/snapshot"
	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

// Server represents an in-memory Redis-compatible server
type Server struct {
	// Configuration
	config *config

	// Components
	storage storage.Storage
	state   replication.State
	srv     *server.Server
	repl    *replication.Client

	// State
	mu      sync.RWMutex
	started bool
	closed  bool
}

// New creates a new Server with the given options
//
// The server is created but not started; use Start() to begin serving.
// If the configured snapshot file exists it is loaded into the store
// here. A missing or malformed file is not an error: the server starts
// with an empty store and the problem is logged.
//
// Example:
//
//	srv, err := redisserver.New(
//		redisserver.WithPort(6380),
//		redisserver.WithSnapshotDir("/var/lib/redis"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
func New(opts ...Option) (*Server, error) {
	cfg := defaultConfig()

	// Apply options
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	// Create storage
	var storeOpts []storage.MemoryOption
	if cfg.shardCount > 0 {
		storeOpts = append(storeOpts, storage.WithShardCount(cfg.shardCount))
	}
	stor := storage.NewMemory(storeOpts...)

	if err := loadSnapshotFile(cfg, stor); err != nil {
		return nil, err
	}

	role := replication.RoleMaster
	if cfg.masterAddr != "" {
		role = replication.RoleSlave
	}

	s := &Server{
		config:  cfg,
		storage: stor,
		state:   replication.NewState(role),
	}

	s.srv = server.NewServer(cfg.listenAddr, stor, server.Config{
		Dir:        cfg.snapshotDir,
		DBFilename: cfg.snapshotFilename,
	}, s.state)

	return s, nil
}

// loadSnapshotFile seeds the store from the configured snapshot file.
// A missing or malformed file leaves the store empty; only an I/O
// failure reading an existing file is surfaced as an error.
func loadSnapshotFile(cfg *config, stor storage.Storage) error {
	path := filepath.Join(cfg.snapshotDir, cfg.snapshotFilename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.logger.Debug("No snapshot file, starting empty", Field{Key: "path", Value: path})
			return nil
		}
		return &SnapshotError{Path: path, Err: err}
	}

	if err := snapshot.Load(data, stor); err != nil {
		// An unusable snapshot means starting empty, not refusing to start.
		stor.FlushAll()
		cfg.logger.Error("Snapshot unusable, starting empty",
			Field{Key: "path", Value: path},
			Field{Key: "error", Value: err})
		return nil
	}

	cfg.logger.Info("Snapshot loaded",
		Field{Key: "path", Value: path},
		Field{Key: "keys", Value: stor.KeyCount()})
	return nil
}

// Start begins serving clients and, for a replica, starts replication
//
// The listener comes up before replication so the actual bound port is
// known when the handshake reports it to the leader. Start does not wait
// for the initial sync; use WaitForSync() for that.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if s.started {
		return nil // Already started
	}

	if err := s.srv.Start(); err != nil {
		return err
	}

	s.config.logger.Info("Server listening",
		Field{Key: "addr", Value: s.srv.Addr()},
		Field{Key: "role", Value: string(s.state.Role)})

	if s.config.masterAddr != "" {
		repl := replication.NewClient(s.config.masterAddr, s.srv.Port(), s.storage)
		repl.SetLogger(&replicationLogger{logger: s.config.logger})
		if s.config.metrics != nil {
			repl.SetMetrics(&metricsAdapter{metrics: s.config.metrics})
		}
		repl.SetConnectTimeout(s.config.connectTimeout)
		repl.SetStepTimeout(s.config.stepTimeout)
		repl.SetRetryPolicy(s.config.maxRetries, s.config.retryDelay)

		if err := repl.Start(ctx); err != nil {
			s.srv.Stop()
			return err
		}
		s.repl = repl
	}

	s.started = true
	return nil
}

// WaitForSync blocks until the initial full resync completes or the
// context is cancelled. On a leader it returns immediately.
func (s *Server) WaitForSync(ctx context.Context) error {
	s.mu.RLock()
	repl := s.repl
	started := s.started
	s.mu.RUnlock()

	if !started {
		return ErrNotStarted
	}
	if repl == nil {
		return nil
	}

	return repl.WaitForSync(ctx)
}

// Close gracefully shuts down the server
//
// Example:
//
//	defer srv.Close()
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.repl != nil {
		if err := s.repl.Stop(); err != nil {
			s.config.logger.Error("Error stopping replication", Field{Key: "error", Value: err})
		}
	}

	if s.started {
		if err := s.srv.Stop(); err != nil {
			return err
		}
	}

	return s.storage.Close()
}

// Role returns the replication role this server started with
func (s *Server) Role() string {
	return string(s.state.Role)
}

// Addr returns the address the server is listening on
func (s *Server) Addr() string {
	return s.srv.Addr()
}

// Port returns the port the server is actually listening on
func (s *Server) Port() int {
	return s.srv.Port()
}

// Storage returns the underlying storage for direct access
//
// Example:
//
//	value, exists := srv.Storage().Get("mykey")
func (s *Server) Storage() storage.Storage {
	return s.storage
}

// IsReplicaConnected returns true while the leader session is established
func (s *Server) IsReplicaConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.repl == nil {
		return false
	}
	return s.repl.IsConnected()
}

// ReplicationStats returns follower replication statistics
func (s *Server) ReplicationStats() (replication.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.repl == nil {
		return replication.Stats{}, ErrNotReplica
	}
	return s.repl.GetStats(), nil
}

// GetInfo returns server statistics and version information
func (s *Server) GetInfo() map[string]interface{} {
	info := s.srv.Stats()
	info["role"] = string(s.state.Role)
	info["keys"] = s.storage.KeyCount()
	info["version"] = VersionInfo()
	return info
}

// listenAddrForPort renders the loopback address for a port
func listenAddrForPort(port int) string {
	return fmt.Sprintf("127.0.0.1:%d", port)
}
