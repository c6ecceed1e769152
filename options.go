package redisserver

import (
	"time"
)

// config holds the configuration for a Server
type config struct {
	// Listening settings
	listenAddr string

	// Snapshot settings
	snapshotDir      string
	snapshotFilename string

	// Replication settings (empty masterAddr = run as leader)
	masterAddr string

	// Timeouts and retry behavior
	connectTimeout time.Duration
	stepTimeout    time.Duration
	retryDelay     time.Duration
	maxRetries     int

	// Observability
	logger  Logger
	metrics MetricsCollector

	// Storage tuning
	shardCount int
}

// defaultConfig returns a configuration with sensible defaults
func defaultConfig() *config {
	return &config{
		listenAddr:       "127.0.0.1:6379",
		snapshotDir:      "/tmp",
		snapshotFilename: "dump.rdb",
		connectTimeout:   5 * time.Second,
		stepTimeout:      5 * time.Second,
		retryDelay:       time.Second,
		maxRetries:       5,
		logger:           &defaultLogger{},
	}
}

// Option represents a configuration option for a Server
type Option func(*config) error

// WithListenAddr sets the local listening address
//
// Example:
//
//	WithListenAddr(":6380")
//	WithListenAddr("127.0.0.1:0")
func WithListenAddr(addr string) Option {
	return func(c *config) error {
		if addr == "" {
			return ErrInvalidConfig
		}
		c.listenAddr = addr
		return nil
	}
}

// WithPort sets the local listening port on the loopback interface
//
// Use WithListenAddr to bind other interfaces.
//
// Example:
//
//	WithPort(6380)
func WithPort(port int) Option {
	return func(c *config) error {
		if port < 0 || port > 65535 {
			return ErrInvalidConfig
		}
		c.listenAddr = listenAddrForPort(port)
		return nil
	}
}

// WithSnapshotDir sets the directory holding the startup snapshot file
//
// The value is also what CONFIG GET dir reports.
//
// Example:
//
//	WithSnapshotDir("/var/lib/redis")
func WithSnapshotDir(dir string) Option {
	return func(c *config) error {
		if dir == "" {
			return ErrInvalidConfig
		}
		c.snapshotDir = dir
		return nil
	}
}

// WithSnapshotFilename sets the startup snapshot file name
//
// The value is also what CONFIG GET dbfilename reports.
//
// Example:
//
//	WithSnapshotFilename("dump.rdb")
func WithSnapshotFilename(name string) Option {
	return func(c *config) error {
		if name == "" {
			return ErrInvalidConfig
		}
		c.snapshotFilename = name
		return nil
	}
}

// WithMaster makes this server a replica of the given leader
//
// The server starts as role slave, performs a full resync against the
// leader and keeps serving its local store if the leader goes away.
//
// Example:
//
//	WithMaster("localhost:6379")
func WithMaster(addr string) Option {
	return func(c *config) error {
		if addr == "" {
			return ErrInvalidConfig
		}
		c.masterAddr = addr
		return nil
	}
}

// WithConnectTimeout sets the leader dial timeout
//
// Example:
//
//	WithConnectTimeout(10 * time.Second)
func WithConnectTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout <= 0 {
			return ErrInvalidConfig
		}
		c.connectTimeout = timeout
		return nil
	}
}

// WithHandshakeStepTimeout sets how long the replica waits for each
// handshake reply before failing the session
//
// Example:
//
//	WithHandshakeStepTimeout(2 * time.Second)
func WithHandshakeStepTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout <= 0 {
			return ErrInvalidConfig
		}
		c.stepTimeout = timeout
		return nil
	}
}

// WithRetryPolicy bounds replication reconnection attempts
//
// After maxRetries consecutive failed sessions the replica gives up and
// keeps serving whatever it holds locally.
//
// Example:
//
//	WithRetryPolicy(10, 2*time.Second)
func WithRetryPolicy(maxRetries int, delay time.Duration) Option {
	return func(c *config) error {
		if maxRetries <= 0 || delay <= 0 {
			return ErrInvalidConfig
		}
		c.maxRetries = maxRetries
		c.retryDelay = delay
		return nil
	}
}

// WithLogger sets a custom logger for the server
//
// Example:
//
//	WithLogger(myCustomLogger)
func WithLogger(logger Logger) Option {
	return func(c *config) error {
		if logger == nil {
			return ErrInvalidConfig
		}
		c.logger = logger
		return nil
	}
}

// WithMetrics enables metrics collection with the provided collector
//
// Example:
//
//	WithMetrics(myMetricsCollector)
func WithMetrics(collector MetricsCollector) Option {
	return func(c *config) error {
		c.metrics = collector
		return nil
	}
}

// WithShardCount sets the number of storage shards (rounded up to a
// power of two)
//
// Example:
//
//	WithShardCount(64)
func WithShardCount(count int) Option {
	return func(c *config) error {
		if count <= 0 {
			return ErrInvalidConfig
		}
		c.shardCount = count
		return nil
	}
}
