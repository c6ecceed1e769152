package redisserver

import (
	"errors"
	"fmt"
)

// Error types for specific failure scenarios
var (
	// ErrInvalidConfig indicates invalid configuration options
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrClosed indicates the server has been closed
	ErrClosed = errors.New("server is closed")

	// ErrNotStarted indicates the server has not been started yet
	ErrNotStarted = errors.New("server not started")

	// ErrNotReplica indicates a replication operation on a leader server
	ErrNotReplica = errors.New("server is not a replica")
)

// SnapshotError reports a failure loading the startup snapshot file
type SnapshotError struct {
	Path string
	Err  error
}

// Error implements the error interface
func (e *SnapshotError) Error() string {
	return fmt.Sprintf("snapshot %s: %v", e.Path, e.Err)
}

// Unwrap returns the wrapped error
func (e *SnapshotError) Unwrap() error {
	return e.Err
}
