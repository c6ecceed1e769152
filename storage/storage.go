package storage

import "time"

// Storage defines the interface for key-value store operations
type Storage interface {
	// String operations
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, expiry *time.Time) error
	Del(keys ...string) int64

	// Key operations
	Keys(pattern string) []string
	KeyCount() int64
	FlushAll() error

	// Shutdown
	Close() error
}
