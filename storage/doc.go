// Package storage provides the in-memory key-value store backing the
// server.
//
// The store keeps byte-string values with an optional absolute expiry
// instant. Expiry is lazy: an expired key is physically removed the next
// time any operation touches it, either an individual read or a full key
// scan. There is no background expiry timer.
//
// Basic usage:
//
//	store := storage.NewMemory()
//	err := store.Set("key", []byte("value"), nil)
//	value, exists := store.Get("key")
//
// The store is safe for concurrent use: keys are distributed over a fixed
// number of shards, each guarded by its own lock, so no reader ever
// observes a torn write.
package storage
