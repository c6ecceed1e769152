// Package server provides the Redis protocol server: the TCP accept
// loop, per-connection command dispatch and the master-side full-resync
// responder.
//
// Every accepted connection gets its own goroutine that reads one frame,
// executes it against the shared store and fully writes the reply before
// reading the next frame. The server is compatible with Redis clients
// like github.com/redis/go-redis for the command subset it implements:
// PING, ECHO, SET (with PX), GET, KEYS, CONFIG GET, INFO, REPLCONF and
// PSYNC.
package server
