// Package protocol implements the Redis Serialization Protocol (RESP)
// for parsing and writing Redis protocol messages.
//
// This package provides a streaming parser that reads one complete frame
// at a time from a buffered connection, which is what both the serving
// path and the replication handshake need: replies that arrive
// concatenated in a single read are still consumed one frame at a time.
//
// Basic usage:
//
//	reader := protocol.NewReader(conn)
//	for {
//		value, err := reader.ReadNext()
//		if err != nil {
//			break
//		}
//		// Process value
//	}
//
// The package supports the RESP data types used by the server:
//   - Simple Strings
//   - Errors
//   - Integers
//   - Bulk Strings
//   - Arrays
//
// It also supports the raw (non CRLF-terminated) length-prefixed payload
// used for snapshot transfer during replication, see Reader.ReadSyncPayload
// and Writer.WriteSyncPayload.
package protocol
