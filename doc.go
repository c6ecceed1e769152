// Package redisserver provides an embeddable in-memory Redis-compatible
// server with snapshot loading and leader/follower replication.
//
// A Server listens for Redis clients over TCP and serves a string
// key-value store with millisecond expiry. On startup it can seed the
// store from a binary snapshot file, and when configured with a leader
// address it performs a full-resync replication handshake and serves the
// leader's dataset.
//
// Basic usage:
//
//	srv, err := redisserver.New(
//		redisserver.WithPort(6380),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := srv.Start(context.Background()); err != nil {
//		log.Fatal(err)
//	}
//	defer srv.Close()
//
// Running as a follower:
//
//	srv, err := redisserver.New(
//		redisserver.WithPort(6381),
//		redisserver.WithMaster("localhost:6380"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := srv.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	if err := srv.WaitForSync(ctx); err != nil {
//		log.Fatal(err)
//	}
//
// The follower keeps serving its local store even when the leader
// becomes unreachable; replication reattaches in the background.
package redisserver
