// Command redis-server runs a standalone Redis-compatible server.
//
// Usage:
//
//	redis-server --port 6380 --dir /var/lib/redis --dbfilename dump.rdb
//	redis-server --port 6381 --replicaof "localhost 6380"
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	redisserver "github.com/raniellyferreira/redis-inmemory-server"
)

func main() {
	var (
		port       = flag.Int("port", 6379, "port to listen on")
		dir        = flag.String("dir", "/tmp", "directory holding the snapshot file")
		dbfilename = flag.String("dbfilename", "dump.rdb", "snapshot file name")
		replicaof  = flag.String("replicaof", "", "leader to replicate from, as \"host port\"")
	)
	flag.Parse()

	opts := []redisserver.Option{
		redisserver.WithPort(*port),
		redisserver.WithSnapshotDir(*dir),
		redisserver.WithSnapshotFilename(*dbfilename),
	}

	if *replicaof != "" {
		masterAddr, err := parseReplicaOf(*replicaof)
		if err != nil {
			log.Fatalf("invalid --replicaof: %v", err)
		}
		opts = append(opts, redisserver.WithMaster(masterAddr))
	}

	srv, err := redisserver.New(opts...)
	if err != nil {
		log.Fatalf("failed to create server: %v", err)
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received %s, shutting down", sig)
}

// parseReplicaOf parses the "host port" form used by the --replicaof flag
func parseReplicaOf(s string) (string, error) {
	parts := strings.Fields(s)
	if len(parts) != 2 {
		return "", fmt.Errorf("expected \"host port\", got %q", s)
	}
	return parts[0] + ":" + parts[1], nil
}
