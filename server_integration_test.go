package redisserver

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func startTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()

	opts = append([]Option{WithListenAddr("127.0.0.1:0")}, opts...)
	srv, err := New(opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { srv.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatal(err)
	}

	return srv
}

func newTestClient(t *testing.T, srv *Server) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: srv.Addr(),
	})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestServerPing(t *testing.T) {
	srv := startTestServer(t)
	client := newTestClient(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	pong, err := client.Ping(ctx).Result()
	if err != nil {
		t.Fatal(err)
	}
	if pong != "PONG" {
		t.Errorf("expected PONG, got %s", pong)
	}
}

func TestSetGetWithExpiry(t *testing.T) {
	srv := startTestServer(t)
	client := newTestClient(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := client.Set(ctx, "volatile", "v", 100*time.Millisecond).Err(); err != nil {
		t.Fatal(err)
	}

	value, err := client.Get(ctx, "volatile").Result()
	if err != nil {
		t.Fatal(err)
	}
	if value != "v" {
		t.Errorf("Get = %q, want v", value)
	}

	time.Sleep(150 * time.Millisecond)

	if _, err := client.Get(ctx, "volatile").Result(); err != redis.Nil {
		t.Errorf("Get after expiry = %v, want redis.Nil", err)
	}

	keys, err := client.Keys(ctx, "*").Result()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Errorf("Keys after expiry = %v, want none", keys)
	}
}

func TestInfoReportsRole(t *testing.T) {
	srv := startTestServer(t)
	client := newTestClient(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	info, err := client.Info(ctx, "replication").Result()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(info, "role:master") {
		t.Errorf("INFO = %q, missing role:master", info)
	}
	if !strings.Contains(info, "master_replid:") {
		t.Errorf("INFO = %q, missing master_replid", info)
	}
}

func TestSnapshotStartup(t *testing.T) {
	dir := t.TempDir()

	// Minimal snapshot with one entry foo=bar.
	var data []byte
	data = append(data, "REDIS0011"...)
	data = append(data, 0xFE, 0x00)
	data = append(data, 0x00, 0x03)
	data = append(data, "foo"...)
	data = append(data, 0x03)
	data = append(data, "bar"...)
	data = append(data, 0xFF)
	data = append(data, make([]byte, 8)...)

	if err := os.WriteFile(filepath.Join(dir, "dump.rdb"), data, 0o644); err != nil {
		t.Fatal(err)
	}

	srv := startTestServer(t,
		WithSnapshotDir(dir),
		WithSnapshotFilename("dump.rdb"),
	)
	client := newTestClient(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	value, err := client.Get(ctx, "foo").Result()
	if err != nil {
		t.Fatal(err)
	}
	if value != "bar" {
		t.Errorf("Get(foo) = %q, want bar", value)
	}
}

func TestCorruptSnapshotStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "dump.rdb"), []byte("not a snapshot"), 0o644); err != nil {
		t.Fatal(err)
	}

	srv := startTestServer(t, WithSnapshotDir(dir))
	client := newTestClient(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	keys, err := client.Keys(ctx, "*").Result()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Errorf("Keys = %v, want empty store", keys)
	}
}

func TestMissingSnapshotStartsEmpty(t *testing.T) {
	srv := startTestServer(t, WithSnapshotDir(t.TempDir()))
	client := newTestClient(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatal(err)
	}
}

func TestReplicaSyncsFromLeader(t *testing.T) {
	leader := startTestServer(t)

	follower := startTestServer(t,
		WithMaster(leader.Addr()),
		WithConnectTimeout(time.Second),
		WithHandshakeStepTimeout(time.Second),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := follower.WaitForSync(ctx); err != nil {
		t.Fatalf("WaitForSync() error = %v", err)
	}

	if follower.Role() != "slave" {
		t.Errorf("follower Role() = %q, want slave", follower.Role())
	}
	if leader.Role() != "master" {
		t.Errorf("leader Role() = %q, want master", leader.Role())
	}

	client := newTestClient(t, follower)
	info, err := client.Info(ctx, "replication").Result()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(info, "role:slave") {
		t.Errorf("follower INFO = %q, missing role:slave", info)
	}

	stats, err := follower.ReplicationStats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.FullSyncCount != 1 {
		t.Errorf("FullSyncCount = %d, want 1", stats.FullSyncCount)
	}
}

func TestWaitForSyncOnLeaderReturnsImmediately(t *testing.T) {
	srv := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := srv.WaitForSync(ctx); err != nil {
		t.Errorf("WaitForSync() on leader = %v, want nil", err)
	}
}

func TestInvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
	}{
		{"empty listen addr", WithListenAddr("")},
		{"negative port", WithPort(-1)},
		{"empty master", WithMaster("")},
		{"zero connect timeout", WithConnectTimeout(0)},
		{"nil logger", WithLogger(nil)},
		{"zero retries", WithRetryPolicy(0, time.Second)},
		{"zero shards", WithShardCount(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opt); err == nil {
				t.Error("New() succeeded with invalid option")
			}
		})
	}
}

func TestCloseIdempotent(t *testing.T) {
	srv := startTestServer(t)

	if err := srv.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}

func TestStorageDirectAccess(t *testing.T) {
	srv := startTestServer(t)

	if err := srv.Storage().Set("direct", []byte("value"), nil); err != nil {
		t.Fatal(err)
	}

	client := newTestClient(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	value, err := client.Get(ctx, "direct").Result()
	if err != nil {
		t.Fatal(err)
	}
	if value != "value" {
		t.Errorf("Get = %q, want value", value)
	}
}
