package replication_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
	"github.com/raniellyferreira/redis-inmemory-server/replication"
	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

// testSnapshot builds a snapshot blob with a single string entry
func testSnapshot(key, value string) []byte {
	var b []byte
	b = append(b, "REDIS0011"...)
	b = append(b, 0xFE, 0x00)
	b = append(b, 0x00)
	b = append(b, byte(len(key)))
	b = append(b, key...)
	b = append(b, byte(len(value)))
	b = append(b, value...)
	b = append(b, 0xFF)
	b = append(b, make([]byte, 8)...)
	return b
}

// serveLeaderSession accepts one follower connection and walks it through
// a full resync shipping the given snapshot payload. The connection is
// held open afterwards until the listener closes.
func serveLeaderSession(t *testing.T, ln net.Listener, payload []byte) {
	t.Helper()

	conn, err := ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	reader := protocol.NewReader(conn)
	writer := protocol.NewWriter(conn)

	replies := []string{"PONG", "OK", "OK", "FULLRESYNC " + testReplID + " 0"}
	for _, reply := range replies {
		if _, err := reader.ReadNext(); err != nil {
			return
		}
		writer.WriteSimpleString(reply)
		writer.Flush()
	}

	writer.WriteSyncPayload(payload)
	writer.Flush()

	// Stay attached; the follower drains this connection.
	buf := make([]byte, 1)
	conn.Read(buf)
}

func TestClientFullSync(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go serveLeaderSession(t, ln, testSnapshot("foo", "bar"))

	store := storage.NewMemory()
	defer store.Close()

	// The follower holds stale data that the resync must replace.
	store.Set("stale", []byte("old"), nil)

	client := replication.NewClient(ln.Addr().String(), 6380, store)
	defer client.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := client.WaitForSync(ctx); err != nil {
		t.Fatalf("WaitForSync() error = %v", err)
	}

	value, exists := store.Get("foo")
	if !exists || string(value) != "bar" {
		t.Errorf("Get(foo) = %q, %v; want bar, true", value, exists)
	}
	if _, exists := store.Get("stale"); exists {
		t.Error("stale pre-sync key survived the full resync")
	}

	stats := client.GetStats()
	if stats.FullSyncCount != 1 {
		t.Errorf("FullSyncCount = %d, want 1", stats.FullSyncCount)
	}
	if stats.MasterReplID != testReplID {
		t.Errorf("MasterReplID = %q, want %q", stats.MasterReplID, testReplID)
	}
}

func TestClientSyncCallback(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go serveLeaderSession(t, ln, testSnapshot("k", "v"))

	store := storage.NewMemory()
	defer store.Close()

	client := replication.NewClient(ln.Addr().String(), 6380, store)
	defer client.Stop()

	called := make(chan struct{})
	client.OnSyncComplete(func() {
		close(called)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case <-called:
	case <-ctx.Done():
		t.Fatal("sync callback never fired")
	}
}

func TestClientGivesUpAfterRetries(t *testing.T) {
	// Nothing listens here; every session fails to dial.
	store := storage.NewMemory()
	defer store.Close()

	store.Set("local", []byte("data"), nil)

	client := replication.NewClient("127.0.0.1:1", 6380, store)
	client.SetConnectTimeout(50 * time.Millisecond)
	client.SetRetryPolicy(2, 10*time.Millisecond)
	defer client.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// WaitForSync must fail once the client has given up instead of
	// blocking forever.
	if err := client.WaitForSync(ctx); err == nil {
		t.Fatal("WaitForSync() succeeded with no leader")
	}

	// The local store keeps serving.
	if _, exists := store.Get("local"); !exists {
		t.Error("local data lost after replication gave up")
	}
}

func TestClientStopIdempotent(t *testing.T) {
	store := storage.NewMemory()
	defer store.Close()

	client := replication.NewClient("127.0.0.1:1", 6380, store)
	client.SetConnectTimeout(50 * time.Millisecond)
	client.SetRetryPolicy(1, 10*time.Millisecond)

	ctx := context.Background()
	if err := client.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := client.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := client.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
}
