package replication_test

import (
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
	"github.com/raniellyferreira/redis-inmemory-server/replication"
)

const testReplID = "8371b4fb1155b71f4a04d3e1bc3e18c4a990aeeb"

// scriptedLeader runs the master side of a handshake on conn, collecting
// each command the follower sends and answering with the scripted reply.
func scriptedLeader(t *testing.T, conn net.Conn, replies []string, got *[]string) {
	t.Helper()

	reader := protocol.NewReader(conn)
	writer := protocol.NewWriter(conn)

	for _, reply := range replies {
		value, err := reader.ReadNext()
		if err != nil {
			return
		}
		cmd, err := protocol.ParseCommand(value)
		if err != nil {
			return
		}
		*got = append(*got, cmd.String())

		writer.WriteSimpleString(reply)
		writer.Flush()
	}
}

func TestHandshakeSuccess(t *testing.T) {
	client, leader := net.Pipe()
	defer client.Close()
	defer leader.Close()

	var got []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		scriptedLeader(t, leader, []string{
			"PONG",
			"OK",
			"OK",
			"FULLRESYNC " + testReplID + " 0",
		}, &got)
	}()

	hs := replication.NewHandshake(client, 6380)
	replID, offset, err := hs.Run()
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	<-done

	if replID != testReplID {
		t.Errorf("replID = %q, want %q", replID, testReplID)
	}
	if offset != 0 {
		t.Errorf("offset = %d, want 0", offset)
	}

	want := []string{
		"PING ",
		"REPLCONF listening-port 6380",
		"REPLCONF capa psync2",
		"PSYNC ? -1",
	}
	if len(got) != len(want) {
		t.Fatalf("leader saw %d commands, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if strings.TrimSpace(got[i]) != strings.TrimSpace(want[i]) {
			t.Errorf("command[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestHandshakeCombinedReplies(t *testing.T) {
	// All four replies arrive in one write after the first command. The
	// follower must still consume them one frame per step and send every
	// command in order.
	client, leader := net.Pipe()
	defer client.Close()
	defer leader.Close()

	var got []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		reader := protocol.NewReader(leader)
		writer := protocol.NewWriter(leader)

		value, err := reader.ReadNext()
		if err != nil {
			return
		}
		cmd, _ := protocol.ParseCommand(value)
		got = append(got, cmd.Name)

		writer.WriteSimpleString("PONG")
		writer.WriteSimpleString("OK")
		writer.WriteSimpleString("OK")
		writer.WriteSimpleString("FULLRESYNC " + testReplID + " 0")
		writer.Flush()

		for i := 0; i < 3; i++ {
			value, err := reader.ReadNext()
			if err != nil {
				return
			}
			cmd, _ := protocol.ParseCommand(value)
			got = append(got, cmd.Name)
		}
	}()

	hs := replication.NewHandshake(client, 6380)
	replID, _, err := hs.Run()
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	<-done

	if replID != testReplID {
		t.Errorf("replID = %q, want %q", replID, testReplID)
	}

	want := []string{"PING", "REPLCONF", "REPLCONF", "PSYNC"}
	if len(got) != len(want) {
		t.Fatalf("leader saw commands %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("command[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestHandshakeUnexpectedReply(t *testing.T) {
	tests := []struct {
		name     string
		replies  []string
		wantStep string
	}{
		{
			name:     "wrong ping reply",
			replies:  []string{"OK"},
			wantStep: "await-pong",
		},
		{
			name:     "wrong port ack",
			replies:  []string{"PONG", "NOPE"},
			wantStep: "await-port-ack",
		},
		{
			name:     "wrong capa ack",
			replies:  []string{"PONG", "OK", "NOPE"},
			wantStep: "await-capa-ack",
		},
		{
			name:     "short replication id",
			replies:  []string{"PONG", "OK", "OK", "FULLRESYNC abc 0"},
			wantStep: "await-fullresync",
		},
		{
			name:     "non-numeric offset",
			replies:  []string{"PONG", "OK", "OK", "FULLRESYNC " + testReplID + " x"},
			wantStep: "await-fullresync",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, leader := net.Pipe()
			defer client.Close()
			defer leader.Close()

			var got []string
			go scriptedLeader(t, leader, tt.replies, &got)

			hs := replication.NewHandshake(client, 6380)
			hs.SetStepTimeout(time.Second)
			_, _, err := hs.Run()
			if err == nil {
				t.Fatal("Run() succeeded, want error")
			}

			var hsErr *replication.HandshakeError
			if !errors.As(err, &hsErr) {
				t.Fatalf("error type = %T, want *HandshakeError", err)
			}
			if hsErr.Step != tt.wantStep {
				t.Errorf("Step = %q, want %q", hsErr.Step, tt.wantStep)
			}
		})
	}
}

func TestHandshakeStepTimeout(t *testing.T) {
	client, leader := net.Pipe()
	defer client.Close()
	defer leader.Close()

	// Leader consumes the PING but never answers.
	go func() {
		reader := protocol.NewReader(leader)
		reader.ReadNext()
	}()

	hs := replication.NewHandshake(client, 6380)
	hs.SetStepTimeout(50 * time.Millisecond)

	start := time.Now()
	_, _, err := hs.Run()
	if err == nil {
		t.Fatal("Run() succeeded, want timeout error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Run() took %v, deadline did not fire", elapsed)
	}

	var hsErr *replication.HandshakeError
	if !errors.As(err, &hsErr) {
		t.Fatalf("error type = %T, want *HandshakeError", err)
	}
	if hsErr.Step != "await-pong" {
		t.Errorf("Step = %q, want await-pong", hsErr.Step)
	}
}

func TestNewStateReplID(t *testing.T) {
	state := replication.NewState(replication.RoleMaster)

	if len(state.MasterReplID) != 40 {
		t.Errorf("replication id length = %d, want 40", len(state.MasterReplID))
	}
	for _, ch := range state.MasterReplID {
		if !strings.ContainsRune("0123456789abcdef", ch) {
			t.Errorf("replication id contains non-hex character %q", ch)
		}
	}

	other := replication.NewState(replication.RoleMaster)
	if other.MasterReplID == state.MasterReplID {
		t.Error("two servers generated the same replication id")
	}
}

func TestInfoReplication(t *testing.T) {
	state := replication.State{
		Role:             replication.RoleSlave,
		MasterReplID:     testReplID,
		MasterReplOffset: 0,
	}

	info := state.InfoReplication()
	for _, want := range []string{
		"role:slave",
		"master_replid:" + testReplID,
		"master_repl_offset:0",
	} {
		if !strings.Contains(info, want) {
			t.Errorf("InfoReplication() = %q, missing %q", info, want)
		}
	}
}
