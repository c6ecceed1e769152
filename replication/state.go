package replication

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Role identifies which side of replication this server plays. It is
// fixed at startup; there is no runtime promotion or demotion.
type Role string

const (
	RoleMaster Role = "master"
	RoleSlave  Role = "slave"
)

// State holds the replication identity a server reports via INFO
type State struct {
	Role             Role
	MasterReplID     string
	MasterReplOffset int64
}

// NewState creates the replication state for a server starting in the
// given role. The replication id is a fresh 40-character hex string; the
// offset stays zero since no incremental stream is produced.
func NewState(role Role) State {
	return State{
		Role:             role,
		MasterReplID:     generateReplID(),
		MasterReplOffset: 0,
	}
}

// InfoReplication renders the replication section of an INFO reply
func (s State) InfoReplication() string {
	return fmt.Sprintf("role:%s\nmaster_replid:%s\nmaster_repl_offset:%d",
		s.Role, s.MasterReplID, s.MasterReplOffset)
}

// generateReplID returns a random 40-character hex replication id
func generateReplID() string {
	id := make([]byte, 20)
	if _, err := rand.Read(id); err != nil {
		// crypto/rand never fails on supported platforms; a zero id is
		// still a valid 40-hex identity if it somehow does.
		return "0000000000000000000000000000000000000000"
	}
	return hex.EncodeToString(id)
}
