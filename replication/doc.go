// Package replication implements the leader/follower replication pieces
// of the server: the role and replication identity reported via INFO, the
// follower-side handshake state machine and the follower client that
// drives a full resync against the configured leader.
//
// The handshake is a strict four-step negotiation over one connection:
//
//	PING                          -> +PONG
//	REPLCONF listening-port <p>   -> +OK
//	REPLCONF capa psync2          -> +OK
//	PSYNC ? -1                    -> +FULLRESYNC <replid> <offset>
//
// followed by a raw length-prefixed snapshot payload. Each step consumes
// exactly one reply and only advances on the reply it expects, so replies
// that arrive concatenated in a single read cannot skip a step. Every
// step is bounded by a read deadline; a silent leader fails the handshake
// instead of hanging it.
package replication
