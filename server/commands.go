package server

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
	"github.com/raniellyferreira/redis-inmemory-server/snapshot"
)

// executeCommand executes a Redis command
func (c *Client) executeCommand(cmd *protocol.Command) {
	c.server.mu.Lock()
	c.server.commandCount++
	c.server.mu.Unlock()

	switch cmd.Name {
	case "PING":
		c.handlePing(cmd)
	case "ECHO":
		c.handleEcho(cmd)
	case "SET":
		c.handleSet(cmd)
	case "GET":
		c.handleGet(cmd)
	case "KEYS":
		c.handleKeys(cmd)
	case "CONFIG":
		c.handleConfig(cmd)
	case "INFO":
		c.handleInfo(cmd)
	case "REPLCONF":
		// Courtesy ack for any REPLCONF the replica sends.
		c.writeString("OK")
	case "PSYNC":
		c.handlePsync(cmd)
	case "QUIT":
		c.writeString("OK")
		c.Close()
	default:
		c.writeError(fmt.Sprintf("ERR unknown command '%s'", cmd.Name))
	}
}

// Command handlers

func (c *Client) handlePing(cmd *protocol.Command) {
	if len(cmd.Args) == 0 {
		c.writeString("PONG")
	} else if len(cmd.Args) == 1 {
		c.writeBulkString(cmd.Args[0])
	} else {
		c.writeError("ERR wrong number of arguments for 'ping' command")
	}
}

func (c *Client) handleEcho(cmd *protocol.Command) {
	if len(cmd.Args) != 1 {
		c.writeError("ERR wrong number of arguments for 'echo' command")
		return
	}

	c.writeBulkString(cmd.Args[0])
}

func (c *Client) handleSet(cmd *protocol.Command) {
	if len(cmd.Args) < 2 {
		c.writeError("ERR wrong number of arguments for 'set' command")
		return
	}

	key := string(cmd.Args[0])
	value := cmd.Args[1]

	var expiry *time.Time
	for i := 2; i < len(cmd.Args); i++ {
		switch strings.ToUpper(string(cmd.Args[i])) {
		case "PX":
			if i+1 >= len(cmd.Args) {
				c.writeError("ERR syntax error")
				return
			}
			ms, err := strconv.ParseInt(string(cmd.Args[i+1]), 10, 64)
			if err != nil || ms <= 0 {
				c.writeError("ERR value is not an integer or out of range")
				return
			}
			t := time.Now().Add(time.Duration(ms) * time.Millisecond)
			expiry = &t
			i++
		default:
			c.writeError("ERR syntax error")
			return
		}
	}

	if err := c.server.storage.Set(key, value, expiry); err != nil {
		c.writeError(fmt.Sprintf("ERR %v", err))
		return
	}

	c.writeString("OK")
}

func (c *Client) handleGet(cmd *protocol.Command) {
	if len(cmd.Args) != 1 {
		c.writeError("ERR wrong number of arguments for 'get' command")
		return
	}

	value, exists := c.server.storage.Get(string(cmd.Args[0]))
	if !exists {
		c.writeNull()
	} else {
		c.writeBulkString(value)
	}
}

func (c *Client) handleKeys(cmd *protocol.Command) {
	if len(cmd.Args) != 1 {
		c.writeError("ERR wrong number of arguments for 'keys' command")
		return
	}

	pattern := string(cmd.Args[0])
	if pattern != "*" {
		c.writeError(fmt.Sprintf("ERR unsupported pattern '%s', only '*' is supported", pattern))
		return
	}

	c.writeStringArray(c.server.storage.Keys(pattern))
}

func (c *Client) handleConfig(cmd *protocol.Command) {
	if len(cmd.Args) != 2 || strings.ToUpper(string(cmd.Args[0])) != "GET" {
		c.writeError("ERR unknown CONFIG subcommand or wrong number of arguments")
		return
	}

	param := strings.ToLower(string(cmd.Args[1]))
	switch param {
	case "dir":
		c.writeStringArray([]string{param, c.server.cfg.Dir})
	case "dbfilename":
		c.writeStringArray([]string{param, c.server.cfg.DBFilename})
	default:
		c.writeNull()
	}
}

func (c *Client) handleInfo(cmd *protocol.Command) {
	if len(cmd.Args) > 1 {
		c.writeError("ERR wrong number of arguments for 'info' command")
		return
	}

	if len(cmd.Args) == 1 && strings.ToLower(string(cmd.Args[0])) != "replication" {
		c.writeError(fmt.Sprintf("ERR unsupported INFO section '%s'", cmd.Args[0]))
		return
	}

	c.writeBulkString([]byte(c.server.state.InfoReplication()))
}

// handlePsync performs the master side of a full resync: the FULLRESYNC
// line followed by a raw length-prefixed snapshot payload. The payload is
// not a framed bulk string; after it the connection simply stays open.
func (c *Client) handlePsync(cmd *protocol.Command) {
	reply := fmt.Sprintf("FULLRESYNC %s %d",
		c.server.state.MasterReplID, c.server.state.MasterReplOffset)

	c.writer.WriteSimpleString(reply)
	c.writer.WriteSyncPayload(snapshot.Empty())
	c.writer.Flush()
}
