package broker

import (
	"sync"

	"hubcore/domain"
	"hubcore/internal/fileshare"
	"hubcore/internal/wsconn"
)

// peerConn is a logged-in peer's live connection and session state, the
// broker's per-entry ConnectionTable value (spec.md §3).
type peerConn struct {
	serverID string
	conn     *wsconn.Conn
	info     domain.ServerInfo

	writeMu sync.Mutex

	// inbound file transfer currently being relayed or terminated through
	// this connection, if any.
	fileMu  sync.Mutex
	inFile  *fileshare.Sink
	inMeta  domain.FileBeginPayload
	relayTo string // destination ServerId, set when forwarding to another peer
}

func (c *peerConn) Lock()   { c.writeMu.Lock() }
func (c *peerConn) Unlock() { c.writeMu.Unlock() }
