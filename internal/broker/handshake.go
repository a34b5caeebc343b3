package broker

import (
	"context"
	"encoding/json"

	"github.com/coder/websocket"

	"hubcore/domain"
	"hubcore/internal/wsconn"
)

// handleRegister allocates a fresh account for an unregistered client
// talking under the bootstrap key and hands it back encrypted under that
// same key (spec.md §4.3, §4.5 — the client has no account key to switch to
// until it has decrypted this very reply).
func (s *session) handleRegister(ctx context.Context, pkt domain.Packet) error {
	account, err := s.broker.accounts.Register()
	if err != nil {
		s.broker.logger.Printf("broker: register failed: %v", err)
		packets, allocErr := s.broker.alloc.Allocate(domain.TypeRegisterError, pkt.From, brokerAddr(), domain.ErrorPayload{Reason: "internal"}, nil, nil)
		if allocErr != nil {
			return allocErr
		}
		return s.broker.sendPacket(ctx, s.conn, s, domain.BrokerServerID, packets[0])
	}

	packets, err := s.broker.alloc.Allocate(domain.TypeRegistered, pkt.From, brokerAddr(), account, nil, nil)
	if err != nil {
		return err
	}
	return s.broker.sendPacket(ctx, s.conn, s, domain.BrokerServerID, packets[0])
}

// handleLogin authenticates a peer that has already decrypted successfully
// under its own account key (proven by decodeFrame's lookup), rejecting a
// second concurrent session for the same account (spec.md §4.5).
func (s *session) handleLogin(ctx context.Context, account string, pkt domain.Packet) error {
	if _, exists := s.broker.connFor(account); exists {
		packets, err := s.broker.alloc.Allocate(domain.TypeLoginError, pkt.From, brokerAddr(), domain.ErrorPayload{Reason: "already_logged_in"}, nil, nil)
		if err == nil {
			_ = s.broker.sendPacket(ctx, s.conn, s, account, packets[0])
		}
		// The attempted login (and whatever preceded it on this channel)
		// must not pollute the legitimate session's history.
		s.broker.alloc.RecvHistory().For(account).TrimLast(2)
		return closeWith(s.conn, websocket.StatusPolicyViolation, wsconn.ReasonAlreadyLoginIn)
	}

	var payload domain.LoginPayload
	if len(pkt.Data.Payload) > 0 {
		if err := json.Unmarshal(pkt.Data.Payload, &payload); err != nil {
			return closeWith(s.conn, websocket.StatusPolicyViolation, wsconn.ReasonBadFrame)
		}
	}

	pc := &peerConn{serverID: account, conn: s.conn, info: payload.Info}
	s.broker.addConn(pc)
	s.serverID = account
	s.pc = pc

	members := s.broker.ConnectedServerIDs()
	packets, err := s.broker.alloc.Allocate(domain.TypeLoggedIn, pkt.From, brokerAddr(), domain.LoggedInPayload{Members: members}, nil, nil)
	if err != nil {
		return err
	}
	if err := s.broker.sendPacket(ctx, s.conn, s, account, packets[0]); err != nil {
		return err
	}

	s.broker.broadcastMembershipChange(ctx, domain.TypeNewLogin, account)
	s.broker.plugins.OnConnected()
	s.broker.plugins.OnLoginSet(s.broker.ConnectedServerIDs())
	return nil
}

func (b *Broker) addConn(pc *peerConn) {
	b.mu.Lock()
	b.conns[pc.serverID] = pc
	b.mu.Unlock()
}
