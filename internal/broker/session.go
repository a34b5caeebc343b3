package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coder/websocket"

	"hubcore/domain"
	"hubcore/internal/wsconn"
)

// session is the per-connection handshake and dispatch state for one
// accepted WebSocket. It starts anonymous (serverID == "") and becomes a
// peerConn entry in the broker's ConnectionTable once login succeeds.
type session struct {
	broker   *Broker
	conn     *wsconn.Conn
	serverID string
	pc       *peerConn
	writeMu  sync.Mutex
}

// Lock/Unlock let session itself serve as the lockable passed to
// sendPacket. Once login succeeds, s.pc becomes the single source of truth
// for this socket's write lock (the resend timer also writes through pc),
// so session delegates to it instead of guarding with a second, independent
// mutex over the same connection.
func (s *session) Lock() {
	if s.pc != nil {
		s.pc.Lock()
		return
	}
	s.writeMu.Lock()
}

func (s *session) Unlock() {
	if s.pc != nil {
		s.pc.Unlock()
		return
	}
	s.writeMu.Unlock()
}

func (s *session) dispatch(ctx context.Context, account string, pkt domain.Packet) error {
	switch pkt.Type {
	case domain.TypeTestConnect:
		return s.broker.sendPacket(ctx, s.conn, s, account, domain.Packet{Type: domain.TypePong, Sid: -1, To: pkt.From, From: brokerAddr(), Data: domain.Data{Empty: true}})

	case domain.TypePing:
		return s.handlePing(ctx, account, pkt)

	case domain.TypeRegister:
		return s.handleRegister(ctx, pkt)

	case domain.TypeLogin:
		return s.handleLogin(ctx, account, pkt)

	case domain.TypeDataSend:
		return s.handleDataSend(ctx, pkt)

	case domain.TypeDataSendOK:
		s.broker.clearLastSent(s.serverID)
		return nil

	case domain.TypeDataError:
		return s.handleDataError(ctx, pkt)

	case domain.TypeFileBegin:
		return s.handleFileBegin(ctx, pkt)

	case domain.TypeFileChunk:
		return s.handleFileChunk(ctx, pkt)

	case domain.TypeFileEnd:
		return s.handleFileEnd(ctx, pkt)

	case domain.TypeFileError:
		return s.handleFileError(ctx, pkt)

	default:
		s.broker.logger.Printf("broker: ignoring unhandled packet type %v from %q", pkt.Type, account)
		return nil
	}
}

// handlePing replies with a pong and replays any send-history the peer
// missed since the sid it last acknowledged (spec.md §4.5's resume path).
func (s *session) handlePing(ctx context.Context, account string, pkt domain.Packet) error {
	if err := s.broker.sendPacket(ctx, s.conn, s, account, domain.Packet{
		Type: domain.TypePong, Sid: -1, To: pkt.From, From: brokerAddr(), Data: domain.Data{Empty: true},
	}); err != nil {
		return err
	}
	if s.serverID == "" {
		return nil
	}
	var since struct {
		SinceSid int `json:"since_sid"`
	}
	if len(pkt.Data.Payload) > 0 {
		_ = json.Unmarshal(pkt.Data.Payload, &since)
	}
	for _, p := range s.broker.alloc.HistoryFrom(s.serverID, since.SinceSid) {
		if err := s.broker.sendPacket(ctx, s.conn, s, s.serverID, p); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) teardown(ctx context.Context) {
	if s.serverID == "" {
		return
	}
	s.broker.removeConn(s.serverID)
	s.broker.logger.Printf("broker: %q disconnected", s.serverID)
	s.broker.broadcastMembershipChange(ctx, domain.TypeDelLogin, s.serverID)
	s.broker.plugins.OnDisconnected()
	s.broker.plugins.OnLogoutSet(s.broker.ConnectedServerIDs())
}

func brokerAddr() domain.Address {
	return domain.Address{ServerID: domain.BrokerServerID, PluginID: domain.SystemPluginID}
}

func (b *Broker) clearLastSent(serverID string) {
	b.mu.Lock()
	delete(b.lastSent, serverID)
	b.mu.Unlock()
}

func (b *Broker) removeConn(serverID string) {
	b.mu.Lock()
	delete(b.conns, serverID)
	delete(b.lastSent, serverID)
	b.mu.Unlock()
	b.alloc.SentHistory().Delete(serverID)
	b.alloc.RecvHistory().Delete(serverID)
}

func (b *Broker) connFor(serverID string) (*peerConn, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pc, ok := b.conns[serverID]
	return pc, ok
}

// broadcastMembershipChange sends a (3,2) new-login or (3,3) del-login
// packet to every other connected peer. New-login carries the subject's
// ServerInfo (spec.md §3) so the rest of the membership can display it;
// del-login has no live peerConn left to read it from, so it's omitted.
func (b *Broker) broadcastMembershipChange(ctx context.Context, typ domain.PacketType, subjectID string) {
	payload := domain.MembershipPayload{ServerID: subjectID}
	if typ == domain.TypeNewLogin {
		if pc, ok := b.connFor(subjectID); ok {
			payload.Info = pc.info
		}
	}
	packets, err := b.alloc.Allocate(typ, domain.Address{ServerID: domain.AllServerID, PluginID: domain.SystemPluginID}, brokerAddr(),
		payload, b, map[string]struct{}{subjectID: {}})
	if err != nil {
		b.logger.Printf("broker: allocate membership broadcast: %v", err)
		return
	}
	for _, p := range packets {
		pc, ok := b.connFor(p.To.ServerID)
		if !ok {
			continue
		}
		if err := b.sendPacket(ctx, pc.conn, pc, p.To.ServerID, p); err != nil {
			b.logger.Printf("broker: membership broadcast to %q failed: %v", p.To.ServerID, err)
		}
	}
}

func closeWith(conn *wsconn.Conn, code websocket.StatusCode, reason string) error {
	_ = conn.Close(code, reason)
	return fmt.Errorf("closed connection: %s", reason)
}
