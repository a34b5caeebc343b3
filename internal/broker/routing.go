package broker

import (
	"context"
	"encoding/json"

	"hubcore/domain"
	"hubcore/internal/crypto"
)

// handleDataSend verifies the payload checksum, routes the packet per
// spec.md §4.5's destination rules, and acknowledges the original sender
// (testable property: every accepted data-send eventually yields a
// data-sendok or a closed connection).
func (s *session) handleDataSend(ctx context.Context, pkt domain.Packet) error {
	if pkt.Data.Checksum != "" && pkt.Data.Checksum != crypto.MD5Hex(pkt.Data.Payload) {
		packets, err := s.broker.alloc.Allocate(domain.TypeDataError, pkt.From, brokerAddr(), domain.ErrorPayload{Reason: "checksum_mismatch"}, nil, nil)
		if err != nil {
			return err
		}
		return s.broker.sendPacket(ctx, s.conn, s, s.serverID, packets[0])
	}

	s.route(ctx, pkt)

	ok, err := s.broker.alloc.Allocate(domain.TypeDataSendOK, pkt.From, brokerAddr(), nil, nil, nil)
	if err != nil {
		return err
	}
	return s.broker.sendPacket(ctx, s.conn, s, s.serverID, ok[0])
}

// route forwards a checksum-valid data-send to its destination(s): the
// broker's own plugin dispatch for "-----" or "all" (which also fans out to
// every other connected peer), or a single ConnectionTable lookup for a
// named peer (spec.md §4.5's Routing rules).
func (s *session) route(ctx context.Context, pkt domain.Packet) {
	switch pkt.To.ServerID {
	case domain.BrokerServerID:
		s.broker.plugins.OnData(pkt.To.PluginID, pkt.From.ServerID, pkt.Data.Payload)

	case domain.AllServerID:
		s.broker.plugins.OnData(pkt.To.PluginID, pkt.From.ServerID, pkt.Data.Payload)
		packets, err := s.broker.alloc.Allocate(domain.TypeDataSend, pkt.To, pkt.From, json.RawMessage(pkt.Data.Payload), s.broker, map[string]struct{}{pkt.From.ServerID: {}})
		if err != nil {
			s.broker.logger.Printf("broker: broadcast data-send: %v", err)
			return
		}
		for _, out := range packets {
			s.broker.forwardAndTrack(ctx, out)
		}

	default:
		pc, ok := s.broker.connFor(pkt.To.ServerID)
		if !ok {
			s.broker.logger.Printf("broker: dropping data-send to unknown peer %q", pkt.To.ServerID)
			return
		}
		packets, err := s.broker.alloc.Allocate(domain.TypeDataSend, pkt.To, pkt.From, json.RawMessage(pkt.Data.Payload), nil, nil)
		if err != nil {
			s.broker.logger.Printf("broker: allocate forwarded data-send: %v", err)
			return
		}
		out := packets[0]
		if err := s.broker.sendPacket(ctx, pc.conn, pc, pkt.To.ServerID, out); err != nil {
			s.broker.logger.Printf("broker: forward to %q failed: %v", pkt.To.ServerID, err)
			return
		}
		s.broker.trackLastSent(pkt.To.ServerID, out)
	}
}

// forwardAndTrack sends one fanned-out broadcast copy to its recipient and
// records it for the resend timer.
func (b *Broker) forwardAndTrack(ctx context.Context, p domain.Packet) {
	pc, ok := b.connFor(p.To.ServerID)
	if !ok {
		return
	}
	if err := b.sendPacket(ctx, pc.conn, pc, p.To.ServerID, p); err != nil {
		b.logger.Printf("broker: broadcast forward to %q failed: %v", p.To.ServerID, err)
		return
	}
	b.trackLastSent(p.To.ServerID, p)
}

func (b *Broker) trackLastSent(serverID string, p domain.Packet) {
	b.mu.Lock()
	b.lastSent[serverID] = p
	b.mu.Unlock()
}

// handleDataError triggers an immediate retransmit of the last packet sent
// to this peer, rather than waiting for the 30-second resend timer
// (spec.md §4.6).
func (s *session) handleDataError(ctx context.Context, pkt domain.Packet) error {
	s.broker.mu.Lock()
	last, ok := s.broker.lastSent[s.serverID]
	s.broker.mu.Unlock()
	if !ok {
		return nil
	}
	return s.broker.sendPacket(ctx, s.conn, s, s.serverID, last)
}
