package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"hubcore/domain"
	"hubcore/internal/crypto"
)

// Mode distinguishes broker-side sid/fan-out rules from peer-side ones
// (spec.md §4.2's "if the caller is the broker" branch).
type Mode int

const (
	ModePeer Mode = iota
	ModeBroker
)

// Allocator implements spec.md §4.2's allocate/history_from/record_recv
// operations. One Allocator is owned per endpoint (broker or peer) and must
// only be touched from the owning event loop goroutine.
type Allocator struct {
	mode Mode
	sent *Store
	recv *Store
}

// NewAllocator constructs an Allocator for the given endpoint mode.
func NewAllocator(mode Mode) *Allocator {
	return &Allocator{mode: mode, sent: NewStore(), recv: NewStore()}
}

// Connected peers, resolved by the caller, are needed to fan a broadcast out
// — the allocator itself has no notion of "who is connected".
type Destinations interface {
	// ConnectedServerIDs returns every currently connected peer id, used to
	// resolve to.ServerID == domain.AllServerID.
	ConnectedServerIDs() []string
}

// Allocate resolves one or more destination packets for (typ, to, from,
// payload), assigning and storing sids per the rules in spec.md §4.2.
func (a *Allocator) Allocate(typ domain.PacketType, to, from domain.Address, payload any, dest Destinations, exclude map[string]struct{}) ([]domain.Packet, error) {
	data, err := buildData(payload)
	if err != nil {
		return nil, err
	}

	if typ.Unsequenced() {
		return []domain.Packet{{
			Sid:  -1,
			Type: typ,
			To:   to,
			From: from,
			Data: data,
		}}, nil
	}

	// Register-family packets are exchanged before either side has an
	// account to key a history channel by, so they always use sid 0 and
	// are never stored (spec.md §3: "Handshake packets before an account
	// is assigned use sid 0"). Login and everything after rides the real,
	// numbered channel even though its destination may still read "-----".
	if typ.Category == domain.TypeRegister.Category {
		return []domain.Packet{{Sid: 0, Type: typ, To: to, From: from, Data: data}}, nil
	}

	if to.ServerID == domain.AllServerID && a.mode == ModeBroker {
		if dest == nil {
			return nil, fmt.Errorf("allocate: broadcast requires a Destinations resolver")
		}
		var out []domain.Packet
		for _, id := range dest.ConnectedServerIDs() {
			if _, skip := exclude[id]; skip {
				continue
			}
			h := a.sent.For(id)
			sid := h.Len() + 1
			p := domain.Packet{
				Sid:  sid,
				Type: typ,
				To:   domain.Address{ServerID: id, PluginID: to.PluginID},
				From: from,
				Data: data,
			}
			h.Append(p)
			out = append(out, p)
		}
		return out, nil
	}

	channel := to.ServerID
	if a.mode == ModePeer {
		channel = domain.BrokerServerID
	}
	h := a.sent.For(channel)
	sid := h.Len() + 1
	p := domain.Packet{Sid: sid, Type: typ, To: to, From: from, Data: data}
	h.Append(p)
	return []domain.Packet{p}, nil
}

// RecordRecv appends an inbound packet to the receive-side history for
// later replay, subject to the same category rule as Allocate. It reports
// false (and logs nothing itself; logging is left to the caller) when the
// packet is a duplicate-sid that must be ignored per spec.md §4.2's
// tie-break rule.
func (a *Allocator) RecordRecv(serverID string, p domain.Packet) bool {
	if p.Type.Unsequenced() || p.Sid <= 0 {
		return true
	}
	h := a.recv.For(serverID)
	if h.Len() > 0 && h.packets[h.Len()-1].Sid == p.Sid {
		return false
	}
	h.Append(p)
	return true
}

// HistoryFrom returns every packet sent to serverID strictly after sinceSid,
// for replay on ping (spec.md's history_from).
func (a *Allocator) HistoryFrom(serverID string, sinceSid int) []domain.Packet {
	return a.sent.For(serverID).Since(sinceSid)
}

// SentHistory exposes the send-side Store for disconnect cleanup.
func (a *Allocator) SentHistory() *Store { return a.sent }

// RecvHistory exposes the receive-side Store for duplicate-login trimming
// (spec.md §4.5: "deletes the most recent two receive-history entries").
func (a *Allocator) RecvHistory() *Store { return a.recv }

func buildData(payload any) (domain.Data, error) {
	if payload == nil {
		return domain.Data{Empty: true}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return domain.Data{}, fmt.Errorf("marshal payload: %w", err)
	}
	return domain.Data{
		Payload:   raw,
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
		Checksum:  crypto.MD5Hex(raw),
	}, nil
}
