// Package protocol implements the packet model of spec.md §4.2: sid
// allocation, history storage, and replay. It is shared, unmodified,
// between the broker and the peer runtime — only the Mode differs.
package protocol

import "hubcore/domain"

// History is the ordered, append-only list of sequenced packets exchanged
// with a single remote party (spec.md's HistoryStore, one entry per
// ServerId).
type History struct {
	packets []domain.Packet
}

// Append records a packet that was stored by allocate (category not in
// {0, -1}).
func (h *History) Append(p domain.Packet) {
	h.packets = append(h.packets, p.Clone())
}

// Len reports how many packets are currently stored for this channel
// (TrimLast lowers it); the next allocated sid is Len()+1.
func (h *History) Len() int {
	return len(h.packets)
}

// Since returns every packet with sid strictly greater than sinceSid, in
// insertion order (spec.md's history_from).
func (h *History) Since(sinceSid int) []domain.Packet {
	out := make([]domain.Packet, 0, len(h.packets))
	for _, p := range h.packets {
		if p.Sid > sinceSid {
			out = append(out, p.Clone())
		}
	}
	return out
}

// TrimLast drops the n most recently appended entries. Used by the
// duplicate-login handler to undo the register/login attempt pair left by a
// rejected second session (spec.md §4.5, §9).
func (h *History) TrimLast(n int) {
	if n <= 0 {
		return
	}
	if n >= len(h.packets) {
		h.packets = h.packets[:0]
		return
	}
	h.packets = h.packets[:len(h.packets)-n]
}

// Store is a map[ServerId]*History: one history per connected peer (on the
// broker) or the single "-----" entry (on the peer).
type Store struct {
	histories map[string]*History
}

// NewStore returns an empty history store.
func NewStore() *Store {
	return &Store{histories: make(map[string]*History)}
}

// For returns (creating if absent) the history for serverID.
func (s *Store) For(serverID string) *History {
	h, ok := s.histories[serverID]
	if !ok {
		h = &History{}
		s.histories[serverID] = h
	}
	return h
}

// Has reports whether a history has ever been created for serverID, without
// creating one.
func (s *Store) Has(serverID string) bool {
	_, ok := s.histories[serverID]
	return ok
}

// Delete removes the entire history for serverID (spec.md's
// del_server_id, invoked when a peer disconnects).
func (s *Store) Delete(serverID string) {
	delete(s.histories, serverID)
}
