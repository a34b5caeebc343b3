package config

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"hubcore/domain"
	"hubcore/internal/crypto"
)

// AccountStore is the broker's append-only ServerId -> Key map, persisted
// as account.json (spec.md §3, §4.3). It is the only mutable piece of
// broker state that survives a restart; reads and writes are serialized by
// mu rather than requiring callers to route through the broker's event
// loop, since the store has no other shared state to race with.
type AccountStore struct {
	mu       sync.Mutex
	store    *jsonStore
	accounts map[string]string
}

// NewAccountStore loads account.json (treating a missing file as an empty
// map) through resolver.
func NewAccountStore(resolver Resolver) (*AccountStore, error) {
	s := &AccountStore{store: newJSONStore(resolver), accounts: map[string]string{}}
	if err := s.store.read(&s.accounts); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.accounts = map[string]string{}
			return s, nil
		}
		return nil, err
	}
	if s.accounts == nil {
		s.accounts = map[string]string{}
	}
	return s, nil
}

// Lookup returns the key for serverID and whether it is a known account.
func (s *AccountStore) Lookup(serverID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.accounts[serverID]
	return key, ok
}

// Register generates a fresh (ServerId, Key) pair, rejecting collisions
// against the current in-memory map, and appends it to the persisted map
// atomically (spec.md's register_new).
func (s *AccountStore) Register() (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	taken := make(map[string]struct{}, len(s.accounts))
	for id := range s.accounts {
		taken[id] = struct{}{}
	}
	id, idErr := domain.NewServerID(taken)
	if idErr != nil {
		return domain.Account{}, idErr
	}
	key, keyErr := crypto.GenerateKey()
	if keyErr != nil {
		return domain.Account{}, keyErr
	}

	next := make(map[string]string, len(s.accounts)+1)
	for k, v := range s.accounts {
		next[k] = v
	}
	next[id] = key
	if err := s.store.write(next); err != nil {
		return domain.Account{}, fmt.Errorf("persist new account: %w", err)
	}
	s.accounts = next
	return domain.Account{ServerID: id, Key: key}, nil
}

// Snapshot returns a copy of the current account map, for tests and
// diagnostics.
func (s *AccountStore) Snapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.accounts))
	for k, v := range s.accounts {
		out[k] = v
	}
	return out
}
