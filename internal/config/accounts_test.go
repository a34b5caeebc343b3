package config

import "testing"

func TestAccountStore_Register_GeneratesUniqueIDs(t *testing.T) {
	dir := t.TempDir()
	store, err := NewAccountStore(NewDefaultResolver(dir, "account.json"))
	if err != nil {
		t.Fatalf("NewAccountStore() error = %v", err)
	}

	seen := map[string]struct{}{}
	for i := 0; i < 20; i++ {
		acc, regErr := store.Register()
		if regErr != nil {
			t.Fatalf("Register() error = %v", regErr)
		}
		if _, dup := seen[acc.ServerID]; dup {
			t.Fatalf("Register() produced duplicate id %q", acc.ServerID)
		}
		seen[acc.ServerID] = struct{}{}
		if len(acc.ServerID) != 5 {
			t.Errorf("Register() id %q has length %d, want 5", acc.ServerID, len(acc.ServerID))
		}
	}
}

func TestAccountStore_Register_PersistsAndSurvivesReload(t *testing.T) {
	dir := t.TempDir()
	resolver := NewDefaultResolver(dir, "account.json")

	store, err := NewAccountStore(resolver)
	if err != nil {
		t.Fatalf("NewAccountStore() error = %v", err)
	}
	acc, regErr := store.Register()
	if regErr != nil {
		t.Fatalf("Register() error = %v", regErr)
	}

	reloaded, reloadErr := NewAccountStore(resolver)
	if reloadErr != nil {
		t.Fatalf("NewAccountStore() reload error = %v", reloadErr)
	}
	key, ok := reloaded.Lookup(acc.ServerID)
	if !ok {
		t.Fatalf("Lookup(%q) not found after reload", acc.ServerID)
	}
	if key != acc.Key {
		t.Errorf("Lookup(%q) = %q, want %q", acc.ServerID, key, acc.Key)
	}
}

func TestAccountStore_Lookup_UnknownReturnsFalse(t *testing.T) {
	dir := t.TempDir()
	store, err := NewAccountStore(NewDefaultResolver(dir, "account.json"))
	if err != nil {
		t.Fatalf("NewAccountStore() error = %v", err)
	}
	if _, ok := store.Lookup("ZZZZZ"); ok {
		t.Errorf("Lookup() of unknown id = true, want false")
	}
}
