package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestManager_Configuration_WritesDefaultWhenMissing(t *testing.T) {
	dir := t.TempDir()
	resolver := NewDefaultResolver(dir, "config.json")
	m := NewManager(resolver, true)

	cfg, err := m.Configuration()
	if err != nil {
		t.Fatalf("Configuration() error = %v", err)
	}
	if !cfg.IsServer {
		t.Errorf("IsServer = false, want true")
	}
	if cfg.Registered() {
		t.Errorf("fresh configuration reports Registered() = true")
	}

	path, _ := resolver.Resolve()
	if _, statErr := os.Stat(path); statErr != nil {
		t.Fatalf("default config.json not written: stat error = %v", statErr)
	}
}

func TestManager_SetAccount_PersistsAcrossManagers(t *testing.T) {
	dir := t.TempDir()
	resolver := NewDefaultResolver(dir, "config.json")

	first := NewManager(resolver, false)
	if _, err := first.Configuration(); err != nil {
		t.Fatalf("Configuration() error = %v", err)
	}
	if err := first.SetAccount("A1b2C", "key-material"); err != nil {
		t.Fatalf("SetAccount() error = %v", err)
	}

	second := NewManager(resolver, false)
	cfg, err := second.Configuration()
	if err != nil {
		t.Fatalf("Configuration() error = %v", err)
	}
	if cfg.Account != "A1b2C" || cfg.Password != "key-material" {
		t.Errorf("Configuration() = %+v, want Account=A1b2C Password=key-material", cfg)
	}
	if !cfg.Registered() {
		t.Errorf("Registered() = false after SetAccount")
	}
}

func TestDefaultResolver_UsesDirWhenSet(t *testing.T) {
	resolver := NewDefaultResolver("/tmp/hubcore-test", "account.json")
	path, err := resolver.Resolve()
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if path != filepath.Join("/tmp/hubcore-test", "account.json") {
		t.Errorf("Resolve() = %q, want /tmp/hubcore-test/account.json", path)
	}
}
