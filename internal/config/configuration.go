package config

import (
	"errors"
	"os"
)

// Configuration is the flat runtime settings blob persisted at
// config.json, matching spec.md §6 exactly: ip/port/language/debug/
// is_server plus the peer's own account and key once registered.
type Configuration struct {
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	Language string `json:"language"`
	Debug    bool   `json:"debug"`
	IsServer bool   `json:"is_server"`
	Account  string `json:"account,omitempty"`
	Password string `json:"password,omitempty"`
}

// NewDefaultConfiguration returns the configuration written the first time
// a process starts with no config.json on disk, grounded on
// infrastructure/PAL/server_configuration/configuration.go's
// NewDefaultConfiguration.
func NewDefaultConfiguration(isServer bool) *Configuration {
	return &Configuration{
		IP:       "0.0.0.0",
		Port:     8765,
		Language: "en",
		Debug:    false,
		IsServer: isServer,
	}
}

// Registered reports whether this configuration carries an account assigned
// by a prior registration handshake.
func (c *Configuration) Registered() bool {
	return c.Account != "" && c.Password != ""
}

// Manager ties a Resolver, reader, and writer together with the
// stat-or-write-default flow of
// infrastructure/PAL/server_configuration/manager.go's Configuration().
type Manager struct {
	store    *jsonStore
	isServer bool
}

// NewManager builds a Manager backed by resolver. isServer seeds the
// default configuration's is_server flag the first time config.json is
// created.
func NewManager(resolver Resolver, isServer bool) *Manager {
	return &Manager{store: newJSONStore(resolver), isServer: isServer}
}

// Configuration reads config.json, writing the default configuration first
// if the file does not yet exist.
func (m *Manager) Configuration() (*Configuration, error) {
	var cfg Configuration
	if err := m.store.read(&cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			def := NewDefaultConfiguration(m.isServer)
			if writeErr := m.store.write(def); writeErr != nil {
				return nil, writeErr
			}
			return def, nil
		}
		return nil, err
	}
	return &cfg, nil
}

// SetAccount persists the (ServerId, Key) pair returned by a successful
// registration, so subsequent restarts log in instead of re-registering.
func (m *Manager) SetAccount(account, password string) error {
	cfg, err := m.Configuration()
	if err != nil {
		return err
	}
	cfg.Account = account
	cfg.Password = password
	return m.store.write(cfg)
}

// Path exposes the resolved config.json location for logging/diagnostics.
func (m *Manager) Path() (string, error) {
	return m.store.path()
}
