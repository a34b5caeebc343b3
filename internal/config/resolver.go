// Package config implements the flat JSON-file configuration provider
// described in SPEC_FULL.md §4.8: a resolver that locates a file, a
// reader/writer pair, and a manager that ties them together with
// stat-or-write-default semantics. It is grounded on
// infrastructure/PAL/server_configuration/{resolver,reader,writer,manager}.go
// and infrastructure/PAL/client_configuration/* in the teacher repo.
package config

import (
	"os"
	"path/filepath"
)

// Resolver locates the on-disk path of a configuration file.
type Resolver interface {
	Resolve() (string, error)
}

// DefaultResolver resolves name under a base directory, defaulting to
// $XDG_CONFIG_HOME/hubcore (or ./hubcore if that is unset) when dir is
// empty — the teacher's resolver hardcodes an absolute path
// (infrastructure/PAL/server_configuration/resolver.go); this one is
// configurable because both a broker and a peer process share the same
// binary family and must not collide on one fixed path.
type DefaultResolver struct {
	dir  string
	name string
}

// NewDefaultResolver returns a Resolver for name inside dir. If dir is
// empty, it resolves lazily: $XDG_CONFIG_HOME/hubcore if set, otherwise
// "./hubcore".
func NewDefaultResolver(dir, name string) Resolver {
	return &DefaultResolver{dir: dir, name: name}
}

func (r *DefaultResolver) Resolve() (string, error) {
	dir := r.dir
	if dir == "" {
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			dir = filepath.Join(xdg, "hubcore")
		} else {
			dir = filepath.Join(".", "hubcore")
		}
	}
	return filepath.Join(dir, r.name), nil
}
