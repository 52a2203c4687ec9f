package store

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned by operations on a store that has been closed.
	ErrClosed = errors.New("store is closed")
)

// StateStore is the durable key-value contract for a single supervised
// container. Writes must be durable before the call returns; a freshly
// restarted supervisor reads the same values back with no in-memory context.
type StateStore interface {
	// Get returns the value for key. The second return is false when the
	// key has never been written (or was deleted).
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	// DeleteAll removes every key owned by this container identity.
	DeleteAll(ctx context.Context) error
}

// DB owns the backing storage and hands out container-scoped views of it.
// The daemon opens one DB and closes it on shutdown; supervisors only ever
// see their own scope.
type DB interface {
	Scope(containerID string) StateStore
	Close() error
}

// Config holds store configuration.
type Config struct {
	Type string // "sqlite" or "memory"
	Path string // database file, sqlite only
}

// Open creates a store backend based on configuration.
func Open(cfg Config) (DB, error) {
	switch cfg.Type {
	case "sqlite", "":
		path := cfg.Path
		if path == "" {
			path = "warden.db"
		}
		return OpenSQLite(path)
	case "memory":
		return NewMemoryDB(), nil
	default:
		return nil, errors.New("unsupported store type: " + cfg.Type)
	}
}
