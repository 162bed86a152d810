package store

import (
	"context"
	"errors"

	"github.com/loykin/clogs/internal/model"
)

var (
	// ErrNotFound is returned when no row exists for the requested key.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned by Add when a row with the same key already exists.
	ErrDuplicate = errors.New("store: duplicate key")
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("store: session closed")
)

// Store persists telemetry entities. Work is done through sessions.
type Store interface {
	EnsureSchema(ctx context.Context) error
	Session() Session
	Ping(ctx context.Context) error
	Close() error
}

// Session is a unit of work against a Store. Writes become visible to other
// sessions on Commit. A session must not be used from several goroutines at
// once without external locking; Close rolls back anything uncommitted.
type Session interface {
	Get(ctx context.Context, t model.Type, id string) (model.Entity, error)
	All(ctx context.Context, t model.Type) ([]model.Entity, error)
	Find(ctx context.Context, q Query) ([]model.Entity, error)
	// Add inserts e. Serial entities with a zero id receive their id here.
	Add(ctx context.Context, e model.Entity) error
	// Merge inserts e or replaces the row that has the same key.
	Merge(ctx context.Context, e model.Entity) error
	Delete(ctx context.Context, e model.Entity) error
	Commit(ctx context.Context) error
	Rollback() error
	Close() error
}

func describe(t model.Type) (model.Descriptor, error) {
	d, ok := model.Describe(t)
	if !ok {
		return model.Descriptor{}, errors.New("store: unknown entity type " + t.String())
	}
	return d, nil
}

func validEntity(e model.Entity) (model.Descriptor, error) {
	if model.IsNil(e) {
		return model.Descriptor{}, errors.New("store: nil entity")
	}
	return describe(e.EntityType())
}
