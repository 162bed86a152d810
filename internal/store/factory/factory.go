package factory

import (
	"errors"
	"strings"

	"github.com/loykin/clogs/internal/store"
	"github.com/loykin/clogs/internal/store/memory"
	pg "github.com/loykin/clogs/internal/store/postgres"
	sq "github.com/loykin/clogs/internal/store/sqlite"
)

// NewFromDSN selects a store implementation based on DSN.
// Supported:
//   - memory:   "memory://"
//   - sqlite:   "sqlite://<path>" or bare filepath (treated as sqlite)
//   - postgres: DSN starting with "postgres://" or "postgresql://"
func NewFromDSN(dsn string) (store.Store, error) {
	return New(store.Config{DSN: dsn})
}

// New is NewFromDSN with pool settings applied to SQL backends.
func New(cfg store.Config) (store.Store, error) {
	d := strings.TrimSpace(cfg.DSN)
	ld := strings.ToLower(d)
	if ld == "" {
		return nil, errors.New("empty DSN")
	}
	if strings.HasPrefix(ld, "memory://") {
		return memory.New(), nil
	}
	cfg.DSN = d
	if strings.HasPrefix(ld, "postgres://") || strings.HasPrefix(ld, "postgresql://") {
		return pg.Open(cfg)
	}
	if strings.HasPrefix(ld, "sqlite://") {
		cfg.DSN = d[len("sqlite://"):]
		return sq.Open(cfg)
	}
	// default to sqlite path
	return sq.Open(cfg)
}
