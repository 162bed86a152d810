package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/clogs/internal/model"
	"github.com/loykin/clogs/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// The DSN is a filesystem path to the database file. Use ":memory:" for an
// in-memory database; it is pinned to a single connection so every session
// sees the same data.
type DB struct {
	*store.SQLStore
}

// New opens a SQLite database at path with default pool settings.
func New(path string) (*DB, error) {
	return Open(store.Config{DSN: path})
}

// Open opens a SQLite database described by cfg.
func Open(cfg store.Config) (*DB, error) {
	p := strings.TrimSpace(cfg.DSN)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	memory := p == ":memory:" || strings.Contains(p, "mode=memory")
	d, err := sql.Open("sqlite", withPragmas(p, memory))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	switch {
	case memory:
		d.SetMaxOpenConns(1)
	case cfg.MaxOpenConns > 0:
		d.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		d.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 && !memory {
		d.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return &DB{SQLStore: store.NewSQLStore(d, Dialect{})}, nil
}

// withPragmas adds a busy timeout, WAL journaling and immediate write locks
// so concurrent sessions queue instead of failing with SQLITE_BUSY.
func withPragmas(path string, memory bool) string {
	params := []string{"_pragma=busy_timeout(5000)", "_txlock=immediate"}
	if !memory {
		params = append(params, "_pragma=journal_mode(WAL)")
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + strings.Join(params, "&")
}

// Dialect renders SQLite flavored SQL.
type Dialect struct{}

func (Dialect) Name() string              { return "sqlite" }
func (Dialect) Placeholder(int) string    { return "?" }
func (Dialect) Quote(ident string) string { return `"` + ident + `"` }
func (Dialect) SerialKey() string         { return "INTEGER PRIMARY KEY AUTOINCREMENT" }

func (Dialect) ColumnType(c model.Column) string {
	switch c.Kind {
	case model.KindInt, model.KindBool:
		return "INTEGER"
	case model.KindFloat:
		return "REAL"
	default:
		return "TEXT"
	}
}
