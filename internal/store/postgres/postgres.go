package postgres

import (
	"database/sql"
	"fmt"
	"strconv"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/clogs/internal/model"
	"github.com/loykin/clogs/internal/store"
)

// DB implements store.Store for PostgreSQL through the pgx stdlib driver.
type DB struct {
	*store.SQLStore
}

func New(dsn string) (*DB, error) {
	return Open(store.Config{DSN: dsn})
}

func Open(cfg store.Config) (*DB, error) {
	d, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		d.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		d.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		d.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return &DB{SQLStore: store.NewSQLStore(d, Dialect{})}, nil
}

// Dialect renders PostgreSQL flavored SQL.
type Dialect struct{}

func (Dialect) Name() string              { return "postgres" }
func (Dialect) Placeholder(n int) string  { return "$" + strconv.Itoa(n) }
func (Dialect) Quote(ident string) string { return `"` + ident + `"` }
func (Dialect) SerialKey() string         { return "BIGSERIAL PRIMARY KEY" }

func (Dialect) ColumnType(c model.Column) string {
	switch c.Kind {
	case model.KindInt:
		return "BIGINT"
	case model.KindBool:
		return "BOOLEAN"
	case model.KindFloat:
		return "DOUBLE PRECISION"
	default:
		return "TEXT"
	}
}
