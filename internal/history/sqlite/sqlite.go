package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/clogs/internal/history"
)

var dialect = history.SQLDialect{
	Name:        "sqlite",
	TimeType:    "TIMESTAMP",
	Placeholder: func(int) string { return "?" },
}

// Sink writes history events to a SQLite database.
type Sink struct {
	*history.SQLSink
}

// New opens a SQLite history sink. Accepted DSNs:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" or ":memory:"
//
// A "table=name" query parameter selects the target table.
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if len(dsn) >= len("sqlite://") && strings.EqualFold(dsn[:len("sqlite://")], "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}
	path, table := history.SplitTable(dsn)
	if path == "" {
		return nil, errors.New("empty SQLite DSN")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	s, err := history.NewSQLSink(context.Background(), db, dialect, table)
	if err != nil {
		return nil, err
	}
	return &Sink{SQLSink: s}, nil
}
