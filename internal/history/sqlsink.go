package history

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
)

// DefaultTable receives events when a sink DSN names no table.
const DefaultTable = "telemetry_history"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidTable reports whether name can be used unquoted as a table name.
func ValidTable(name string) bool { return tableName.MatchString(name) }

// SQLDialect is what differs between the relational sinks.
type SQLDialect struct {
	Name        string
	TimeType    string
	Placeholder func(n int) string
}

// SQLSink appends events to one table of a database/sql database. The table
// is created on open; rows are never updated.
type SQLSink struct {
	db      *sql.DB
	dialect SQLDialect
	table   string
	insert  string
}

// NewSQLSink takes ownership of db and prepares table. db is closed when the
// schema cannot be created.
func NewSQLSink(ctx context.Context, db *sql.DB, dialect SQLDialect, table string) (*SQLSink, error) {
	if table == "" {
		table = DefaultTable
	}
	if !ValidTable(table) {
		_ = db.Close()
		return nil, fmt.Errorf("invalid history table name %q", table)
	}
	s := &SQLSink{db: db, dialect: dialect, table: table}
	ph := make([]string, 7)
	for i := range ph {
		ph[i] = dialect.Placeholder(i + 1)
	}
	s.insert = fmt.Sprintf(
		"INSERT INTO %s(event_id, occurred_at, type, agent_id, container_id, state, detail) VALUES(%s)",
		table, strings.Join(ph, ", "))
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLSink) ensureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s(
			event_id TEXT NOT NULL,
			occurred_at %s NOT NULL,
			type TEXT NOT NULL,
			agent_id TEXT,
			container_id TEXT,
			state TEXT,
			detail TEXT
		)`, s.table, s.dialect.TimeType),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_agent ON %s(agent_id)`, s.table, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_occurred ON %s(occurred_at)`, s.table, s.table),
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("%s history schema: %w", s.dialect.Name, err)
		}
	}
	return nil
}

func (s *SQLSink) Name() string  { return s.dialect.Name }
func (s *SQLSink) Table() string { return s.table }
func (s *SQLSink) DB() *sql.DB   { return s.db }

func (s *SQLSink) Send(ctx context.Context, e Event) error {
	_, err := s.db.ExecContext(ctx, s.insert,
		e.ID, e.OccurredAt.UTC(), string(e.Type), e.AgentID, e.ContainerID, e.State, e.Detail)
	if err != nil {
		return fmt.Errorf("%s history insert: %w", s.dialect.Name, err)
	}
	return nil
}

func (s *SQLSink) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SplitTable removes a "table" query parameter from dsn and returns it
// separately, so the remaining DSN can be handed to the driver untouched.
func SplitTable(dsn string) (string, string) {
	base, query, ok := strings.Cut(dsn, "?")
	if !ok {
		return dsn, ""
	}
	var table string
	kept := make([]string, 0)
	for _, kv := range strings.Split(query, "&") {
		if v, found := strings.CutPrefix(kv, "table="); found {
			table = v
			continue
		}
		if kv != "" {
			kept = append(kept, kv)
		}
	}
	if len(kept) == 0 {
		return base, table
	}
	return base + "?" + strings.Join(kept, "&"), table
}
