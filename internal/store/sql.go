package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/loykin/clogs/internal/model"
)

// Dialect captures the SQL differences between backends.
type Dialect interface {
	Name() string
	Placeholder(n int) string
	Quote(ident string) string
	ColumnType(c model.Column) string
	SerialKey() string
}

// SQLStore is a Store over database/sql shared by the sqlite and postgres backends.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

func (s *SQLStore) DB() *sql.DB      { return s.db }
func (s *SQLStore) Dialect() Dialect { return s.dialect }
func (s *SQLStore) Close() error     { return s.db.Close() }
func (s *SQLStore) Session() Session { return &sqlSession{s: s} }
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SchemaStatements returns the DDL for every entity table.
func (s *SQLStore) SchemaStatements() []string {
	var stmts []string
	for _, d := range model.Descriptors() {
		cols := make([]string, 0, len(d.Columns))
		for i, c := range d.Columns {
			switch {
			case i == 0 && d.Serial:
				cols = append(cols, s.dialect.Quote(c.Name)+" "+s.dialect.SerialKey())
			case i == 0:
				cols = append(cols, s.dialect.Quote(c.Name)+" "+s.dialect.ColumnType(c)+" PRIMARY KEY")
			default:
				def := s.dialect.Quote(c.Name) + " " + s.dialect.ColumnType(c)
				if !c.Nullable {
					def += " NOT NULL"
				}
				cols = append(cols, def)
			}
		}
		stmts = append(stmts, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s(\n\t%s\n);",
			s.dialect.Quote(d.Table), strings.Join(cols, ",\n\t")))
		for _, idx := range d.Indexes {
			stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s);",
				s.dialect.Quote("idx_"+d.Table+"_"+idx), s.dialect.Quote(d.Table), s.dialect.Quote(idx)))
		}
	}
	return stmts
}

func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	for _, q := range s.SchemaStatements() {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func selectFrom(dialect Dialect, d model.Descriptor) string {
	cols := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		cols[i] = dialect.Quote(c.Name)
	}
	return "SELECT " + strings.Join(cols, ", ") + " FROM " + dialect.Quote(d.Table)
}

// keyArg converts a string id into the key column's Go type.
func keyArg(d model.Descriptor, id string) (any, error) {
	if d.Columns[0].Kind != model.KindInt {
		return id, nil
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid %s id %q", ErrNotFound, d.Type, id)
	}
	return n, nil
}

type sqlSession struct {
	s      *SQLStore
	mu     sync.Mutex
	tx     *sql.Tx
	closed bool
}

// txLocked begins the transaction on first use. The transaction outlives
// request cancellation; it ends on Commit, Rollback or Close.
func (ss *sqlSession) txLocked(ctx context.Context) (*sql.Tx, error) {
	if ss.closed {
		return nil, ErrClosed
	}
	if ss.tx != nil {
		return ss.tx, nil
	}
	tx, err := ss.s.db.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	ss.tx = tx
	return tx, nil
}

func (ss *sqlSession) Get(ctx context.Context, t model.Type, id string) (model.Entity, error) {
	d, err := describe(t)
	if err != nil {
		return nil, err
	}
	key, err := keyArg(d, id)
	if err != nil {
		return nil, err
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	tx, err := ss.txLocked(ctx)
	if err != nil {
		return nil, err
	}
	dl := ss.s.dialect
	q := selectFrom(dl, d) + " WHERE " + dl.Quote(d.Key()) + " = " + dl.Placeholder(1)
	e := d.New()
	if err := tx.QueryRowContext(ctx, q, key).Scan(e.Targets()...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s %s: %w", t, id, err)
	}
	return e, nil
}

func (ss *sqlSession) All(ctx context.Context, t model.Type) ([]model.Entity, error) {
	return ss.Find(ctx, NewQuery(t))
}

func (ss *sqlSession) Find(ctx context.Context, q Query) ([]model.Entity, error) {
	stmt, args, err := q.Compile(ss.s.dialect)
	if err != nil {
		return nil, err
	}
	d, _ := model.Describe(q.Type)
	ss.mu.Lock()
	defer ss.mu.Unlock()
	tx, err := ss.txLocked(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", q.Type, err)
	}
	defer func() { _ = rows.Close() }()
	out := make([]model.Entity, 0)
	for rows.Next() {
		e := d.New()
		if err := rows.Scan(e.Targets()...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", q.Type, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (ss *sqlSession) Add(ctx context.Context, e model.Entity) error {
	d, err := validEntity(e)
	if err != nil {
		return err
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	tx, err := ss.txLocked(ctx)
	if err != nil {
		return err
	}
	return ss.insert(ctx, tx, d, e)
}

func (ss *sqlSession) insert(ctx context.Context, tx *sql.Tx, d model.Descriptor, e model.Entity) error {
	dl := ss.s.dialect
	vals := e.Values()
	cols := d.ColumnNames()
	if sr, ok := e.(model.Serial); ok && e.EntityID() == "" {
		q := insertStmt(dl, d.Table, cols[1:]) + " RETURNING " + dl.Quote(d.Key())
		var id int64
		if err := tx.QueryRowContext(ctx, q, vals[1:]...).Scan(&id); err != nil {
			return fmt.Errorf("insert %s: %w", d.Type, err)
		}
		sr.AssignID(id)
		return nil
	}
	var one int
	exists := "SELECT 1 FROM " + dl.Quote(d.Table) + " WHERE " + dl.Quote(d.Key()) + " = " + dl.Placeholder(1)
	err := tx.QueryRowContext(ctx, exists, vals[0]).Scan(&one)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s %s", ErrDuplicate, d.Type, e.EntityID())
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("insert %s: %w", d.Type, err)
	}
	if _, err := tx.ExecContext(ctx, insertStmt(dl, d.Table, cols), vals...); err != nil {
		return fmt.Errorf("insert %s: %w", d.Type, err)
	}
	return nil
}

func (ss *sqlSession) Merge(ctx context.Context, e model.Entity) error {
	d, err := validEntity(e)
	if err != nil {
		return err
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	tx, err := ss.txLocked(ctx)
	if err != nil {
		return err
	}
	if _, ok := e.(model.Serial); ok && e.EntityID() == "" {
		return ss.insert(ctx, tx, d, e)
	}
	dl := ss.s.dialect
	cols := d.ColumnNames()
	sets := make([]string, 0, len(cols)-1)
	for _, c := range cols[1:] {
		sets = append(sets, dl.Quote(c)+"=excluded."+dl.Quote(c))
	}
	q := insertStmt(dl, d.Table, cols) +
		" ON CONFLICT(" + dl.Quote(d.Key()) + ") DO UPDATE SET " + strings.Join(sets, ", ")
	if _, err := tx.ExecContext(ctx, q, e.Values()...); err != nil {
		return fmt.Errorf("merge %s %s: %w", d.Type, e.EntityID(), err)
	}
	return nil
}

func (ss *sqlSession) Delete(ctx context.Context, e model.Entity) error {
	d, err := validEntity(e)
	if err != nil {
		return err
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	tx, err := ss.txLocked(ctx)
	if err != nil {
		return err
	}
	dl := ss.s.dialect
	q := "DELETE FROM " + dl.Quote(d.Table) + " WHERE " + dl.Quote(d.Key()) + " = " + dl.Placeholder(1)
	res, err := tx.ExecContext(ctx, q, e.Values()[0])
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", d.Type, e.EntityID(), err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (ss *sqlSession) Commit(ctx context.Context) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.closed {
		return ErrClosed
	}
	if ss.tx == nil {
		return nil
	}
	tx := ss.tx
	ss.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (ss *sqlSession) Rollback() error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.rollbackLocked()
}

func (ss *sqlSession) rollbackLocked() error {
	if ss.tx == nil {
		return nil
	}
	tx := ss.tx
	ss.tx = nil
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func (ss *sqlSession) Close() error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.closed {
		return nil
	}
	ss.closed = true
	return ss.rollbackLocked()
}

func insertStmt(dl Dialect, table string, cols []string) string {
	quoted := make([]string, len(cols))
	ph := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = dl.Quote(c)
		ph[i] = dl.Placeholder(i + 1)
	}
	return "INSERT INTO " + dl.Quote(table) + "(" + strings.Join(quoted, ", ") + ") VALUES(" + strings.Join(ph, ", ") + ")"
}
