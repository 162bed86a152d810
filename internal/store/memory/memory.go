package memory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/loykin/clogs/internal/model"
	"github.com/loykin/clogs/internal/store"
)

// Store keeps every table in process memory. Sessions buffer their writes and
// publish them atomically on Commit; the last commit wins on conflicts.
type Store struct {
	mu     sync.RWMutex
	tables map[model.Type]map[string]model.Entity
	seq    map[model.Type]int64
	closed bool
}

func New() *Store {
	return &Store{
		tables: make(map[model.Type]map[string]model.Entity),
		seq:    make(map[model.Type]int64),
	}
}

func (s *Store) EnsureSchema(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range model.Descriptors() {
		if s.tables[d.Type] == nil {
			s.tables[d.Type] = make(map[string]model.Entity)
		}
	}
	return nil
}

func (s *Store) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New("memory store closed")
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *Store) Session() store.Session {
	return &session{s: s, pending: make(map[model.Type]map[string]change)}
}

func (s *Store) nextID(t model.Type) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq[t]++
	return s.seq[t]
}

type change struct {
	e       model.Entity
	deleted bool
}

type session struct {
	s       *Store
	mu      sync.Mutex
	pending map[model.Type]map[string]change
	closed  bool
}

func (ss *session) lookup(t model.Type, id string) (model.Entity, bool) {
	if c, ok := ss.pending[t][id]; ok {
		return c.e, !c.deleted
	}
	ss.s.mu.RLock()
	defer ss.s.mu.RUnlock()
	e, ok := ss.s.tables[t][id]
	return e, ok
}

func (ss *session) put(e model.Entity, deleted bool) {
	t := e.EntityType()
	if ss.pending[t] == nil {
		ss.pending[t] = make(map[string]change)
	}
	ss.pending[t][e.EntityID()] = change{e: model.Clone(e), deleted: deleted}
}

func (ss *session) Get(_ context.Context, t model.Type, id string) (model.Entity, error) {
	if _, ok := model.Describe(t); !ok {
		return nil, fmt.Errorf("memory: unknown entity type %s", t)
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.closed {
		return nil, store.ErrClosed
	}
	e, ok := ss.lookup(t, id)
	if !ok {
		return nil, store.ErrNotFound
	}
	return model.Clone(e), nil
}

func (ss *session) All(ctx context.Context, t model.Type) ([]model.Entity, error) {
	return ss.Find(ctx, store.NewQuery(t))
}

func (ss *session) Find(_ context.Context, q store.Query) ([]model.Entity, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.closed {
		return nil, store.ErrClosed
	}
	rows := make([]model.Entity, 0)
	ss.s.mu.RLock()
	for id, e := range ss.s.tables[q.Type] {
		if _, shadowed := ss.pending[q.Type][id]; !shadowed {
			rows = append(rows, model.Clone(e))
		}
	}
	ss.s.mu.RUnlock()
	for _, c := range ss.pending[q.Type] {
		if !c.deleted {
			rows = append(rows, model.Clone(c.e))
		}
	}
	return q.Apply(rows)
}

func (ss *session) Add(_ context.Context, e model.Entity) error {
	if model.IsNil(e) {
		return errors.New("memory: nil entity")
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.closed {
		return store.ErrClosed
	}
	return ss.addLocked(e)
}

func (ss *session) addLocked(e model.Entity) error {
	if sr, ok := e.(model.Serial); ok && e.EntityID() == "" {
		sr.AssignID(ss.s.nextID(e.EntityType()))
	} else if _, exists := ss.lookup(e.EntityType(), e.EntityID()); exists {
		return fmt.Errorf("%w: %s %s", store.ErrDuplicate, e.EntityType(), e.EntityID())
	}
	ss.put(e, false)
	return nil
}

func (ss *session) Merge(_ context.Context, e model.Entity) error {
	if model.IsNil(e) {
		return errors.New("memory: nil entity")
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.closed {
		return store.ErrClosed
	}
	if _, ok := e.(model.Serial); ok && e.EntityID() == "" {
		return ss.addLocked(e)
	}
	ss.put(e, false)
	return nil
}

func (ss *session) Delete(_ context.Context, e model.Entity) error {
	if model.IsNil(e) {
		return errors.New("memory: nil entity")
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.closed {
		return store.ErrClosed
	}
	if _, ok := ss.lookup(e.EntityType(), e.EntityID()); !ok {
		return store.ErrNotFound
	}
	ss.put(e, true)
	return nil
}

func (ss *session) Commit(context.Context) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.closed {
		return store.ErrClosed
	}
	ss.s.mu.Lock()
	defer ss.s.mu.Unlock()
	if ss.s.closed {
		return errors.New("memory store closed")
	}
	for t, changes := range ss.pending {
		tbl := ss.s.tables[t]
		if tbl == nil {
			tbl = make(map[string]model.Entity)
			ss.s.tables[t] = tbl
		}
		for id, c := range changes {
			if c.deleted {
				delete(tbl, id)
				continue
			}
			tbl[id] = c.e
			if _, serial := c.e.(model.Serial); serial {
				if n, err := strconv.ParseInt(id, 10, 64); err == nil && n > ss.s.seq[t] {
					ss.s.seq[t] = n
				}
			}
		}
	}
	ss.pending = make(map[model.Type]map[string]change)
	return nil
}

func (ss *session) Rollback() error {
	ss.mu.Lock()
	ss.pending = make(map[model.Type]map[string]change)
	ss.mu.Unlock()
	return nil
}

func (ss *session) Close() error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.closed = true
	ss.pending = nil
	return nil
}
