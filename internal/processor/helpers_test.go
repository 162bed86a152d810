package processor

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loykin/clogs/internal/model"
	"github.com/loykin/clogs/internal/store"
	"github.com/loykin/clogs/internal/store/memory"
)

var quiet = slog.New(slog.DiscardHandler)

// stub is a Processor whose hooks are plain functions; unset hooks are no-ops.
type stub struct {
	Base
	startup  func(ctx context.Context) error
	shutdown func(ctx context.Context) error
	insert   func(ctx context.Context, sess store.Session, e model.Entity) (model.Entity, error)
	get      func(ctx context.Context, sess store.Session, e model.Entity) (model.Entity, error)
	del      func(ctx context.Context, sess store.Session, e model.Entity) (model.Entity, error)
	interval func(ctx context.Context, sess store.Session) error
	each     func(ctx context.Context, sess store.Session, e model.Entity) (model.Entity, error)
}

func (s *stub) OnStartup(ctx context.Context) error {
	if s.startup == nil {
		return nil
	}
	return s.startup(ctx)
}

func (s *stub) OnShutdown(ctx context.Context) error {
	if s.shutdown == nil {
		return nil
	}
	return s.shutdown(ctx)
}

func (s *stub) OnInsert(ctx context.Context, sess store.Session, e model.Entity) (model.Entity, error) {
	if s.insert == nil {
		return nil, nil
	}
	return s.insert(ctx, sess, e)
}

func (s *stub) OnGet(ctx context.Context, sess store.Session, e model.Entity) (model.Entity, error) {
	if s.get == nil {
		return nil, nil
	}
	return s.get(ctx, sess, e)
}

func (s *stub) OnDelete(ctx context.Context, sess store.Session, e model.Entity) (model.Entity, error) {
	if s.del == nil {
		return nil, nil
	}
	return s.del(ctx, sess, e)
}

func (s *stub) OnInterval(ctx context.Context, sess store.Session) error {
	if s.interval == nil {
		return nil
	}
	return s.interval(ctx, sess)
}

func (s *stub) OnIntervalEach(ctx context.Context, sess store.Session, e model.Entity) (model.Entity, error) {
	if s.each == nil {
		return nil, nil
	}
	return s.each(ctx, sess, e)
}

func def(name string, in, out model.Type, p Processor) Definition {
	return Definition{
		Name:   name,
		Input:  in,
		Output: out,
		New:    func(Env) (Processor, error) { return p, nil },
	}
}

type fixture struct {
	raw *memory.Store
	st  store.Store
	reg *Registry
	ic  *Interceptor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	raw := memory.New()
	require.NoError(t, raw.EnsureSchema(context.Background()))
	reg := NewRegistry(quiet)
	ic := NewInterceptor(reg, quiet)
	return &fixture{raw: raw, st: ic.Wrap(raw), reg: reg, ic: ic}
}

func (f *fixture) register(t *testing.T, defs ...Definition) {
	t.Helper()
	loaded := f.reg.LoadAll(context.Background(), defs, Env{Store: f.st, Logger: quiet})
	require.Len(t, loaded, len(defs))
}

// committed reads every row of typ through a fresh raw session.
func (f *fixture) committed(t *testing.T, typ model.Type) []model.Entity {
	t.Helper()
	sess := f.raw.Session()
	defer func() { _ = sess.Close() }()
	rows, err := sess.All(context.Background(), typ)
	require.NoError(t, err)
	return rows
}
