package processors

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/loykin/clogs/internal/clock"
	"github.com/loykin/clogs/internal/history"
	"github.com/loykin/clogs/internal/model"
	"github.com/loykin/clogs/internal/processor"
	"github.com/loykin/clogs/internal/store"
	"github.com/loykin/clogs/internal/store/memory"
)

var quiet = slog.New(slog.DiscardHandler)

type recordingSink struct {
	mu     sync.Mutex
	events []history.Event
}

func (r *recordingSink) Send(_ context.Context, e history.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingSink) types() []history.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]history.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	st     store.Store
	clock  *clock.Fake
	sched  *processor.Scheduler
	reg    *processor.Registry
	events *recordingSink
	router *gin.Engine
}

// newHarness loads the named built-in processors over an intercepted memory store.
func newHarness(t *testing.T, cfg Config, names ...string) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	raw := memory.New()
	require.NoError(t, raw.EnsureSchema(ctx))

	h := &harness{
		clock:  clock.NewFake(time.Unix(1_700_000_000, 0)),
		reg:    processor.NewRegistry(quiet),
		events: &recordingSink{},
		router: gin.New(),
	}
	h.st = processor.NewInterceptor(h.reg, quiet).Wrap(raw)

	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var defs []processor.Definition
	for _, d := range Catalog(cfg) {
		if want[d.Name] {
			defs = append(defs, d)
		}
	}
	loaded := h.reg.LoadAll(ctx, defs, processor.Env{
		Store:  h.st,
		Logger: quiet,
		Clock:  h.clock,
		Routes: h.router,
		Events: h.events,
	})
	require.Len(t, loaded, len(names))
	h.sched = processor.NewScheduler(h.reg, processor.WithLogger(quiet), processor.WithClock(h.clock))
	t.Cleanup(func() { _ = h.sched.Shutdown(context.Background()) })
	return h
}

func (h *harness) tick(t *testing.T, name string) {
	t.Helper()
	inst, ok := h.reg.Lookup(name)
	require.True(t, ok)
	require.NoError(t, h.sched.Tick(context.Background(), inst))
}

// write adds entities through an intercepted session and commits.
func (h *harness) write(t *testing.T, es ...model.Entity) {
	t.Helper()
	ctx := context.Background()
	sess := h.st.Session()
	defer func() { _ = sess.Close() }()
	for _, e := range es {
		require.NoError(t, sess.Add(ctx, e))
	}
	require.NoError(t, sess.Commit(ctx))
}

func (h *harness) merge(t *testing.T, e model.Entity) {
	t.Helper()
	ctx := context.Background()
	sess := h.st.Session()
	defer func() { _ = sess.Close() }()
	require.NoError(t, sess.Merge(ctx, e))
	require.NoError(t, sess.Commit(ctx))
}

func (h *harness) get(t *testing.T, typ model.Type, id string) model.Entity {
	t.Helper()
	sess := h.st.Session()
	defer func() { _ = sess.Close() }()
	e, err := sess.Get(context.Background(), typ, id)
	require.NoError(t, err)
	return e
}

func (h *harness) find(t *testing.T, q store.Query) []model.Entity {
	t.Helper()
	sess := h.st.Session()
	defer func() { _ = sess.Close() }()
	rows, err := sess.Find(context.Background(), q)
	require.NoError(t, err)
	return rows
}
