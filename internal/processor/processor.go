package processor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/clogs/internal/clock"
	"github.com/loykin/clogs/internal/history"
	"github.com/loykin/clogs/internal/metrics"
	"github.com/loykin/clogs/internal/model"
	"github.com/loykin/clogs/internal/store"
)

// DefaultInterval is used when a Definition leaves Interval unset.
const DefaultInterval = 60 * time.Second

// Op identifies the intercepted store primitive.
type Op string

const (
	OpInsert Op = "insert"
	OpGet    Op = "get"
	OpDelete Op = "delete"
)

func (o Op) hook() string { return "on_" + string(o) }

// Processor is derived-state logic bound to one input entity type.
//
// Incremental hooks run inline on the caller's session. The returned entity,
// if any, must carry the processor's declared output type; see reconcile.
// OnInterval and OnIntervalEach run on the processor's own session, which is
// committed once per tick.
type Processor interface {
	OnStartup(ctx context.Context) error
	OnShutdown(ctx context.Context) error

	OnInsert(ctx context.Context, sess store.Session, e model.Entity) (model.Entity, error)
	OnGet(ctx context.Context, sess store.Session, e model.Entity) (model.Entity, error)
	OnDelete(ctx context.Context, sess store.Session, e model.Entity) (model.Entity, error)

	OnInterval(ctx context.Context, sess store.Session) error
	OnIntervalEach(ctx context.Context, sess store.Session, e model.Entity) (model.Entity, error)
}

// Base implements every hook as a no-op. Embed it and override what you need.
type Base struct{}

func (Base) OnStartup(context.Context) error  { return nil }
func (Base) OnShutdown(context.Context) error { return nil }
func (Base) OnInsert(context.Context, store.Session, model.Entity) (model.Entity, error) {
	return nil, nil
}
func (Base) OnGet(context.Context, store.Session, model.Entity) (model.Entity, error) {
	return nil, nil
}
func (Base) OnDelete(context.Context, store.Session, model.Entity) (model.Entity, error) {
	return nil, nil
}
func (Base) OnInterval(context.Context, store.Session) error { return nil }
func (Base) OnIntervalEach(context.Context, store.Session, model.Entity) (model.Entity, error) {
	return nil, nil
}

// Env is what a processor receives at construction.
type Env struct {
	// Store is the intercepted store; sessions opened from it run hooks.
	Store  store.Store
	Logger *slog.Logger
	Clock  clock.Clock
	// Routes, when set, lets a processor mount read-only HTTP endpoints in OnStartup.
	Routes gin.IRoutes
	Events history.Sink
}

// Emit sends ev to the configured history sink, if any. Failures are logged.
func (e Env) Emit(ctx context.Context, ev history.Event) {
	if e.Events == nil {
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
		if e.Clock != nil {
			ev.OccurredAt = e.Clock.Now().UTC()
		}
	}
	if err := e.Events.Send(ctx, ev); err != nil && e.Logger != nil {
		e.Logger.Warn("emit history event", "event", ev.Type, "error", err)
	}
}

// Factory builds a processor instance.
type Factory func(env Env) (Processor, error)

// Definition is a catalog entry.
type Definition struct {
	Name     string
	Input    model.Type
	Output   model.Type
	Interval time.Duration
	// Disabled entries are dropped by Discover.
	Disabled bool
	New      Factory
}

// Instance is a registered processor singleton.
type Instance struct {
	Definition
	Processor Processor

	logger *slog.Logger
	st     store.Store

	sessOnce sync.Once
	sess     store.Session

	lastRun   atomic.Int64
	ticks     atomic.Uint64
	failures  atomic.Uint64
	state     atomic.Value
	closeOnce sync.Once
}

func newInstance(def Definition, p Processor, st store.Store, logger *slog.Logger) *Instance {
	inst := &Instance{Definition: def, Processor: p, st: st, logger: logger}
	inst.state.Store(StateIdle)
	return inst
}

func (i *Instance) Name() string { return i.Definition.Name }

// Session returns the instance's private session, opening it on first use.
func (i *Instance) Session() store.Session {
	i.sessOnce.Do(func() { i.sess = i.st.Session() })
	return i.sess
}

// LastRun is the start time of the last tick that completed without error.
func (i *Instance) LastRun() time.Time {
	n := i.lastRun.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (i *Instance) State() State { return i.state.Load().(State) }

// setState moves the loop to s. Stopped is terminal.
func (i *Instance) setState(s State) {
	for {
		cur := i.state.Load()
		if cur == StateStopped {
			return
		}
		if i.state.CompareAndSwap(cur, s) {
			metrics.SetLoopState(i.Name(), string(s))
			return
		}
	}
}

// close calls OnShutdown and closes the private session exactly once.
func (i *Instance) close(ctx context.Context) {
	i.closeOnce.Do(func() {
		i.state.Store(StateStopped)
		metrics.SetLoopState(i.Name(), string(StateStopped))
		if err := safeCall(func() error { return i.Processor.OnShutdown(ctx) }); err != nil {
			i.logger.Error("processor shutdown failed", "processor", i.Name(), "error", err)
		}
		// Prevent a later Session call from opening a fresh session.
		i.sessOnce.Do(func() {})
		if i.sess != nil {
			if err := i.sess.Close(); err != nil {
				i.logger.Warn("processor session close failed", "processor", i.Name(), "error", err)
			}
		}
	})
}
