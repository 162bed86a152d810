package processor

import (
	"context"
	"log/slog"

	"github.com/loykin/clogs/internal/metrics"
	"github.com/loykin/clogs/internal/model"
	"github.com/loykin/clogs/internal/store"
)

// Interceptor runs the incremental hooks of registered processors around
// store primitives.
type Interceptor struct {
	reg    *Registry
	logger *slog.Logger
}

func NewInterceptor(reg *Registry, logger *slog.Logger) *Interceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Interceptor{reg: reg, logger: logger}
}

// Result is the reconciled outcome of one intercepted call.
type Result struct {
	// Entity is what the store primitive should act on.
	Entity model.Entity
	// Replaced is set when a hook substituted Entity with a same-typed value.
	Replaced bool
	// Derived holds rows of other types to insert alongside Entity.
	Derived []model.Entity
}

// Apply invokes the op hook of every processor registered for e's type in
// registration order. Each hook sees the entity as substituted by the ones
// before it. Hook errors, panics and contract violations are logged and
// counted; the offending hook then has no effect.
func (ic *Interceptor) Apply(ctx context.Context, op Op, sess store.Session, e model.Entity) Result {
	res := Result{Entity: e}
	if model.IsNil(e) {
		return res
	}
	hook := op.hook()
	for _, inst := range ic.reg.ProcessorsFor(e.EntityType()) {
		metrics.IncHookCall(inst.Name(), hook)
		var out model.Entity
		current := res.Entity
		err := safeCall(func() error {
			var err error
			out, err = callHook(ctx, inst.Processor, op, sess, current)
			return err
		})
		action := ActionNone
		if err == nil {
			action, err = reconcile(inst.Definition, op, hook, out)
		}
		if err != nil {
			metrics.IncHookFailure(inst.Name(), hook, failureReason(err))
			ic.logger.Error("processor hook failed", "processor", inst.Name(), "hook", hook,
				"entity_type", e.EntityType().String(), "entity_id", current.EntityID(), "error", err)
			continue
		}
		switch action {
		case ActionMerge:
			res.Entity = out
			res.Replaced = true
		case ActionInsert:
			res.Derived = append(res.Derived, out)
		}
	}
	return res
}

func callHook(ctx context.Context, p Processor, op Op, sess store.Session, e model.Entity) (model.Entity, error) {
	switch op {
	case OpInsert:
		return p.OnInsert(ctx, sess, e)
	case OpGet:
		return p.OnGet(ctx, sess, e)
	case OpDelete:
		return p.OnDelete(ctx, sess, e)
	}
	return nil, nil
}

// Wrap returns a store whose sessions route Add, Get and Delete through Apply.
// Hooks receive the unwrapped session, so their own reads and writes are not
// intercepted again.
func (ic *Interceptor) Wrap(st store.Store) store.Store {
	return &interceptedStore{Store: st, ic: ic}
}

type interceptedStore struct {
	store.Store
	ic *Interceptor
}

func (s *interceptedStore) Session() store.Session {
	return &interceptedSession{Session: s.Store.Session(), ic: s.ic}
}

// Unwrap returns the underlying store.
func (s *interceptedStore) Unwrap() store.Store { return s.Store }

type interceptedSession struct {
	store.Session
	ic *Interceptor
}

// Add persists e, or the hook substitute of e, then any derived rows.
func (s *interceptedSession) Add(ctx context.Context, e model.Entity) error {
	res := s.ic.Apply(ctx, OpInsert, s.Session, e)
	var err error
	if res.Replaced {
		err = s.Session.Merge(ctx, res.Entity)
	} else {
		err = s.Session.Add(ctx, e)
	}
	if err != nil {
		return err
	}
	for _, d := range res.Derived {
		if err := s.Session.Add(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

func (s *interceptedSession) Get(ctx context.Context, t model.Type, id string) (model.Entity, error) {
	e, err := s.Session.Get(ctx, t, id)
	if err != nil {
		return nil, err
	}
	return s.ic.Apply(ctx, OpGet, s.Session, e).Entity, nil
}

func (s *interceptedSession) Delete(ctx context.Context, e model.Entity) error {
	res := s.ic.Apply(ctx, OpDelete, s.Session, e)
	return s.Session.Delete(ctx, res.Entity)
}

// Unwrap returns the session hooks operate on.
func (s *interceptedSession) Unwrap() store.Session { return s.Session }
