package processors

import (
	"context"
	"fmt"
	"time"

	"github.com/loykin/clogs/internal/model"
	"github.com/loykin/clogs/internal/processor"
	"github.com/loykin/clogs/internal/store"
)

// Retention deletes heartbeats older than its max age.
type Retention struct {
	processor.Base
	env    processor.Env
	maxAge time.Duration

	// cutoff is recomputed by OnInterval at the start of every tick.
	cutoff int64
}

func NewRetention(env processor.Env, maxAge time.Duration) (processor.Processor, error) {
	if maxAge < 0 {
		return nil, fmt.Errorf("heartbeat retention: negative max age %s", maxAge)
	}
	if maxAge == 0 {
		maxAge = DefaultRetention
	}
	return &Retention{env: withDefaults(env), maxAge: maxAge}, nil
}

// effectiveAge raises the configured age to the largest liveness threshold
// of any registered agent.
func (r *Retention) effectiveAge(ctx context.Context, sess store.Session) (time.Duration, error) {
	age := r.maxAge
	agents, err := sess.All(ctx, model.TypeAgent)
	if err != nil {
		return 0, err
	}
	for _, a := range agents {
		if th := Threshold(a.(*model.Agent).HeartbeatInterval); th > age {
			age = th
		}
	}
	return age, nil
}

func (r *Retention) OnInterval(ctx context.Context, sess store.Session) error {
	age, err := r.effectiveAge(ctx, sess)
	if err != nil {
		return err
	}
	r.cutoff = r.env.Clock.Now().Add(-age).UnixNano()
	return nil
}

func (r *Retention) OnIntervalEach(ctx context.Context, sess store.Session, e model.Entity) (model.Entity, error) {
	hb := e.(*model.Heartbeat)
	if r.cutoff == 0 || hb.Timestamp >= r.cutoff {
		return nil, nil
	}
	if err := sess.Delete(ctx, hb); err != nil {
		return nil, fmt.Errorf("delete heartbeat %d: %w", hb.ID, err)
	}
	return nil, nil
}
