package processors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/clogs/internal/history"
	"github.com/loykin/clogs/internal/metrics"
	"github.com/loykin/clogs/internal/model"
	"github.com/loykin/clogs/internal/processor"
	"github.com/loykin/clogs/internal/store"
)

// Threshold is how long an agent may stay silent before it is considered
// inactive: twice its heartbeat interval plus 5% leniency. Intervals above
// model.MaxAgentInterval are clamped.
func Threshold(heartbeatInterval int64) time.Duration {
	if heartbeatInterval <= 0 {
		heartbeatInterval = model.DefaultAgentInterval
	}
	heartbeatInterval = min(heartbeatInterval, model.MaxAgentInterval)
	return time.Duration(heartbeatInterval) * time.Second * 2 * 105 / 100
}

// Liveness flags agents without recent heartbeats as inactive and marks
// their containers' status unknown.
type Liveness struct {
	processor.Base
	env processor.Env
}

func NewLiveness(env processor.Env) (processor.Processor, error) {
	return &Liveness{env: withDefaults(env)}, nil
}

func (l *Liveness) OnStartup(context.Context) error {
	if l.env.Routes != nil {
		l.env.Routes.GET("/api/processors/active", l.handleActive)
	}
	return nil
}

// handleActive maps agent ids to whether they are currently active.
func (l *Liveness) handleActive(c *gin.Context) {
	serveRead(c, l.env.Store, func(ctx context.Context, sess store.Session) (any, error) {
		rows, err := sess.All(ctx, model.TypeAliveAgent)
		if err != nil {
			return nil, err
		}
		out := make(map[string]bool, len(rows))
		for _, r := range rows {
			a := r.(*model.AliveAgent)
			out[a.AgentID] = a.State == model.AliveActive
		}
		return out, nil
	})
}

func (l *Liveness) OnInterval(ctx context.Context, sess store.Session) error {
	now := l.env.Clock.Now()
	agents, err := sess.All(ctx, model.TypeAgent)
	if err != nil {
		return err
	}
	active := 0
	known := make(map[string]bool, len(agents))
	for _, row := range agents {
		a := row.(*model.Agent)
		known[a.ID] = true
		alive, err := l.check(ctx, sess, a, now)
		if err != nil {
			return fmt.Errorf("agent %s: %w", a.ID, err)
		}
		if alive {
			active++
			continue
		}
		if err := l.markContainersUnknown(ctx, sess, a.ID, now); err != nil {
			return fmt.Errorf("agent %s: %w", a.ID, err)
		}
	}
	if err := l.pruneDeleted(ctx, sess, known); err != nil {
		return err
	}
	metrics.SetActiveAgents(active)
	return nil
}

// pruneDeleted drops verdicts of agents that no longer exist.
func (l *Liveness) pruneDeleted(ctx context.Context, sess store.Session, known map[string]bool) error {
	rows, err := sess.All(ctx, model.TypeAliveAgent)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if known[row.EntityID()] {
			continue
		}
		if err := sess.Delete(ctx, row); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("prune agent %s: %w", row.EntityID(), err)
		}
		l.env.Logger.Info("forgot deleted agent", "agent_id", row.EntityID())
	}
	return nil
}

// check records the agent's verdict and reports whether it is alive.
func (l *Liveness) check(ctx context.Context, sess store.Session, a *model.Agent, now time.Time) (bool, error) {
	since := now.Add(-Threshold(a.HeartbeatInterval)).UnixNano()
	q := store.NewQuery(model.TypeHeartbeat,
		store.Eq("agent_id", a.ID),
		store.Gte("timestamp", since),
	).Take(1)
	recent, err := sess.Find(ctx, q)
	if err != nil {
		return false, err
	}
	alive := len(recent) > 0
	state := model.AliveInactive
	if alive {
		state = model.AliveActive
	}

	cur, err := sess.Get(ctx, model.TypeAliveAgent, a.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return false, err
	case cur.(*model.AliveAgent).State == state:
		return alive, nil
	}

	if err := sess.Merge(ctx, &model.AliveAgent{AgentID: a.ID, State: state, ChangedAt: now.Unix()}); err != nil {
		return false, err
	}
	ev := history.EventAgentActive
	if !alive {
		ev = history.EventAgentInactive
		l.env.Logger.Warn("agent is missing heartbeats", "agent_id", a.ID, "threshold", Threshold(a.HeartbeatInterval))
	} else {
		l.env.Logger.Info("agent is active", "agent_id", a.ID)
	}
	l.env.Emit(ctx, history.Event{Type: ev, OccurredAt: now, AgentID: a.ID, State: string(state)})
	return alive, nil
}

func (l *Liveness) markContainersUnknown(ctx context.Context, sess store.Session, agentID string, now time.Time) error {
	containers, err := sess.Find(ctx, store.NewQuery(model.TypeContainer, store.Eq("agent_id", agentID)))
	if err != nil {
		return err
	}
	for _, c := range containers {
		row, err := sess.Get(ctx, model.TypeContainerState, c.EntityID())
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		st := row.(*model.ContainerState)
		if st.Status == model.StatusUnknown {
			continue
		}
		st.Status = model.StatusUnknown
		st.Since = now.Unix()
		if err := sess.Merge(ctx, st); err != nil {
			return err
		}
		l.env.Emit(ctx, history.Event{
			Type: history.EventContainerUnknown, OccurredAt: now,
			AgentID: agentID, ContainerID: st.ID, State: model.StatusUnknown,
		})
	}
	return nil
}
