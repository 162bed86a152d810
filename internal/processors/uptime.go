package processors

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/loykin/clogs/internal/history"
	"github.com/loykin/clogs/internal/model"
	"github.com/loykin/clogs/internal/processor"
	"github.com/loykin/clogs/internal/store"
)

// Uptime accounts running time per container and splits each container's
// history into sections of constant status.
type Uptime struct {
	processor.Base
	env processor.Env
}

func NewUptime(env processor.Env) (processor.Processor, error) {
	return &Uptime{env: withDefaults(env)}, nil
}

func (u *Uptime) OnStartup(context.Context) error {
	if u.env.Routes == nil {
		return nil
	}
	u.env.Routes.GET("/api/processors/uptime", u.handleList)
	u.env.Routes.GET("/api/processors/uptime/:container_id/sections", u.handleSections)
	return nil
}

func (u *Uptime) handleList(c *gin.Context) {
	serveRead(c, u.env.Store, func(ctx context.Context, sess store.Session) (any, error) {
		return sess.All(ctx, model.TypeContainerUptime)
	})
}

func (u *Uptime) handleSections(c *gin.Context) {
	id := c.Param("container_id")
	serveRead(c, u.env.Store, func(ctx context.Context, sess store.Session) (any, error) {
		q := store.NewQuery(model.TypeUptimeSection, store.Eq("container_id", id)).Order("started_at", false)
		return sess.Find(ctx, q)
	})
}

// Percentage returns uptime/total as a percentage capped at 100 and rounded
// to four decimals. It is 0 when total is not positive.
func Percentage(uptime, total int64) float64 {
	if total <= 0 {
		return 0
	}
	p := math.Min(float64(uptime)/float64(total)*100, 100)
	return math.Round(p*1e4) / 1e4
}

// observedStatus is the container's current status, lower-cased, or unknown.
func observedStatus(ctx context.Context, sess store.Session, containerID string) (string, error) {
	row, err := sess.Get(ctx, model.TypeContainerState, containerID)
	if errors.Is(err, store.ErrNotFound) {
		return model.StatusUnknown, nil
	}
	if err != nil {
		return "", err
	}
	s := strings.ToLower(strings.TrimSpace(row.(*model.ContainerState).Status))
	if s == "" {
		return model.StatusUnknown, nil
	}
	return s, nil
}

// OnIntervalEach updates the uptime account of one container. When the
// observed status differs from the one recorded on the previous tick, the open
// section is closed now and a new section is returned for insertion.
func (u *Uptime) OnIntervalEach(ctx context.Context, sess store.Session, e model.Entity) (model.Entity, error) {
	c := e.(*model.Container)
	now := u.env.Clock.Now().Unix()

	status, err := observedStatus(ctx, sess, c.ID)
	if err != nil {
		return nil, err
	}

	var rec *model.ContainerUptime
	row, err := sess.Get(ctx, model.TypeContainerUptime, c.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		first := c.CreatedAt
		if first <= 0 || first > now {
			first = now
		}
		rec = &model.ContainerUptime{ContainerID: c.ID, FirstRecorded: first, LastChecked: now}
	case err != nil:
		return nil, err
	default:
		rec = row.(*model.ContainerUptime)
	}

	if delta := now - rec.LastChecked; delta > 0 && status == model.StatusRunning {
		rec.UptimeSeconds += delta
	}
	total := max(now-rec.FirstRecorded, 0)
	rec.UptimeSeconds = min(rec.UptimeSeconds, total)
	rec.UptimePercentage = Percentage(rec.UptimeSeconds, total)

	previous := rec.LastStatus
	rec.LastChecked = now
	rec.LastStatus = status
	if err := sess.Merge(ctx, rec); err != nil {
		return nil, err
	}
	if previous == status {
		return nil, nil
	}

	if err := closeOpenSections(ctx, sess, c.ID, now); err != nil {
		return nil, err
	}
	u.env.Emit(ctx, history.Event{
		Type: history.EventSectionOpened, AgentID: c.AgentID, ContainerID: c.ID,
		State: status, Detail: previous,
	})
	return &model.UptimeSection{ContainerID: c.ID, Status: status, StartedAt: now}, nil
}

func closeOpenSections(ctx context.Context, sess store.Session, containerID string, at int64) error {
	open, err := sess.Find(ctx, store.NewQuery(model.TypeUptimeSection,
		store.Eq("container_id", containerID),
		store.Eq("ended_at", 0),
	))
	if err != nil {
		return err
	}
	for _, row := range open {
		s := row.(*model.UptimeSection)
		s.EndedAt = at
		if err := sess.Merge(ctx, s); err != nil {
			return err
		}
	}
	return nil
}
