package server

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/loykin/clogs/internal/model"
	"github.com/loykin/clogs/internal/store"
)

const (
	defaultLogLimit = 100
	maxLogLimit     = 10000
)

// containerView is a container joined with its state and, for services, its
// context type.
type containerView struct {
	model.Container
	Status string            `json:"status"`
	Since  int64             `json:"since"`
	Type   model.ContextType `json:"type,omitempty"`
}

func list[T any](rows []T) []T {
	if rows == nil {
		return []T{}
	}
	return rows
}

func (r *Router) webAgents(c *gin.Context, sess store.Session) (reply, error) {
	rows, err := sess.All(c.Request.Context(), model.TypeAgent)
	if err != nil {
		return reply{}, err
	}
	return ok(list(rows)), nil
}

func statesByID(c *gin.Context, sess store.Session) (map[string]*model.ContainerState, error) {
	rows, err := sess.All(c.Request.Context(), model.TypeContainerState)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*model.ContainerState, len(rows))
	for _, e := range rows {
		s := e.(*model.ContainerState)
		out[s.ID] = s
	}
	return out, nil
}

// webServices groups containers by context name. Containers without a state
// row or with a dangling context are left out.
func (r *Router) webServices(c *gin.Context, sess store.Session) (reply, error) {
	ctx := c.Request.Context()
	contexts, err := sess.All(ctx, model.TypeContext)
	if err != nil {
		return reply{}, err
	}
	byID := make(map[int64]*model.Context, len(contexts))
	for _, e := range contexts {
		cx := e.(*model.Context)
		byID[cx.ID] = cx
	}
	states, err := statesByID(c, sess)
	if err != nil {
		return reply{}, err
	}
	containers, err := sess.All(ctx, model.TypeContainer)
	if err != nil {
		return reply{}, err
	}

	services := make(map[string][]containerView)
	for _, e := range containers {
		ct := e.(*model.Container)
		if ct.Context == nil {
			continue
		}
		cx, ok := byID[*ct.Context]
		if !ok {
			continue
		}
		st, ok := states[ct.ID]
		if !ok {
			continue
		}
		services[cx.Name] = append(services[cx.Name], containerView{
			Container: *ct,
			Status:    st.Status,
			Since:     st.Since,
			Type:      cx.Type,
		})
	}
	return ok(services), nil
}

// webOrphans lists containers outside any context. A missing state reads as
// unknown.
func (r *Router) webOrphans(c *gin.Context, sess store.Session) (reply, error) {
	rows, err := sess.Find(c.Request.Context(), store.NewQuery(model.TypeContainer, store.IsNull("context")))
	if err != nil {
		return reply{}, err
	}
	states, err := statesByID(c, sess)
	if err != nil {
		return reply{}, err
	}
	out := make([]containerView, 0, len(rows))
	for _, e := range rows {
		ct := e.(*model.Container)
		v := containerView{Container: *ct, Status: model.StatusUnknown}
		if st, ok := states[ct.ID]; ok {
			v.Status, v.Since = st.Status, st.Since
		}
		out = append(out, v)
	}
	return ok(out), nil
}

// webLogs returns the newest logs first, optionally for one container and
// one level.
func (r *Router) webLogs(c *gin.Context, sess store.Session) (reply, error) {
	limit := defaultLogLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return reply{}, badRequest("limit must be a positive integer")
		}
		limit = min(n, maxLogLimit)
	}
	var conds []store.Cond
	if id := c.Query("container_id"); id != "" {
		conds = append(conds, store.Eq("container_id", id))
	}
	if lvl := strings.TrimSpace(c.Query("level")); lvl != "" {
		conds = append(conds, store.Eq("level", strings.ToUpper(lvl)))
	}
	q := store.NewQuery(model.TypeLog, conds...).Order("timestamp", true).Take(limit)
	rows, err := sess.Find(c.Request.Context(), q)
	if err != nil {
		return reply{}, err
	}
	return ok(list(rows)), nil
}
