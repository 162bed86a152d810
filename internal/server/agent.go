package server

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/loykin/clogs/internal/metrics"
	"github.com/loykin/clogs/internal/model"
	"github.com/loykin/clogs/internal/store"
)

func (r *Router) registerAgent(c *gin.Context, sess store.Session) (reply, error) {
	var a model.Agent
	if err := c.ShouldBindJSON(&a); err != nil {
		return reply{}, badRequest("invalid JSON: " + err.Error())
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	} else if !isSafeID(a.ID) {
		return reply{}, badRequest("invalid agent id")
	}
	if a.HeartbeatInterval > model.MaxAgentInterval || a.DiscoveryInterval > model.MaxAgentInterval {
		return reply{}, badRequest("interval exceeds " + strconv.Itoa(model.MaxAgentInterval) + " seconds")
	}
	if a.HeartbeatInterval <= 0 {
		a.HeartbeatInterval = model.DefaultAgentInterval
	}
	if a.DiscoveryInterval <= 0 {
		a.DiscoveryInterval = model.DefaultAgentInterval
	}
	if err := sess.Add(c.Request.Context(), &a); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return reply{}, conflict("agent " + a.ID + " already registered")
		}
		return reply{}, err
	}
	r.logger.Info("agent registered", "agent", a.ID, "hostname", a.Hostname)
	return ok(a.ID), nil
}

// agent loads the agent named by the :agent_id path parameter.
func agent(c *gin.Context, sess store.Session) (*model.Agent, error) {
	e, err := sess.Get(c.Request.Context(), model.TypeAgent, c.Param("agent_id"))
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound("agent not found")
	}
	if err != nil {
		return nil, err
	}
	return e.(*model.Agent), nil
}

// container loads the :container_id container and checks it belongs to the
// :agent_id agent.
func container(c *gin.Context, sess store.Session) (*model.Container, error) {
	e, err := sess.Get(c.Request.Context(), model.TypeContainer, c.Param("container_id"))
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound("container not found or mismatched agent id")
	}
	if err != nil {
		return nil, err
	}
	ct := e.(*model.Container)
	if ct.AgentID != c.Param("agent_id") {
		return nil, notFound("container not found or mismatched agent id")
	}
	return ct, nil
}

func (r *Router) getAgent(c *gin.Context, sess store.Session) (reply, error) {
	a, err := agent(c, sess)
	if err != nil {
		return reply{}, err
	}
	return ok(a), nil
}

func (r *Router) deleteAgent(c *gin.Context, sess store.Session) (reply, error) {
	a, err := agent(c, sess)
	if err != nil {
		return reply{}, err
	}
	if err := sess.Delete(c.Request.Context(), a); err != nil {
		return reply{}, err
	}
	r.logger.Info("agent deleted", "agent", a.ID)
	return noContent(), nil
}

func (r *Router) heartbeat(c *gin.Context, sess store.Session) (reply, error) {
	a, err := agent(c, sess)
	if err != nil {
		return reply{}, err
	}
	hb := &model.Heartbeat{AgentID: a.ID, Timestamp: r.clock.Now().UnixNano()}
	if err := sess.Add(c.Request.Context(), hb); err != nil {
		return reply{}, err
	}
	metrics.IncIngested(model.TypeHeartbeat.String(), 1)
	return noContent(), nil
}

func (r *Router) registerContainer(c *gin.Context, sess store.Session) (reply, error) {
	var ct model.Container
	if err := c.ShouldBindJSON(&ct); err != nil {
		return reply{}, badRequest("invalid JSON: " + err.Error())
	}
	a, err := agent(c, sess)
	if err != nil {
		return reply{}, err
	}
	if ct.AgentID != "" && ct.AgentID != a.ID {
		return reply{}, badRequest("agent_id does not match the path")
	}
	ct.AgentID = a.ID
	if ct.ID == "" {
		ct.ID = uuid.NewString()
	} else if !isSafeID(ct.ID) {
		return reply{}, badRequest("invalid container id")
	}
	if ct.Context != nil {
		if err := ownContext(c.Request.Context(), sess, a.ID, *ct.Context); err != nil {
			return reply{}, err
		}
	}
	if err := sess.Add(c.Request.Context(), &ct); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return reply{}, conflict("container with this id already exists")
		}
		return reply{}, err
	}
	return created(ct.ID), nil
}

// ownContext reports a 400 unless context id belongs to agentID.
func ownContext(ctx context.Context, sess store.Session, agentID string, id int64) error {
	e, err := sess.Get(ctx, model.TypeContext, strconv.FormatInt(id, 10))
	if errors.Is(err, store.ErrNotFound) {
		return badRequest("unknown context " + strconv.FormatInt(id, 10))
	}
	if err != nil {
		return err
	}
	if e.(*model.Context).AgentID != agentID {
		return badRequest("context belongs to another agent")
	}
	return nil
}

// updateContainer copies every non-id field of the body onto the container.
func (r *Router) updateContainer(c *gin.Context, sess store.Session) (reply, error) {
	ct, err := container(c, sess)
	if err != nil {
		return reply{}, err
	}
	var body model.Container
	if err := c.ShouldBindJSON(&body); err != nil {
		return reply{}, badRequest("invalid JSON: " + err.Error())
	}
	if body.Context != nil {
		if err := ownContext(c.Request.Context(), sess, ct.AgentID, *body.Context); err != nil {
			return reply{}, err
		}
	}
	ct.Context = body.Context
	ct.Name = body.Name
	ct.Image = body.Image
	ct.CreatedAt = body.CreatedAt
	if err := sess.Merge(c.Request.Context(), ct); err != nil {
		return reply{}, err
	}
	return ok(ct), nil
}

// containerStatus records the reported status. since is only taken from the
// first report; later reports change the status alone.
func (r *Router) containerStatus(c *gin.Context, sess store.Session) (reply, error) {
	ct, err := container(c, sess)
	if err != nil {
		return reply{}, err
	}
	st := strings.TrimSpace(c.Query("status"))
	if st == "" {
		return reply{}, badRequest("status query parameter required")
	}
	since, err := strconv.ParseInt(c.Query("since"), 10, 64)
	if err != nil {
		return reply{}, badRequest("since query parameter must be unix seconds")
	}

	ctx := c.Request.Context()
	state := &model.ContainerState{ID: ct.ID, Status: st, Since: since}
	e, err := sess.Get(ctx, model.TypeContainerState, ct.ID)
	switch {
	case err == nil:
		state = e.(*model.ContainerState)
		state.Status = st
	case !errors.Is(err, store.ErrNotFound):
		return reply{}, err
	}
	if err := sess.Merge(ctx, state); err != nil {
		return reply{}, err
	}
	return ok(state), nil
}

// deleteContainer removes the container and its state row, if any.
func (r *Router) deleteContainer(c *gin.Context, sess store.Session) (reply, error) {
	ct, err := container(c, sess)
	if err != nil {
		return reply{}, err
	}
	ctx := c.Request.Context()
	if err := sess.Delete(ctx, ct); err != nil {
		return reply{}, err
	}
	state, err := sess.Get(ctx, model.TypeContainerState, ct.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return reply{}, err
	default:
		if err := sess.Delete(ctx, state); err != nil {
			return reply{}, err
		}
	}
	return noContent(), nil
}

func (r *Router) listContainers(c *gin.Context, sess store.Session) (reply, error) {
	conds := []store.Cond{store.Eq("agent_id", c.Param("agent_id"))}
	if s := c.Query("context_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return reply{}, badRequest("context_id must be an integer")
		}
		conds = append(conds, store.Eq("context", id))
	}
	rows, err := sess.Find(c.Request.Context(), store.NewQuery(model.TypeContainer, conds...))
	if err != nil {
		return reply{}, err
	}
	return ok(list(rows)), nil
}

func (r *Router) registerContext(c *gin.Context, sess store.Session) (reply, error) {
	var cx model.Context
	if err := c.ShouldBindJSON(&cx); err != nil {
		return reply{}, badRequest("invalid JSON: " + err.Error())
	}
	a, err := agent(c, sess)
	if err != nil {
		return reply{}, err
	}
	if strings.TrimSpace(cx.Name) == "" {
		return reply{}, badRequest("context name required")
	}
	if !cx.Type.Valid() {
		return reply{}, badRequest("context type must be compose or swarm")
	}
	cx.ID = 0
	cx.AgentID = a.ID
	if err := sess.Add(c.Request.Context(), &cx); err != nil {
		return reply{}, err
	}
	return created(cx.ID), nil
}

func (r *Router) listContexts(c *gin.Context, sess store.Session) (reply, error) {
	rows, err := sess.Find(c.Request.Context(), store.NewQuery(model.TypeContext, store.Eq("agent_id", c.Param("agent_id"))))
	if err != nil {
		return reply{}, err
	}
	return ok(list(rows)), nil
}

func (r *Router) deleteContext(c *gin.Context, sess store.Session) (reply, error) {
	if _, err := strconv.ParseInt(c.Param("context_id"), 10, 64); err != nil {
		return reply{}, badRequest("context_id must be an integer")
	}
	ctx := c.Request.Context()
	e, err := sess.Get(ctx, model.TypeContext, c.Param("context_id"))
	if errors.Is(err, store.ErrNotFound) {
		return reply{}, notFound("context not found or mismatched agent id")
	}
	if err != nil {
		return reply{}, err
	}
	if e.(*model.Context).AgentID != c.Param("agent_id") {
		return reply{}, notFound("context not found or mismatched agent id")
	}
	if err := sess.Delete(ctx, e); err != nil {
		return reply{}, err
	}
	return noContent(), nil
}
