package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/loykin/clogs/internal/metrics"
	"github.com/loykin/clogs/internal/model"
	"github.com/loykin/clogs/internal/store"
)

// maxLogBody caps one log upload.
const maxLogBody = 8 << 20

type logLine struct {
	ContainerID string  `json:"container_id"`
	Timestamp   int64   `json:"timestamp"`
	Level       string  `json:"level"`
	Stream      string  `json:"stream"`
	Message     *string `json:"message"`
}

// logBatch is a batch of lines of one container.
type logBatch struct {
	ContainerID string    `json:"container_id"`
	Logs        []logLine `json:"logs"`
}

type multiContainerLogs struct {
	AgentID       string     `json:"agent_id"`
	ContainerLogs []logBatch `json:"container_logs"`
}

// decodeLogs accepts the three upload shapes agents send and groups the lines
// per container:
//
//	{"container_id": "c1", "timestamp": 1, "level": "INFO", "message": "..."}
//	{"container_id": "c1", "logs": [{...}, ...]}
//	{"agent_id": "a1", "container_logs": [{"container_id": "c1", "logs": [...]}, ...]}
//
// agentID is only set for the multi-container shape.
func decodeLogs(body []byte) (agentID string, groups []logBatch, err error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return "", nil, fmt.Errorf("invalid JSON: %w", err)
	}
	switch {
	case probe["container_logs"] != nil:
		var m multiContainerLogs
		if err := json.Unmarshal(body, &m); err != nil {
			return "", nil, fmt.Errorf("invalid multi-container batch: %w", err)
		}
		if m.AgentID == "" {
			return "", nil, errors.New("agent_id required")
		}
		for _, g := range m.ContainerLogs {
			g, err := normalizeGroup(g)
			if err != nil {
				return "", nil, err
			}
			groups = append(groups, g)
		}
		return m.AgentID, groups, nil
	case probe["logs"] != nil:
		var g logBatch
		if err := json.Unmarshal(body, &g); err != nil {
			return "", nil, fmt.Errorf("invalid container batch: %w", err)
		}
		g, err := normalizeGroup(g)
		if err != nil {
			return "", nil, err
		}
		return "", []logBatch{g}, nil
	default:
		var l logLine
		if err := json.Unmarshal(body, &l); err != nil {
			return "", nil, fmt.Errorf("invalid log line: %w", err)
		}
		if l.Message == nil {
			return "", nil, errors.New("message required")
		}
		return "", []logBatch{{ContainerID: l.ContainerID, Logs: []logLine{l}}}, nil
	}
}

// normalizeGroup fills each line's container id from the batch and rejects
// lines that name a different container.
func normalizeGroup(g logBatch) (logBatch, error) {
	for _, l := range g.Logs {
		if g.ContainerID == "" {
			g.ContainerID = l.ContainerID
		}
	}
	for i := range g.Logs {
		l := &g.Logs[i]
		if l.Message == nil {
			return g, errors.New("message required")
		}
		if l.ContainerID != "" && l.ContainerID != g.ContainerID {
			return g, fmt.Errorf("log for container %s inside batch of %s", l.ContainerID, g.ContainerID)
		}
		l.ContainerID = g.ContainerID
	}
	return g, nil
}

func readLogs(c *gin.Context) (string, []logBatch, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxLogBody+1))
	if err != nil {
		return "", nil, badRequest("read body: " + err.Error())
	}
	if len(body) > maxLogBody {
		return "", nil, badRequest("log upload too large")
	}
	agentID, groups, err := decodeLogs(body)
	if err != nil {
		return "", nil, badRequest(err.Error())
	}
	return agentID, groups, nil
}

type ingestResp struct {
	Accepted int `json:"accepted"`
}

// agentLogs accepts any upload shape; every named container must belong to
// the agent.
func (r *Router) agentLogs(c *gin.Context, sess store.Session) (reply, error) {
	a, err := agent(c, sess)
	if err != nil {
		return reply{}, err
	}
	agentID, groups, err := readLogs(c)
	if err != nil {
		return reply{}, err
	}
	if agentID != "" && agentID != a.ID {
		return reply{}, badRequest("agent_id does not match the path")
	}
	ctx := c.Request.Context()
	owned := make(map[string]bool)
	for _, g := range groups {
		if g.ContainerID == "" {
			return reply{}, badRequest("container_id required")
		}
		if owned[g.ContainerID] {
			continue
		}
		e, err := sess.Get(ctx, model.TypeContainer, g.ContainerID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && e.(*model.Container).AgentID != a.ID) {
			return reply{}, badRequest("unknown container " + g.ContainerID + " for agent " + a.ID)
		}
		if err != nil {
			return reply{}, err
		}
		owned[g.ContainerID] = true
	}
	n, err := r.ingest(ctx, sess, groups)
	if err != nil {
		return reply{}, err
	}
	return ok(ingestResp{Accepted: n}), nil
}

// containerLogs accepts a single line or a one-container batch for the
// container in the path.
func (r *Router) containerLogs(c *gin.Context, sess store.Session) (reply, error) {
	ct, err := container(c, sess)
	if err != nil {
		return reply{}, err
	}
	agentID, groups, err := readLogs(c)
	if err != nil {
		return reply{}, err
	}
	if agentID != "" {
		return reply{}, badRequest("multi-container batches go to /api/agent/:agent_id/logs")
	}
	for i := range groups {
		g := &groups[i]
		if g.ContainerID != "" && g.ContainerID != ct.ID {
			return reply{}, badRequest("container_id does not match the path")
		}
		g.ContainerID = ct.ID
		for j := range g.Logs {
			g.Logs[j].ContainerID = ct.ID
		}
	}
	n, err := r.ingest(c.Request.Context(), sess, groups)
	if err != nil {
		return reply{}, err
	}
	return ok(ingestResp{Accepted: n}), nil
}

// ingest adds the lines in order through the session, so repeated lines are
// folded by the log processors as they arrive. Missing timestamps default to
// now; levels are stored upper case.
func (r *Router) ingest(ctx context.Context, sess store.Session, groups []logBatch) (int, error) {
	n := 0
	for _, g := range groups {
		for _, l := range g.Logs {
			row := &model.Log{
				ContainerID: g.ContainerID,
				Timestamp:   l.Timestamp,
				Level:       strings.ToUpper(strings.TrimSpace(l.Level)),
				Stream:      l.Stream,
				Message:     *l.Message,
			}
			if row.Timestamp <= 0 {
				row.Timestamp = r.clock.Now().UnixNano()
			}
			if row.Level == "" {
				row.Level = "INFO"
			}
			if err := sess.Add(ctx, row); err != nil {
				return n, err
			}
			n++
		}
	}
	metrics.IncIngested(model.TypeLog.String(), n)
	return n, nil
}
