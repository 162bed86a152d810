package model

import "strconv"

// Agent is a remote collector that registered itself with the server.
type Agent struct {
	ID                string `json:"id"`
	Hostname          string `json:"hostname"`
	HeartbeatInterval int64  `json:"heartbeat_interval"`
	DiscoveryInterval int64  `json:"discovery_interval"`
	OnHost            bool   `json:"on_host"`
}

const DefaultAgentInterval = 30

// MaxAgentInterval is the largest heartbeat or discovery interval, in seconds,
// an agent may register with (one week).
const MaxAgentInterval = 7 * 24 * 3600

func (a *Agent) EntityType() Type { return TypeAgent }
func (a *Agent) EntityID() string { return a.ID }
func (a *Agent) Values() []any {
	return []any{a.ID, a.Hostname, a.HeartbeatInterval, a.DiscoveryInterval, a.OnHost}
}
func (a *Agent) Targets() []any {
	return []any{&a.ID, &a.Hostname, &a.HeartbeatInterval, &a.DiscoveryInterval, &a.OnHost}
}

// Heartbeat is a single liveness ping. Timestamp is unix nanoseconds.
type Heartbeat struct {
	ID        int64  `json:"id"`
	AgentID   string `json:"agent_id"`
	Timestamp int64  `json:"timestamp"`
}

func (h *Heartbeat) EntityType() Type  { return TypeHeartbeat }
func (h *Heartbeat) EntityID() string  { return serialID(h.ID) }
func (h *Heartbeat) AssignID(id int64) { h.ID = id }
func (h *Heartbeat) Values() []any     { return []any{h.ID, h.AgentID, h.Timestamp} }
func (h *Heartbeat) Targets() []any    { return []any{&h.ID, &h.AgentID, &h.Timestamp} }

type ContextType string

const (
	ContextCompose ContextType = "compose"
	ContextSwarm   ContextType = "swarm"
)

func (t ContextType) Valid() bool { return t == ContextCompose || t == ContextSwarm }

// Context groups containers of one agent (a compose project or swarm stack).
type Context struct {
	ID      int64       `json:"id"`
	AgentID string      `json:"agent_id"`
	Name    string      `json:"name"`
	Type    ContextType `json:"type"`
}

func (c *Context) EntityType() Type  { return TypeContext }
func (c *Context) EntityID() string  { return serialID(c.ID) }
func (c *Context) AssignID(id int64) { c.ID = id }
func (c *Context) Values() []any     { return []any{c.ID, c.AgentID, c.Name, string(c.Type)} }
func (c *Context) Targets() []any    { return []any{&c.ID, &c.AgentID, &c.Name, &c.Type} }

// Container is a workload observed by an agent. CreatedAt is unix seconds.
// Context is nil for containers outside any compose/swarm context.
type Container struct {
	ID        string `json:"id"`
	AgentID   string `json:"agent_id"`
	Context   *int64 `json:"context"`
	Name      string `json:"name"`
	Image     string `json:"image"`
	CreatedAt int64  `json:"created_at"`
}

func (c *Container) EntityType() Type { return TypeContainer }
func (c *Container) EntityID() string { return c.ID }
func (c *Container) Values() []any {
	return []any{c.ID, c.AgentID, c.Context, c.Name, c.Image, c.CreatedAt}
}
func (c *Container) Targets() []any {
	return []any{&c.ID, &c.AgentID, &c.Context, &c.Name, &c.Image, &c.CreatedAt}
}

const (
	StatusRunning = "running"
	StatusUnknown = "unknown"
)

// ContainerState is the last reported status of a container. ID is the container id.
type ContainerState struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Since  int64  `json:"since"`
}

func (s *ContainerState) EntityType() Type { return TypeContainerState }
func (s *ContainerState) EntityID() string { return s.ID }
func (s *ContainerState) Values() []any    { return []any{s.ID, s.Status, s.Since} }
func (s *ContainerState) Targets() []any   { return []any{&s.ID, &s.Status, &s.Since} }

// Log is one log line of a container. Timestamp is unix nanoseconds.
type Log struct {
	ID          int64  `json:"id"`
	ContainerID string `json:"container_id"`
	Timestamp   int64  `json:"timestamp"`
	Level       string `json:"level"`
	Stream      string `json:"stream"`
	Message     string `json:"message"`
}

func (l *Log) EntityType() Type  { return TypeLog }
func (l *Log) EntityID() string  { return serialID(l.ID) }
func (l *Log) AssignID(id int64) { l.ID = id }
func (l *Log) Values() []any {
	return []any{l.ID, l.ContainerID, l.Timestamp, l.Level, l.Stream, l.Message}
}
func (l *Log) Targets() []any {
	return []any{&l.ID, &l.ContainerID, &l.Timestamp, &l.Level, &l.Stream, &l.Message}
}

// ContainerUptime is the running uptime account of one container. Times are unix seconds.
type ContainerUptime struct {
	ContainerID      string  `json:"container_id"`
	UptimeSeconds    int64   `json:"uptime_seconds"`
	UptimePercentage float64 `json:"uptime_percentage"`
	FirstRecorded    int64   `json:"first_recorded"`
	LastChecked      int64   `json:"last_checked"`
	LastStatus       string  `json:"last_status"`
}

func (u *ContainerUptime) EntityType() Type { return TypeContainerUptime }
func (u *ContainerUptime) EntityID() string { return u.ContainerID }
func (u *ContainerUptime) Values() []any {
	return []any{u.ContainerID, u.UptimeSeconds, u.UptimePercentage, u.FirstRecorded, u.LastChecked, u.LastStatus}
}
func (u *ContainerUptime) Targets() []any {
	return []any{&u.ContainerID, &u.UptimeSeconds, &u.UptimePercentage, &u.FirstRecorded, &u.LastChecked, &u.LastStatus}
}

// UptimeSection is a contiguous range during which a container kept one status.
// EndedAt is zero while the section is open.
type UptimeSection struct {
	ID          int64  `json:"id"`
	ContainerID string `json:"container_id"`
	Status      string `json:"status"`
	StartedAt   int64  `json:"started_at"`
	EndedAt     int64  `json:"ended_at"`
}

func (s *UptimeSection) EntityType() Type  { return TypeUptimeSection }
func (s *UptimeSection) EntityID() string  { return serialID(s.ID) }
func (s *UptimeSection) AssignID(id int64) { s.ID = id }
func (s *UptimeSection) Open() bool        { return s.EndedAt == 0 }
func (s *UptimeSection) Values() []any {
	return []any{s.ID, s.ContainerID, s.Status, s.StartedAt, s.EndedAt}
}
func (s *UptimeSection) Targets() []any {
	return []any{&s.ID, &s.ContainerID, &s.Status, &s.StartedAt, &s.EndedAt}
}

type AliveState string

const (
	AliveActive   AliveState = "active"
	AliveInactive AliveState = "inactive"
)

// AliveAgent is the liveness verdict for an agent.
type AliveAgent struct {
	AgentID   string     `json:"agent_id"`
	State     AliveState `json:"state"`
	ChangedAt int64      `json:"changed_at"`
}

func (a *AliveAgent) EntityType() Type { return TypeAliveAgent }
func (a *AliveAgent) EntityID() string { return a.AgentID }
func (a *AliveAgent) Values() []any    { return []any{a.AgentID, string(a.State), a.ChangedAt} }
func (a *AliveAgent) Targets() []any   { return []any{&a.AgentID, &a.State, &a.ChangedAt} }

func serialID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}
