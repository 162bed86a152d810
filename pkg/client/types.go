package client

import "time"

// Agent mirrors the collector's agent record.
type Agent struct {
	ID                string `json:"id,omitempty"`
	Hostname          string `json:"hostname"`
	HeartbeatInterval int64  `json:"heartbeat_interval,omitempty"`
	DiscoveryInterval int64  `json:"discovery_interval,omitempty"`
	OnHost            bool   `json:"on_host"`
}

// Container mirrors the collector's container record. Context is the id of a
// compose/swarm context registered with RegisterContext.
type Container struct {
	ID        string `json:"id,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
	Context   *int64 `json:"context"`
	Name      string `json:"name"`
	Image     string `json:"image"`
	CreatedAt int64  `json:"created_at"`
}

// Context is a compose project ("compose") or swarm stack ("swarm").
type Context struct {
	ID      int64  `json:"id,omitempty"`
	AgentID string `json:"agent_id,omitempty"`
	Name    string `json:"name"`
	Type    string `json:"type"`
}

// LogLine is one line to upload. Zero Timestamp means "now" on the server.
type LogLine struct {
	Timestamp int64  `json:"timestamp,omitempty"`
	Level     string `json:"level,omitempty"`
	Stream    string `json:"stream,omitempty"`
	Message   string `json:"message"`
}

// LogBatch groups lines of one container.
type LogBatch struct {
	ContainerID string    `json:"container_id"`
	Logs        []LogLine `json:"logs"`
}

// Log is a stored log row as returned by the web API.
type Log struct {
	ID          int64  `json:"id"`
	ContainerID string `json:"container_id"`
	Timestamp   int64  `json:"timestamp"`
	Level       string `json:"level"`
	Stream      string `json:"stream"`
	Message     string `json:"message"`
}

// LogQuery filters ListLogs. Zero values mean no filter; Limit 0 uses the
// server default.
type LogQuery struct {
	ContainerID string
	Level       string
	Limit       int
}

// LoopStatus is the scheduler view of one processor.
type LoopStatus struct {
	Name            string     `json:"name"`
	Input           string     `json:"input"`
	Output          string     `json:"output"`
	State           string     `json:"state"`
	IntervalSeconds float64    `json:"interval_seconds"`
	LastRun         *time.Time `json:"last_run,omitempty"`
	Ticks           uint64     `json:"ticks"`
	Failures        uint64     `json:"failures"`
}

// ContainerUptime is the uptime account of one container.
type ContainerUptime struct {
	ContainerID      string  `json:"container_id"`
	UptimeSeconds    int64   `json:"uptime_seconds"`
	UptimePercentage float64 `json:"uptime_percentage"`
	FirstRecorded    int64   `json:"first_recorded"`
	LastChecked      int64   `json:"last_checked"`
	LastStatus       string  `json:"last_status"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
