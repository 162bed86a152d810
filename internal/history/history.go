package history

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// EventType defines the kind of derived-state transition.
type EventType string

const (
	EventAgentActive      EventType = "agent_active"
	EventAgentInactive    EventType = "agent_inactive"
	EventContainerUnknown EventType = "container_unknown"
	EventSectionOpened    EventType = "section_opened"
)

// Event is a derived-state transition exported to external systems.
type Event struct {
	// ID is the same in every sink; Fanout assigns one when empty.
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	OccurredAt  time.Time `json:"occurred_at"`
	AgentID     string    `json:"agent_id,omitempty"`
	ContainerID string    `json:"container_id,omitempty"`
	State       string    `json:"state,omitempty"`
	Detail      string    `json:"detail,omitempty"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Fanout delivers every event to all sinks. Failures are logged and joined;
// one failing sink does not stop delivery to the others.
type Fanout struct {
	sinks  []Sink
	logger *slog.Logger
}

func NewFanout(logger *slog.Logger, sinks ...Sink) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{sinks: sinks, logger: logger}
}

func (f *Fanout) Len() int { return len(f.sinks) }

func (f *Fanout) Send(ctx context.Context, e Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	var errs []error
	for _, s := range f.sinks {
		if err := s.Send(ctx, e); err != nil {
			f.logger.Warn("history sink failed", "event", e.Type, "sink", sinkName(s), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that holds resources.
func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func sinkName(s Sink) string {
	if n, ok := s.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "sink"
}
