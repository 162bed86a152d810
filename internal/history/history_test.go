package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	closed bool
}

func (r *recordingSink) Send(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingSink) Close() error {
	r.closed = true
	return nil
}

func TestFanoutDeliversToAllSinks(t *testing.T) {
	failing := &recordingSink{err: errors.New("down")}
	ok := &recordingSink{}
	f := NewFanout(nil, failing, ok)

	e := Event{Type: EventAgentInactive, OccurredAt: time.Now().UTC(), AgentID: "a1"}
	err := f.Send(context.Background(), e)
	require.Error(t, err)
	assert.Len(t, ok.events, 1, "healthy sink must still receive the event")
	assert.Equal(t, "a1", ok.events[0].AgentID)

	require.NoError(t, f.Close())
	assert.True(t, failing.closed)
	assert.True(t, ok.closed)
}

func TestEmptyFanout(t *testing.T) {
	f := NewFanout(nil)
	assert.Equal(t, 0, f.Len())
	assert.NoError(t, f.Send(context.Background(), Event{Type: EventSectionOpened}))
}

func TestFanoutAssignsSharedID(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	f := NewFanout(nil, a, b)
	require.NoError(t, f.Send(context.Background(), Event{Type: EventAgentActive}))

	require.Len(t, a.events, 1)
	require.Len(t, b.events, 1)
	assert.NotEmpty(t, a.events[0].ID)
	assert.Equal(t, a.events[0].ID, b.events[0].ID)
	assert.False(t, a.events[0].OccurredAt.IsZero())

	require.NoError(t, f.Send(context.Background(), Event{ID: "fixed", Type: EventAgentActive}))
	assert.Equal(t, "fixed", a.events[1].ID)
}

func TestSplitTable(t *testing.T) {
	tests := []struct {
		in, dsn, table string
	}{
		{"postgres://u@h/db", "postgres://u@h/db", ""},
		{"postgres://u@h/db?sslmode=disable&table=events", "postgres://u@h/db?sslmode=disable", "events"},
		{"postgres://u@h/db?table=events&sslmode=disable", "postgres://u@h/db?sslmode=disable", "events"},
		{":memory:?table=t1", ":memory:", "t1"},
	}
	for _, tt := range tests {
		dsn, table := SplitTable(tt.in)
		assert.Equal(t, tt.dsn, dsn, tt.in)
		assert.Equal(t, tt.table, table, tt.in)
	}
	assert.True(t, ValidTable("telemetry_history"))
	assert.False(t, ValidTable("x; DROP TABLE y"))
}
