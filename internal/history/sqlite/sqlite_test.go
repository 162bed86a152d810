package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/clogs/internal/history"
)

func TestSQLiteSink_Integration(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")

	sink, err := New("sqlite://" + dbPath)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	ctx := context.Background()
	now := time.Now().UTC()
	events := []history.Event{
		{Type: history.EventAgentActive, OccurredAt: now, AgentID: "a1", State: "active"},
		{Type: history.EventSectionOpened, OccurredAt: now, ContainerID: "c1", State: "running"},
	}
	for _, e := range events {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("Failed to send %s event: %v", e.Type, err)
		}
	}

	var count int
	if err := sink.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM telemetry_history").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 rows, got %d", count)
	}
	var typ string
	if err := sink.DB().QueryRowContext(ctx, "SELECT type FROM telemetry_history WHERE container_id = ?", "c1").Scan(&typ); err != nil {
		t.Fatalf("select: %v", err)
	}
	if typ != string(history.EventSectionOpened) {
		t.Fatalf("unexpected type %q", typ)
	}
}

func TestSQLiteSink_InMemory(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create in-memory sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	e := history.Event{Type: history.EventAgentInactive, OccurredAt: time.Now().UTC(), AgentID: "a2"}
	if err := sink.Send(context.Background(), e); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestSQLiteSink_CustomTable(t *testing.T) {
	sink, err := New("sqlite://:memory:?table=fleet_events")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = sink.Close() }()
	if sink.Table() != "fleet_events" {
		t.Fatalf("unexpected table %q", sink.Table())
	}

	e := history.Event{ID: "ev-1", Type: history.EventAgentActive, OccurredAt: time.Now().UTC(), AgentID: "a3"}
	if err := sink.Send(context.Background(), e); err != nil {
		t.Fatalf("send: %v", err)
	}
	var id string
	if err := sink.DB().QueryRow("SELECT event_id FROM fleet_events WHERE agent_id = ?", "a3").Scan(&id); err != nil {
		t.Fatalf("select: %v", err)
	}
	if id != "ev-1" {
		t.Fatalf("unexpected event id %q", id)
	}
}
