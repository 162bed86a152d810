package processors

import (
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/clogs/internal/model"
	"github.com/loykin/clogs/internal/store"
)

func TestPercentage(t *testing.T) {
	assert.Equal(t, 0.0, Percentage(10, 0))
	assert.Equal(t, 0.0, Percentage(10, -5))
	assert.Equal(t, 100.0, Percentage(10, 10))
	assert.Equal(t, 100.0, Percentage(20, 10))
	assert.Equal(t, 66.6667, Percentage(2, 3))
	assert.Equal(t, 33.3333, Percentage(1, 3))
}

func sections(t *testing.T, h *harness, containerID string) []*model.UptimeSection {
	t.Helper()
	rows := h.find(t, store.NewQuery(model.TypeUptimeSection, store.Eq("container_id", containerID)).Order("started_at", false))
	out := make([]*model.UptimeSection, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.(*model.UptimeSection))
	}
	return out
}

func uptimeOf(t *testing.T, h *harness, containerID string) *model.ContainerUptime {
	t.Helper()
	return h.get(t, model.TypeContainerUptime, containerID).(*model.ContainerUptime)
}

func TestUptimeAccountsRunningTimeAndSections(t *testing.T) {
	h := newHarness(t, Config{}, NameUptime)
	t0 := h.clock.Now().Unix()
	h.write(t,
		&model.Container{ID: "c1", AgentID: "a1", CreatedAt: t0},
		&model.ContainerState{ID: "c1", Status: "Running", Since: t0},
	)

	h.tick(t, NameUptime)
	u := uptimeOf(t, h, "c1")
	assert.Zero(t, u.UptimeSeconds, "first tick adds nothing")
	assert.Equal(t, model.StatusRunning, u.LastStatus)
	require.Len(t, sections(t, h, "c1"), 1)

	h.clock.Advance(10 * time.Second)
	h.tick(t, NameUptime)
	u = uptimeOf(t, h, "c1")
	assert.Equal(t, int64(10), u.UptimeSeconds)
	assert.Equal(t, 100.0, u.UptimePercentage)
	require.Len(t, sections(t, h, "c1"), 1, "unchanged status keeps the section open")

	h.merge(t, &model.ContainerState{ID: "c1", Status: "exited", Since: t0 + 10})
	h.clock.Advance(5 * time.Second)
	h.tick(t, NameUptime)
	u = uptimeOf(t, h, "c1")
	assert.Equal(t, int64(10), u.UptimeSeconds)
	assert.Equal(t, 66.6667, u.UptimePercentage)

	secs := sections(t, h, "c1")
	require.Len(t, secs, 2)
	assert.Equal(t, model.StatusRunning, secs[0].Status)
	assert.Equal(t, t0, secs[0].StartedAt)
	assert.Equal(t, t0+15, secs[0].EndedAt)
	assert.Equal(t, "exited", secs[1].Status)
	assert.Equal(t, t0+15, secs[1].StartedAt)
	assert.True(t, secs[1].Open())
}

func TestUptimeMissingStateIsUnknown(t *testing.T) {
	h := newHarness(t, Config{}, NameUptime)
	h.write(t, &model.Container{ID: "c1", AgentID: "a1"})
	h.tick(t, NameUptime)

	u := uptimeOf(t, h, "c1")
	assert.Equal(t, model.StatusUnknown, u.LastStatus)
	assert.Equal(t, h.clock.Now().Unix(), u.FirstRecorded)
	secs := sections(t, h, "c1")
	require.Len(t, secs, 1)
	assert.Equal(t, model.StatusUnknown, secs[0].Status)
}

func TestUptimeClampedToLifetime(t *testing.T) {
	h := newHarness(t, Config{}, NameUptime)
	now := h.clock.Now().Unix()
	h.write(t,
		&model.Container{ID: "c1", AgentID: "a1", CreatedAt: now - 100},
		&model.ContainerState{ID: "c1", Status: model.StatusRunning},
		// Double counted across a restart.
		&model.ContainerUptime{ContainerID: "c1", UptimeSeconds: 500, FirstRecorded: now - 100,
			LastChecked: now - 5, LastStatus: model.StatusRunning},
	)
	h.tick(t, NameUptime)
	u := uptimeOf(t, h, "c1")
	assert.Equal(t, int64(100), u.UptimeSeconds)
	assert.Equal(t, 100.0, u.UptimePercentage)
}

func TestUptimeNeverExceedsLifetime(t *testing.T) {
	h := newHarness(t, Config{}, NameUptime)
	start := h.clock.Now().Unix()
	h.write(t,
		&model.Container{ID: "c1", AgentID: "a1", CreatedAt: start},
		&model.ContainerState{ID: "c1", Status: model.StatusRunning},
	)

	rng := rand.New(rand.NewSource(7))
	statuses := []string{model.StatusRunning, model.StatusRunning, "exited", "restarting"}
	for i := 0; i < 200; i++ {
		if rng.Intn(3) == 0 {
			h.merge(t, &model.ContainerState{ID: "c1", Status: statuses[rng.Intn(len(statuses))]})
		}
		// Ticks arrive late or bunched up.
		h.clock.Advance(time.Duration(rng.Intn(20)) * time.Second)
		h.tick(t, NameUptime)

		u := uptimeOf(t, h, "c1")
		now := h.clock.Now().Unix()
		require.LessOrEqual(t, u.UptimeSeconds, now-u.FirstRecorded)
		require.LessOrEqual(t, u.UptimePercentage, 100.0)
	}

	open := 0
	for _, s := range sections(t, h, "c1") {
		if s.Open() {
			open++
		}
	}
	assert.Equal(t, 1, open, "exactly one section stays open")
}

func TestUptimeEndpoints(t *testing.T) {
	h := newHarness(t, Config{}, NameUptime)
	h.write(t,
		&model.Container{ID: "c1", AgentID: "a1"},
		&model.ContainerState{ID: "c1", Status: model.StatusRunning},
	)
	h.tick(t, NameUptime)

	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/processors/uptime", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list []model.ContainerUptime
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "c1", list[0].ContainerID)

	w = httptest.NewRecorder()
	h.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/processors/uptime/c1/sections", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var secs []model.UptimeSection
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &secs))
	require.Len(t, secs, 1)
	assert.Equal(t, model.StatusRunning, secs[0].Status)
}
