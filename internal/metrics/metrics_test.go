package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	// idempotent: calling again should be no-op
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	IncTick("liveness", "ok")
	IncTick("liveness", "error")
	ObserveTickDuration("liveness", 0.25)
	IncHookCall("logcompressor", "on_insert")
	IncHookFailure("logcompressor", "on_insert", "contract")
	SetLoopState("liveness", "sleeping")
	SetActiveAgents(3)
	IncIngested("log", 5)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"clogs_processor_ticks_total":           false,
		"clogs_processor_tick_duration_seconds": false,
		"clogs_processor_hook_calls_total":      false,
		"clogs_processor_hook_failures_total":   false,
		"clogs_processor_loop_state":            false,
		"clogs_agent_active":                    false,
		"clogs_ingest_entities_total":           false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", n)
			}
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}
}

func TestSetLoopStateIsExclusive(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatal(err)
	}
	SetLoopState("uptime", "running")
	SetLoopState("uptime", "stopped")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	got := map[string]float64{}
	for _, mf := range mfs {
		if mf.GetName() != "clogs_processor_loop_state" {
			continue
		}
		for _, m := range mf.GetMetric() {
			if label(m, "processor") == "uptime" {
				got[label(m, "state")] = m.GetGauge().GetValue()
			}
		}
	}
	if got["stopped"] != 1 || got["running"] != 0 || got["sleeping"] != 0 {
		t.Fatalf("unexpected loop states: %v", got)
	}
}

func label(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func TestHandlerServesMetrics(t *testing.T) {
	// Reset regOK gate to allow registration in this test regardless of previous tests.
	regOK.Store(false)
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	IncTick("x", "ok")

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	s := string(b)
	if !strings.Contains(s, "clogs_processor_ticks_total") {
		t.Fatalf("metrics output missing ticks_total: %s", s[:min(200, len(s))])
	}
}

func TestConcurrentIncrements(t *testing.T) {
	reg := prometheus.NewRegistry()
	regOK.Store(false)
	if err := Register(reg); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			IncTick("c", "ok")
			IncHookCall("c", "on_get")
			SetLoopState("c", "running")
		}()
	}
	wg.Wait()
	// Ensure gather succeeds under race detector
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
}

func TestMetricsBeforeRegister(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	// These should be no-ops and not panic when called before Register
	IncTick("test", "ok")
	ObserveTickDuration("test", 1.0)
	IncHookCall("test", "on_insert")
	IncHookFailure("test", "on_insert", "panic")
	SetLoopState("test", "idle")
	SetActiveAgents(5)
	IncIngested("heartbeat", 1)
}

func TestRegisterError(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	err := Register(&errorRegisterer{})
	if err == nil {
		t.Fatal("Register should return error from failing registerer")
	}
	if err.Error() != "test registration error" {
		t.Fatalf("unexpected error: %v", err)
	}
}

type errorRegisterer struct{}

func (e *errorRegisterer) Register(prometheus.Collector) error {
	return errors.New("test registration error")
}

func (e *errorRegisterer) MustRegister(...prometheus.Collector)  {}
func (e *errorRegisterer) Unregister(prometheus.Collector) bool { return false }
