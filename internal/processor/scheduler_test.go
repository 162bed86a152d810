package processor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/clogs/internal/clock"
	"github.com/loykin/clogs/internal/model"
	"github.com/loykin/clogs/internal/store"
)

func seedContainers(t *testing.T, f *fixture, ids ...string) {
	t.Helper()
	ctx := context.Background()
	sess := f.raw.Session()
	for _, id := range ids {
		require.NoError(t, sess.Add(ctx, &model.Container{ID: id, AgentID: "a1"}))
	}
	require.NoError(t, sess.Commit(ctx))
}

func TestTickReconcilesEachRow(t *testing.T) {
	f := newFixture(t)
	seedContainers(t, f, "good1", "bad", "good2")
	intervals := 0
	f.register(t, def("sections", model.TypeContainer, model.TypeUptimeSection, &stub{
		interval: func(context.Context, store.Session) error { intervals++; return nil },
		each: func(_ context.Context, _ store.Session, e model.Entity) (model.Entity, error) {
			if e.EntityID() == "bad" {
				return &model.Log{ContainerID: "bad"}, nil
			}
			return &model.UptimeSection{ContainerID: e.EntityID(), Status: "running"}, nil
		},
	}))

	fc := clock.NewFake(time.Unix(1000, 0))
	sch := NewScheduler(f.reg, WithLogger(quiet), WithClock(fc))
	inst, _ := f.reg.Lookup("sections")

	require.NoError(t, sch.Tick(context.Background(), inst))
	assert.Equal(t, 1, intervals)
	assert.Len(t, f.committed(t, model.TypeUptimeSection), 2)
	assert.Empty(t, f.committed(t, model.TypeLog))
	assert.True(t, inst.LastRun().Equal(time.Unix(1000, 0)))
	assert.Equal(t, StateIdle, inst.State())
}

func TestTickMergesSameType(t *testing.T) {
	f := newFixture(t)
	seedContainers(t, f, "c1", "c2")
	f.register(t, def("rename", model.TypeContainer, model.TypeContainer, &stub{
		each: func(_ context.Context, _ store.Session, e model.Entity) (model.Entity, error) {
			c := *e.(*model.Container)
			c.Name = "renamed-" + c.ID
			return &c, nil
		},
	}))
	inst, _ := f.reg.Lookup("rename")
	require.NoError(t, NewScheduler(f.reg, WithLogger(quiet)).Tick(context.Background(), inst))

	rows := f.committed(t, model.TypeContainer)
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, "renamed-"+r.EntityID(), r.(*model.Container).Name)
	}
}

func TestTickFailureRollsBack(t *testing.T) {
	for _, mode := range []string{"error", "panic"} {
		t.Run(mode, func(t *testing.T) {
			f := newFixture(t)
			seedContainers(t, f, "c1")
			f.register(t, def("broken", model.TypeContainer, model.TypeUptimeSection, &stub{
				interval: func(ctx context.Context, sess store.Session) error {
					return sess.Add(ctx, &model.Log{ContainerID: "c1", Message: "partial"})
				},
				each: func(context.Context, store.Session, model.Entity) (model.Entity, error) {
					if mode == "panic" {
						panic("each")
					}
					return nil, errors.New("each")
				},
			}))
			inst, _ := f.reg.Lookup("broken")
			sch := NewScheduler(f.reg, WithLogger(quiet))

			err := sch.Tick(context.Background(), inst)
			require.Error(t, err)
			if mode == "panic" {
				assert.ErrorIs(t, err, ErrPanic)
			}
			assert.Empty(t, f.committed(t, model.TypeLog))
			assert.True(t, inst.LastRun().IsZero())

			st := sch.Status()
			require.Len(t, st, 1)
			assert.Equal(t, uint64(1), st[0].Ticks)
			assert.Equal(t, uint64(1), st[0].Failures)
			assert.Nil(t, st[0].LastRun)
		})
	}
}

func TestTickWithoutInputRunsIntervalOnly(t *testing.T) {
	f := newFixture(t)
	seedContainers(t, f, "c1")
	var each atomic.Int32
	f.register(t, def("janitor", model.TypeNone, model.TypeNone, &stub{
		each: func(context.Context, store.Session, model.Entity) (model.Entity, error) {
			each.Add(1)
			return nil, nil
		},
	}))
	inst, _ := f.reg.Lookup("janitor")
	require.NoError(t, NewScheduler(f.reg, WithLogger(quiet)).Tick(context.Background(), inst))
	assert.Zero(t, each.Load())
	assert.False(t, inst.LastRun().IsZero())
}

func TestFailingLoopDoesNotDisturbOthers(t *testing.T) {
	f := newFixture(t)
	var good atomic.Int32
	bad := def("bad", model.TypeNone, model.TypeNone, &stub{
		interval: func(context.Context, store.Session) error { panic("always") },
	})
	bad.Interval = 10 * time.Millisecond
	ok := def("good", model.TypeNone, model.TypeNone, &stub{
		interval: func(context.Context, store.Session) error { good.Add(1); return nil },
	})
	ok.Interval = 10 * time.Millisecond
	f.register(t, bad, ok)

	sch := NewScheduler(f.reg, WithLogger(quiet), WithMinSleep(time.Millisecond))
	require.NoError(t, sch.Start(context.Background()))
	assert.Error(t, sch.Start(context.Background()))

	require.Eventually(t, func() bool { return good.Load() >= 5 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, sch.Shutdown(context.Background()))

	byName := map[string]LoopStatus{}
	for _, s := range sch.Status() {
		byName[s.Name] = s
	}
	assert.Equal(t, byName["bad"].Ticks, byName["bad"].Failures)
	assert.NotZero(t, byName["bad"].Failures)
	assert.Zero(t, byName["good"].Failures)
	assert.NotNil(t, byName["good"].LastRun)
	assert.Nil(t, byName["bad"].LastRun)
	assert.Equal(t, StateStopped, byName["good"].State)
}

// countingStore counts Close calls on the sessions it hands out.
type countingStore struct {
	store.Store
	closes *atomic.Int32
}

func (c countingStore) Session() store.Session {
	return countingSession{Session: c.Store.Session(), closes: c.closes}
}

type countingSession struct {
	store.Session
	closes *atomic.Int32
}

func (c countingSession) Close() error {
	c.closes.Add(1)
	return c.Session.Close()
}

func TestShutdownWaitsForInFlightTick(t *testing.T) {
	f := newFixture(t)
	var closes, shutdowns, ticks, finished atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})

	slow := def("slow", model.TypeNone, model.TypeNone, &stub{
		interval: func(context.Context, store.Session) error {
			if ticks.Add(1) == 1 {
				close(entered)
				<-release
			}
			finished.Add(1)
			return nil
		},
		shutdown: func(context.Context) error { shutdowns.Add(1); return nil },
	})
	slow.Interval = time.Hour
	idle := def("idle", model.TypeNone, model.TypeNone, &stub{
		shutdown: func(context.Context) error { shutdowns.Add(1); return nil },
	})
	idle.Interval = time.Hour
	loaded := f.reg.LoadAll(context.Background(), []Definition{slow, idle},
		Env{Store: countingStore{Store: f.st, closes: &closes}, Logger: quiet})
	require.Len(t, loaded, 2)

	sch := NewScheduler(f.reg, WithLogger(quiet))
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, sch.Start(ctx))
	<-entered
	idleInst, _ := f.reg.Lookup("idle")
	require.Eventually(t, func() bool { return !idleInst.LastRun().IsZero() }, time.Second, 5*time.Millisecond)
	cancel()

	done := make(chan error, 1)
	go func() { done <- sch.Shutdown(context.Background()) }()

	select {
	case <-done:
		t.Fatal("shutdown returned while a tick was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Zero(t, shutdowns.Load())

	close(release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not return")
	}

	assert.Equal(t, int32(1), finished.Load())
	assert.Equal(t, int32(2), shutdowns.Load())
	assert.Equal(t, int32(2), closes.Load())

	require.NoError(t, sch.Shutdown(context.Background()))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), ticks.Load())
	assert.Equal(t, int32(2), shutdowns.Load())
	assert.Equal(t, int32(2), closes.Load())
	assert.Error(t, sch.Start(context.Background()))
}

func TestNextSleep(t *testing.T) {
	tests := []struct {
		name                   string
		interval, elapsed, min time.Duration
		want                   time.Duration
	}{
		{"short tick", 5 * time.Second, 2 * time.Second, 100 * time.Millisecond, 3 * time.Second},
		{"instant tick", 5 * time.Second, 0, 100 * time.Millisecond, 5 * time.Second},
		{"tick equals interval", 5 * time.Second, 5 * time.Second, 100 * time.Millisecond, 100 * time.Millisecond},
		{"tick overruns interval", 5 * time.Second, 9 * time.Second, 100 * time.Millisecond, 100 * time.Millisecond},
		{"near the floor", 5 * time.Second, 4950 * time.Millisecond, 100 * time.Millisecond, 100 * time.Millisecond},
		{"interval below floor", 10 * time.Millisecond, 0, 100 * time.Millisecond, 100 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nextSleep(tt.interval, tt.elapsed, tt.min))
		})
	}
}

func TestSlowTickRestartsAfterMinSleep(t *testing.T) {
	f := newFixture(t)
	var mu sync.Mutex
	var starts []time.Time
	d := def("slow", model.TypeNone, model.TypeNone, &stub{
		interval: func(context.Context, store.Session) error {
			mu.Lock()
			starts = append(starts, time.Now())
			mu.Unlock()
			time.Sleep(60 * time.Millisecond)
			return nil
		},
	})
	d.Interval = 20 * time.Millisecond
	f.register(t, d)

	sch := NewScheduler(f.reg, WithLogger(quiet), WithMinSleep(30*time.Millisecond))
	require.NoError(t, sch.Start(context.Background()))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(starts) >= 3
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, sch.Shutdown(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(starts); i++ {
		gap := starts[i].Sub(starts[i-1])
		// 60ms tick plus the 30ms floor; the 20ms interval is already spent.
		assert.GreaterOrEqual(t, gap, 90*time.Millisecond)
		assert.Less(t, gap, 500*time.Millisecond)
	}
}
