package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/clogs/internal/clock"
	"github.com/loykin/clogs/internal/metrics"
	"github.com/loykin/clogs/internal/model"
)

// State is the position of a processor loop in its tick cycle.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateSleeping State = "sleeping"
	StateStopped  State = "stopped"
)

// DefaultMinSleep bounds how tightly a loop can spin when ticks overrun.
const DefaultMinSleep = 100 * time.Millisecond

var errStopped = errors.New("processor: stopped")

// Scheduler runs one interval loop per registered processor.
type Scheduler struct {
	reg      *Registry
	logger   *slog.Logger
	clock    clock.Clock
	minSleep time.Duration

	mu       sync.Mutex
	started  bool
	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type Option func(*Scheduler)

func WithMinSleep(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.minSleep = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the clock used to stamp LastRun.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

func NewScheduler(reg *Registry, opts ...Option) *Scheduler {
	s := &Scheduler{
		reg:      reg,
		logger:   slog.Default(),
		clock:    clock.Real(),
		minSleep: DefaultMinSleep,
		quit:     make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start launches a loop for every registered instance. Loops exit when ctx is
// cancelled or Shutdown is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	select {
	case <-s.quit:
		return fmt.Errorf("scheduler is shut down")
	default:
	}
	s.started = true
	for _, inst := range s.reg.Instances() {
		s.wg.Add(1)
		go s.loop(ctx, inst)
	}
	s.logger.Info("scheduler started", "processors", len(s.reg.Instances()))
	return nil
}

func (s *Scheduler) loop(ctx context.Context, inst *Instance) {
	defer s.wg.Done()
	// In-flight ticks finish even when ctx is cancelled mid-tick.
	tickCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-s.quit:
			return
		case <-ctx.Done():
			return
		default:
		}

		start := time.Now()
		_ = s.Tick(tickCtx, inst)

		sleep := nextSleep(inst.Interval, time.Since(start), s.minSleep)
		inst.setState(StateSleeping)
		t := time.NewTimer(sleep)
		select {
		case <-t.C:
			inst.setState(StateIdle)
		case <-s.quit:
			t.Stop()
			return
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
}

// nextSleep keeps ticks on an interval cadence measured from tick start, but
// never sleeps less than floor.
func nextSleep(interval, elapsed, floor time.Duration) time.Duration {
	return max(interval-elapsed, floor)
}

// Tick runs one interval cycle of inst on its private session: OnInterval,
// then OnIntervalEach over every row of the input type, then a single commit.
// Any error or panic rolls the session back and leaves LastRun untouched.
// A contract violation on one row skips that row only.
func (s *Scheduler) Tick(ctx context.Context, inst *Instance) error {
	name := inst.Name()
	started := s.clock.Now()
	wall := time.Now()
	inst.setState(StateRunning)
	defer inst.setState(StateIdle)

	sess := inst.Session()
	if sess == nil {
		return errStopped
	}

	err := safeCall(func() error { return s.runTick(ctx, inst) })
	inst.ticks.Add(1)
	metrics.ObserveTickDuration(name, time.Since(wall).Seconds())
	if err != nil {
		inst.failures.Add(1)
		if rbErr := sess.Rollback(); rbErr != nil {
			s.logger.Warn("processor rollback failed", "processor", name, "error", rbErr)
		}
		result := "error"
		if errors.Is(err, ErrPanic) {
			result = "panic"
		}
		metrics.IncTick(name, result)
		s.logger.Error("processor tick failed", "processor", name, "error", err)
		return err
	}
	inst.lastRun.Store(started.UnixNano())
	metrics.IncTick(name, "ok")
	return nil
}

func (s *Scheduler) runTick(ctx context.Context, inst *Instance) error {
	sess := inst.Session()
	if err := inst.Processor.OnInterval(ctx, sess); err != nil {
		return fmt.Errorf("on_interval: %w", err)
	}
	if inst.Input != model.TypeNone {
		const hook = "on_interval_each"
		rows, err := sess.All(ctx, inst.Input)
		if err != nil {
			return fmt.Errorf("load %s: %w", inst.Input, err)
		}
		for _, row := range rows {
			out, err := inst.Processor.OnIntervalEach(ctx, sess, row)
			if err != nil {
				return fmt.Errorf("%s %s/%s: %w", hook, row.EntityType(), row.EntityID(), err)
			}
			action, err := reconcile(inst.Definition, opEach, hook, out)
			if err != nil {
				metrics.IncHookFailure(inst.Name(), hook, failureReason(err))
				s.logger.Error("processor result discarded", "processor", inst.Name(), "hook", hook,
					"entity_type", row.EntityType().String(), "entity_id", row.EntityID(), "error", err)
				continue
			}
			switch action {
			case ActionMerge:
				err = sess.Merge(ctx, out)
			case ActionInsert:
				err = sess.Add(ctx, out)
			}
			if err != nil {
				return fmt.Errorf("persist %s result: %w", out.EntityType(), err)
			}
		}
	}
	return sess.Commit(ctx)
}

// Shutdown stops every loop, waits for in-flight ticks and then shuts the
// registry down. Only the first call has an effect. If ctx expires before the
// loops drain, the registry is still shut down and ctx's error is returned.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		close(s.quit)
		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("scheduler shutdown: %w", ctx.Err())
			s.logger.Warn("scheduler shutdown timed out waiting for ticks", "error", ctx.Err())
		}
		s.reg.Shutdown(context.WithoutCancel(ctx))
		s.logger.Info("scheduler stopped")
	})
	return err
}

// LoopStatus is a point-in-time view of one processor loop.
type LoopStatus struct {
	Name            string     `json:"name"`
	Input           string     `json:"input"`
	Output          string     `json:"output"`
	State           State      `json:"state"`
	IntervalSeconds float64    `json:"interval_seconds"`
	LastRun         *time.Time `json:"last_run,omitempty"`
	Ticks           uint64     `json:"ticks"`
	Failures        uint64     `json:"failures"`
}

func (s *Scheduler) Status() []LoopStatus {
	list := s.reg.Instances()
	out := make([]LoopStatus, 0, len(list))
	for _, inst := range list {
		st := LoopStatus{
			Name:            inst.Name(),
			Input:           inst.Input.String(),
			Output:          inst.Output.String(),
			State:           inst.State(),
			IntervalSeconds: inst.Interval.Seconds(),
			Ticks:           inst.ticks.Load(),
			Failures:        inst.failures.Load(),
		}
		if lr := inst.LastRun(); !lr.IsZero() {
			st.LastRun = &lr
		}
		out = append(out, st)
	}
	return out
}
