// Package scheduler runs the sync pipeline on a fixed interval and on demand,
// never more than one cycle at a time.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Phase is the pipeline state reported by State.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseFetching Phase = "fetching"
	PhaseMerging  Phase = "merging"
	PhaseFailed   Phase = "failed"
)

// Trigger names, passed to the drop hook.
const (
	TriggerTick   = "tick"
	TriggerManual = "manual"
)

// RunFunc is one pipeline cycle.
type RunFunc func(ctx context.Context) error

type phaseKey struct{}

// EnterPhase reports a phase change from inside a running cycle. It is a
// no-op when ctx was not created by a Scheduler.
func EnterPhase(ctx context.Context, p Phase) {
	if f, ok := ctx.Value(phaseKey{}).(func(Phase)); ok {
		f(p)
	}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithDropHook is called with the trigger name whenever a cycle is skipped
// because another is in flight.
func WithDropHook(f func(trigger string)) Option {
	return func(s *Scheduler) { s.onDrop = f }
}

// Scheduler owns the poll timer and the in-flight flag.
type Scheduler struct {
	run    RunFunc
	onDrop func(string)

	inFlight atomic.Bool
	stopped  atomic.Bool
	phase    atomic.Value // Phase

	mu       sync.Mutex
	interval time.Duration
	parent   context.Context
	cancel   context.CancelFunc
	reset    chan time.Duration
	loopDone chan struct{}
	cycles   sync.WaitGroup
}

// New returns a stopped Scheduler. Trigger works before Start.
func New(interval time.Duration, run RunFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		run:      run,
		interval: interval,
		parent:   context.Background(),
		reset:    make(chan time.Duration, 1),
	}
	s.phase.Store(PhaseIdle)
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start fires one cycle immediately and then one per interval until Stop or
// ctx is cancelled. Cycles run with a context derived from ctx, so Stop does
// not abort a cycle already in flight.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.loopDone != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: already started")
	}
	if s.interval <= 0 {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: interval must be positive, got %v", s.interval)
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.parent = ctx
	s.cancel = cancel
	s.loopDone = make(chan struct{})
	interval := s.interval
	s.mu.Unlock()

	go s.loop(loopCtx, interval)
	return nil
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration) {
	defer close(s.loopDone)

	s.fire(TriggerTick)

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-s.reset:
			t.Reset(d)
			slog.Info("scheduler: interval changed", "interval", d)
		case <-t.C:
			s.fire(TriggerTick)
		}
	}
}

// Trigger requests a manual cycle. It returns false, without queueing
// anything, when a cycle is already in flight or the scheduler is stopped.
func (s *Scheduler) Trigger() bool {
	return s.fire(TriggerManual)
}

func (s *Scheduler) fire(trigger string) bool {
	if s.stopped.Load() {
		return false
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		slog.Debug("scheduler: cycle in flight, dropping", "trigger", trigger)
		if s.onDrop != nil {
			s.onDrop(trigger)
		}
		return false
	}

	s.mu.Lock()
	ctx := s.parent
	s.mu.Unlock()

	s.cycles.Add(1)
	go s.cycle(ctx, trigger)
	return true
}

func (s *Scheduler) cycle(ctx context.Context, trigger string) {
	defer s.cycles.Done()
	defer s.inFlight.Store(false)

	s.phase.Store(PhaseFetching)
	ctx = context.WithValue(ctx, phaseKey{}, func(p Phase) { s.phase.Store(p) })

	if err := s.safeRun(ctx); err != nil {
		s.phase.Store(PhaseFailed)
		slog.Warn("scheduler: cycle failed", "trigger", trigger, "err", err)
	}
	// Failed and Merging both end in Idle.
	s.phase.Store(PhaseIdle)
}

func (s *Scheduler) safeRun(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler: cycle panicked: %v", r)
		}
	}()
	return s.run(ctx)
}

// SetInterval changes the poll interval; the next tick is one full interval away.
func (s *Scheduler) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	if s.interval == d {
		s.mu.Unlock()
		return
	}
	s.interval = d
	s.mu.Unlock()

	// Keep only the latest pending change.
	select {
	case <-s.reset:
	default:
	}
	select {
	case s.reset <- d:
	default:
	}
}

// Interval returns the current poll interval.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Stop cancels the timer and waits for the loop to exit. No cycle starts
// after Stop returns; one already in flight runs to completion.
func (s *Scheduler) Stop() {
	s.stopped.Store(true)
	s.mu.Lock()
	cancel, done := s.cancel, s.loopDone
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// Wait blocks until no cycle is in flight.
func (s *Scheduler) Wait() { s.cycles.Wait() }

// InFlight reports whether a cycle is running.
func (s *Scheduler) InFlight() bool { return s.inFlight.Load() }

// State returns the current pipeline phase.
func (s *Scheduler) State() Phase { return s.phase.Load().(Phase) }
