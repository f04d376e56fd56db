package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/holderwatch/holderwatch/internal/alerts"
	"github.com/holderwatch/holderwatch/internal/compute"
	"github.com/holderwatch/holderwatch/internal/config"
	"github.com/holderwatch/holderwatch/internal/history"
	"github.com/holderwatch/holderwatch/internal/insight"
	"github.com/holderwatch/holderwatch/internal/retry"
	"github.com/holderwatch/holderwatch/internal/scheduler"
	"github.com/holderwatch/holderwatch/internal/source"
	"github.com/holderwatch/holderwatch/internal/telemetry"
	"github.com/holderwatch/holderwatch/pkg/types"
)

// ErrShutdown is returned by Sync when the engine stopped while the fetch
// was in flight. The reading is discarded.
var ErrShutdown = errors.New("engine: shut down, result discarded")

// Status is the sync state exposed to the presentation layer.
type Status struct {
	IsSyncing     bool       `json:"isSyncing"`
	LastError     string     `json:"lastError,omitempty"`
	LastErrorKind string     `json:"lastErrorKind,omitempty"`
	LastSyncAt    *time.Time `json:"lastSyncAt,omitempty"`
	LastSuccessAt *time.Time `json:"lastSuccessAt,omitempty"`
	State         string     `json:"state"`
	Cycles        uint64     `json:"cycles"`
	Failures      uint64     `json:"failures"`
	UptimePct     float64    `json:"uptimePct"`
	Health        string     `json:"health"`
	Interval      string     `json:"interval"`
	Samples       int        `json:"samples"`
	Evicted       uint64     `json:"evicted"`
}

// Update is published to subscribers after every finished cycle.
type Update struct {
	// Sample is the stored sample, nil when the cycle failed or was ignored.
	Sample  *types.Sample  `json:"sample,omitempty"`
	Outcome string         `json:"outcome"`
	Stats   types.Stats    `json:"stats"`
	Status  Status         `json:"status"`
	Alerts  []alerts.Alert `json:"alerts,omitempty"`
}

// View is the read side the API and WebSocket hub depend on.
type View interface {
	Snapshot() []types.Sample
	Filter(r compute.Range) compute.View
	Aggregate() types.Stats
	TriggerSync() bool
	Status() Status
	Insight() types.Report
	RefreshInsight(ctx context.Context) (types.Report, error)
	Feed(n int) []FeedEntry
	Alerts() []alerts.Alert
	Subscribe(fn func(Update)) (unsubscribe func())
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides time.Now for merges, stats and status timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMetrics wires Prometheus collectors.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithSummarizer overrides the summarizer built from config.
func WithSummarizer(s insight.Summarizer) Option {
	return func(e *Engine) { e.summarizer = s }
}

// WithSleeper replaces the retry backoff timer.
func WithSleeper(s retry.Sleeper) Option {
	return func(e *Engine) { e.sleeper = s }
}

// Engine owns the history, the cached stats and the sync pipeline. Only
// Sync mutates the history.
type Engine struct {
	sourceID   string
	src        source.Source
	store      *history.Store
	retry      *retry.Controller
	sched      *scheduler.Scheduler
	analyst    *insight.Analyst
	alerts     *alerts.Engine
	metrics    *telemetry.Metrics
	summarizer insight.Summarizer
	sleeper    retry.Sleeper
	now        func() time.Time
	uptime     compute.Uptime

	// active is the still-active token; results that arrive after it
	// flips are dropped.
	active  atomic.Bool
	syncing atomic.Int32

	bg       context.Context
	bgCancel context.CancelFunc
	stopOnce sync.Once

	mu            sync.RWMutex
	stats         types.Stats
	lastErr       string
	lastErrKind   string
	lastSyncAt    time.Time
	lastSuccessAt time.Time
	cycles        uint64
	failureCount  uint64
	seq           uint64 // real samples stored since start
	failures      []FeedEntry

	subMu   sync.Mutex
	subs    map[int]func(Update)
	nextSub int
}

// New wires an Engine from cfg around src. It does not start polling.
func New(cfg *config.Config, src source.Source, opts ...Option) *Engine {
	e := &Engine{
		sourceID: cfg.Source.ID,
		src:      src,
		now:      time.Now,
		subs:     make(map[int]func(Update)),
	}
	for _, o := range opts {
		o(e)
	}
	e.bg, e.bgCancel = context.WithCancel(context.Background())

	e.store = history.New(history.Options{
		MaxSamples:        cfg.History.MaxSamples,
		DedupSpacing:      cfg.History.DedupSpacing,
		BaselinePoints:    cfg.History.BaselinePoints,
		BaselineStep:      cfg.History.BaselineStep,
		ReseedOnFirstSync: cfg.History.Reseed(),
	})
	if cfg.History.SeedValue > 0 {
		e.store.Seed(cfg.History.SeedValue, e.now())
	}

	policy := retry.Policy{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		BaseDelay:      cfg.Retry.BaseDelay,
		Jitter:         cfg.Retry.Jitter,
		AttemptTimeout: cfg.Source.Timeout,
	}
	retryOpts := []retry.Option{retry.WithObserver(e.observeAttempt)}
	insightOpts := []retry.Option{}
	if e.sleeper != nil {
		retryOpts = append(retryOpts, retry.WithSleeper(e.sleeper))
		insightOpts = append(insightOpts, retry.WithSleeper(e.sleeper))
	}
	e.retry = retry.New(policy, retryOpts...)

	if e.summarizer == nil && cfg.Insight.Endpoint != "" {
		e.summarizer = insight.NewHTTPSummarizer(cfg.Insight, nil)
	}
	e.analyst = insight.NewAnalyst(e.summarizer,
		retry.New(retry.Policy{MaxAttempts: cfg.Retry.MaxAttempts, BaseDelay: cfg.Retry.BaseDelay, Jitter: cfg.Retry.Jitter}, insightOpts...),
		cfg.Insight,
		insight.WithClock(e.now),
		insight.WithMetrics(e.metrics),
	)

	e.alerts = alerts.New(cfg.Source.ID, cfg.Alerts,
		alerts.WithClock(e.now),
		alerts.WithFireHook(e.metrics.AlertFired),
	)

	e.sched = scheduler.New(cfg.Scheduler.Interval, e.Sync,
		scheduler.WithDropHook(e.metrics.SyncDropped))

	e.active.Store(true)
	e.stats = compute.Aggregate(e.store.Snapshot(), e.now(), e.store.ATH())
	return e
}

// Start begins polling: one cycle now, then one per interval. Cancelling
// ctx shuts the engine down.
//
// Cycles run under a context that only Shutdown cancels, after the
// still-active token has flipped, so a fetch cut short by shutdown is
// discarded instead of being recorded as a failure.
func (e *Engine) Start(ctx context.Context) error {
	slog.Info("engine: starting", "source", e.sourceID, "interval", e.sched.Interval())
	if err := e.sched.Start(e.bg); err != nil {
		return err
	}
	go func() {
		select {
		case <-ctx.Done():
			e.Shutdown()
		case <-e.bg.Done():
		}
	}()
	return nil
}

// Shutdown flips the still-active token, stops the scheduler and cancels
// any fetch in flight. Its result is discarded. Concurrent calls block until
// the first one finishes.
func (e *Engine) Shutdown() {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		e.active.Store(false)
		e.mu.Unlock()

		e.sched.Stop()
		e.bgCancel()
		e.analyst.Wait()
		e.alerts.Wait()
		slog.Info("engine: stopped", "source", e.sourceID)
	})
}

// ApplyConfig applies the hot-reloadable parts of cfg.
func (e *Engine) ApplyConfig(cfg *config.Config) {
	e.sched.SetInterval(cfg.Scheduler.Interval)
	e.alerts.SetConfig(cfg.Alerts)
}

// Sync runs one pipeline cycle: fetch with retry, merge, recompute stats,
// evaluate alerts, notify subscribers and maybe refresh the insight.
func (e *Engine) Sync(ctx context.Context) (err error) {
	start := e.now()
	e.syncing.Add(1)
	defer e.syncing.Add(-1)

	ctx, span := telemetry.StartSpan(ctx, "engine.sync", telemetry.SourceID(e.sourceID))
	defer func() { telemetry.EndSpan(span, err) }()

	reading, err := retry.Do(ctx, e.retry, e.src.Fetch)
	if err != nil {
		if !e.recordFailure(err, start) {
			return e.discard(start)
		}
		return err
	}

	scheduler.EnterPhase(ctx, scheduler.PhaseMerging)

	// The token is checked under mu, which Shutdown also takes, so no
	// merge can land after Shutdown returns.
	e.mu.Lock()
	if !e.active.Load() {
		e.mu.Unlock()
		return e.discard(start)
	}
	prevATH := e.store.ATH()
	now := e.now()
	out := e.store.Merge(reading.Value, now)
	snap := e.store.Snapshot()
	stats := compute.Aggregate(snap, now, e.store.ATH())
	e.stats = stats
	e.lastErr = ""
	e.lastErrKind = ""
	e.lastSyncAt = now
	e.lastSuccessAt = now
	e.cycles++
	if out.Kind != history.Ignored {
		e.seq++
	}
	seq := e.seq
	e.mu.Unlock()

	e.uptime.Record(true)
	e.metrics.MergeOutcome(out.Kind.String())
	e.metrics.SetSeries(stats.Current, stats.ATH, len(snap))
	e.metrics.ObserveCycle("success", e.now().Sub(start))

	slog.Info("engine: sync complete",
		"source", e.sourceID,
		"value", reading.Value,
		"outcome", out.Kind,
		"reason", out.Reason,
		"change_1h", stats.Change1h,
		"samples", len(snap),
	)

	newATH := prevATH > 0 && stats.ATH > prevATH
	changed := e.alerts.Evaluate(alerts.Input{Stats: stats, NewATH: newATH})

	upd := Update{Outcome: out.Kind.String(), Stats: stats, Status: e.Status(), Alerts: changed}
	if out.Kind != history.Ignored {
		smp := out.Sample
		upd.Sample = &smp
	}
	e.publish(upd)

	e.analyst.MaybeRefresh(e.bg, seq, snap)
	return nil
}

func (e *Engine) discard(start time.Time) error {
	e.metrics.ObserveCycle("discarded", e.now().Sub(start))
	slog.Info("engine: discarding result after shutdown", "source", e.sourceID)
	return ErrShutdown
}

// recordFailure stores a failed cycle. It returns false, recording nothing,
// once the engine has shut down.
func (e *Engine) recordFailure(err error, start time.Time) bool {
	now := e.now()
	msg := err.Error()
	kind := failureKind(err)

	e.mu.Lock()
	if !e.active.Load() {
		e.mu.Unlock()
		return false
	}
	e.lastErr = msg
	e.lastErrKind = kind
	e.lastSyncAt = now
	e.cycles++
	e.failureCount++
	e.failures = append(e.failures, FeedEntry{
		ObservedAt: now,
		Kind:       FeedError,
		Message:    truncate(msg, maxFailureMessage),
	})
	if len(e.failures) > maxFailureLog {
		e.failures = e.failures[len(e.failures)-maxFailureLog:]
	}
	stats := e.stats
	e.mu.Unlock()

	e.uptime.Record(false)
	e.metrics.ObserveCycle("failure", now.Sub(start))
	if kind == KindCanceled {
		slog.Warn("engine: sync canceled", "source", e.sourceID, "err", err)
	} else {
		slog.Error("engine: sync failed", "source", e.sourceID, "kind", kind, "err", err)
	}

	e.publish(Update{Outcome: "failed", Stats: stats, Status: e.Status()})
	return true
}

// Failure kinds reported in Status.LastErrorKind besides the source kinds.
const (
	KindCanceled = "canceled"
	KindPanic    = "panic"
)

// failureKind names the class of a failed cycle. A caller cancellation wins
// over the source kind it was wrapped in; attempt timeouts stay transient.
func failureKind(err error) string {
	var ce *retry.CanceledError
	var pe *retry.PanicError
	switch {
	case errors.As(err, &ce), errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.As(err, &pe):
		return KindPanic
	default:
		return source.KindOf(err).String()
	}
}

// observeAttempt feeds fetch outcomes into metrics and logs retries.
func (e *Engine) observeAttempt(attempt int, err error) {
	if err == nil {
		e.metrics.FetchAttempt("ok")
		return
	}
	kind := source.KindOf(err)
	e.metrics.FetchAttempt(kind.String())
	if retry.Retryable(err) {
		slog.Warn("engine: fetch attempt failed",
			"source", e.sourceID, "attempt", attempt, "kind", kind, "err", err)
	}
}

// Snapshot returns a copy of the full history.
func (e *Engine) Snapshot() []types.Sample { return e.store.Snapshot() }

// Filter returns the history cut to r as of now.
func (e *Engine) Filter(r compute.Range) compute.View {
	return compute.Filter(e.store.Snapshot(), r, e.now())
}

// Aggregate returns the stats computed by the last successful cycle.
func (e *Engine) Aggregate() types.Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}

// TriggerSync requests a manual cycle; false means one is already running.
func (e *Engine) TriggerSync() bool {
	if !e.active.Load() {
		return false
	}
	return e.sched.Trigger()
}

// Status returns the current sync state.
func (e *Engine) Status() Status {
	e.mu.RLock()
	st := Status{
		IsSyncing:     e.syncing.Load() > 0 || e.sched.InFlight(),
		LastError:     e.lastErr,
		LastErrorKind: e.lastErrKind,
		State:         string(e.sched.State()),
		Cycles:        e.cycles,
		Failures:      e.failureCount,
	}
	if !e.lastSyncAt.IsZero() {
		t := e.lastSyncAt
		st.LastSyncAt = &t
	}
	if !e.lastSuccessAt.IsZero() {
		t := e.lastSuccessAt
		st.LastSuccessAt = &t
	}
	e.mu.RUnlock()

	st.UptimePct = e.uptime.Pct()
	st.Health = compute.Health(st.UptimePct)
	st.Interval = e.sched.Interval().String()
	st.Samples = e.store.Len()
	st.Evicted = e.store.Evicted()
	return st
}

// Insight returns the latest report, the default one until a summary succeeds.
func (e *Engine) Insight() types.Report { return e.analyst.Report() }

// RefreshInsight summarizes the current history now.
func (e *Engine) RefreshInsight(ctx context.Context) (types.Report, error) {
	return e.analyst.Refresh(ctx, e.store.Snapshot())
}

// Alerts returns firing and recently resolved alerts.
func (e *Engine) Alerts() []alerts.Alert { return e.alerts.Active() }

// Subscribe registers fn for every Update. fn runs on the pipeline
// goroutine and must not block.
func (e *Engine) Subscribe(fn func(Update)) func() {
	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.subMu.Unlock()

	return func() {
		e.subMu.Lock()
		delete(e.subs, id)
		e.subMu.Unlock()
	}
}

func (e *Engine) publish(u Update) {
	e.subMu.Lock()
	fns := make([]func(Update), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.subMu.Unlock()

	for _, fn := range fns {
		fn(u)
	}
}
