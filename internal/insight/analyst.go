package insight

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/holderwatch/holderwatch/internal/config"
	"github.com/holderwatch/holderwatch/internal/retry"
	"github.com/holderwatch/holderwatch/internal/telemetry"
	"github.com/holderwatch/holderwatch/pkg/types"
)

// ErrInsufficientData is returned by Refresh when fewer than two samples exist.
var ErrInsufficientData = errors.New("insight: at least two samples are required")

// Option configures an Analyst.
type Option func(*Analyst)

// WithClock overrides time.Now for default reports.
func WithClock(now func() time.Time) Option {
	return func(a *Analyst) { a.now = now }
}

// WithMetrics records run outcomes.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(a *Analyst) { a.metrics = m }
}

// Analyst decides when to summarize, caches the latest report and falls back
// to types.DefaultReport whenever the summarizer cannot deliver. It never
// returns an error for a failed summary.
type Analyst struct {
	summarizer Summarizer // nil disables summarization
	retry      *retry.Controller
	recent     int
	minSamples int
	every      uint64
	timeout    time.Duration
	now        func() time.Time
	metrics    *telemetry.Metrics

	mu       sync.Mutex
	report   types.Report
	lastSeq  uint64
	ran      bool
	lastHash uint64

	running atomic.Bool
	wg      sync.WaitGroup
}

// NewAnalyst wraps s. A nil s makes every report the default one.
func NewAnalyst(s Summarizer, rc *retry.Controller, cfg config.InsightConfig, opts ...Option) *Analyst {
	a := &Analyst{
		summarizer: s,
		retry:      rc,
		recent:     max(cfg.RecentSamples, 2),
		minSamples: max(cfg.MinSamples, 2),
		every:      uint64(max(cfg.Every, 1)),
		timeout:    cfg.Timeout,
		now:        time.Now,
	}
	if a.retry == nil {
		a.retry = retry.New(retry.Policy{MaxAttempts: 1})
	}
	for _, o := range opts {
		o(a)
	}
	a.report = types.DefaultReport(a.now().UTC())
	return a
}

// Report returns the latest report.
func (a *Analyst) Report() types.Report {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.report
}

// Due reports whether a history that has seen seq real samples, and
// currently holds n, warrants a new summary: once n reaches the minimum,
// then each time seq has grown by at least the configured step.
func (a *Analyst) Due(seq uint64, n int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n < a.minSamples {
		return false
	}
	return !a.ran || seq-a.lastSeq >= a.every
}

// MaybeRefresh starts a background refresh when Due and none is running.
// It reports whether one was started.
func (a *Analyst) MaybeRefresh(ctx context.Context, seq uint64, history []types.Sample) bool {
	if !a.Due(seq, len(history)) {
		return false
	}
	if !a.running.CompareAndSwap(false, true) {
		return false
	}

	a.mu.Lock()
	a.ran = true
	a.lastSeq = seq
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.running.Store(false)
		_, _ = a.Refresh(ctx, history)
	}()
	return true
}

// Refresh summarizes the newest samples of history synchronously. The only
// error is ErrInsufficientData; summarizer failures yield the default report.
func (a *Analyst) Refresh(ctx context.Context, history []types.Sample) (types.Report, error) {
	if len(history) < 2 {
		return a.Report(), ErrInsufficientData
	}
	window := history[max(0, len(history)-a.recent):]
	h := fingerprint(window)

	a.mu.Lock()
	if a.lastHash == h && !a.report.Default {
		rep := a.report
		a.mu.Unlock()
		a.metrics.InsightRun("cached")
		return rep, nil
	}
	a.mu.Unlock()

	rep, err := a.summarize(ctx, window)
	if err != nil {
		slog.Warn("insight: summarizer failed, serving default report", "err", err)
		rep = types.DefaultReport(a.now().UTC())
		a.metrics.InsightRun("default")
	} else {
		a.metrics.InsightRun("ok")
	}

	a.mu.Lock()
	a.report = rep
	a.lastHash = h
	a.mu.Unlock()
	return rep, nil
}

func (a *Analyst) summarize(ctx context.Context, window []types.Sample) (types.Report, error) {
	if a.summarizer == nil {
		return types.Report{}, errors.New("no summarizer configured")
	}
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	return retry.Do(ctx, a.retry, func(ctx context.Context) (types.Report, error) {
		return a.summarizer.Summarize(ctx, window)
	})
}

// Wait blocks until a background refresh, if any, has finished.
func (a *Analyst) Wait() { a.wg.Wait() }

// fingerprint hashes the observable content of a sample window.
func fingerprint(window []types.Sample) uint64 {
	d := xxhash.New()
	var buf [16]byte
	for _, s := range window {
		binary.LittleEndian.PutUint64(buf[:8], uint64(s.ObservedAt.UnixNano()))
		binary.LittleEndian.PutUint64(buf[8:], uint64(s.Value))
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}
