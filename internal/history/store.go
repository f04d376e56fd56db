package history

import (
	"sync"
	"time"

	"github.com/holderwatch/holderwatch/pkg/types"
)

// Defaults for Options fields left at zero.
const (
	DefaultMaxSamples     = 1000
	DefaultDedupSpacing   = 30 * time.Second
	DefaultBaselinePoints = 25
	DefaultBaselineStep   = time.Hour
)

// Kind is the result of a Merge.
type Kind int

const (
	Appended Kind = iota + 1
	Reseeded
	Ignored
)

func (k Kind) String() string {
	switch k {
	case Appended:
		return "appended"
	case Reseeded:
		return "reseeded"
	case Ignored:
		return "ignored"
	default:
		return "unknown"
	}
}

// Reason explains an Ignored outcome.
type Reason string

const (
	// ReasonDuplicate is an unchanged value inside the dedup spacing.
	ReasonDuplicate Reason = "duplicate"
	// ReasonOutOfOrder is a reading older than the newest stored sample.
	ReasonOutOfOrder Reason = "out_of_order"
)

// Outcome describes what Merge did with a reading.
type Outcome struct {
	Kind Kind
	// Sample is the stored sample for Appended and Reseeded, zero for Ignored.
	Sample types.Sample
	Reason Reason
}

// Options configures a Store. Zero fields take the package defaults.
type Options struct {
	MaxSamples     int
	DedupSpacing   time.Duration
	BaselinePoints int
	BaselineStep   time.Duration
	// ReseedOnFirstSync replaces the series with a flat baseline of the first
	// real reading after New or Seed.
	ReseedOnFirstSync bool
}

// Store is the bounded, time-ordered sample history.
//
// ObservedAt is non-decreasing across the slice and every Delta equals the
// difference to the previous sample. ATH covers every real value ever merged,
// including ones since evicted.
type Store struct {
	mu      sync.RWMutex
	opts    Options
	samples []types.Sample
	ath     int64
	evicted uint64
	// armed is set until the first real reading after New or Seed is merged.
	armed bool
}

// New creates an empty Store.
func New(opts Options) *Store {
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = DefaultMaxSamples
	}
	if opts.DedupSpacing < 0 {
		opts.DedupSpacing = 0
	}
	if opts.BaselinePoints <= 0 {
		opts.BaselinePoints = DefaultBaselinePoints
	}
	opts.BaselinePoints = min(opts.BaselinePoints, opts.MaxSamples)
	if opts.BaselineStep <= 0 {
		opts.BaselineStep = DefaultBaselineStep
	}
	return &Store{
		opts:    opts,
		samples: make([]types.Sample, 0, opts.MaxSamples),
		armed:   true,
	}
}

// Merge folds one upstream reading into the history.
func (s *Store) Merge(value int64, now time.Time) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.armed {
		s.armed = false
		if s.opts.ReseedOnFirstSync {
			s.samples = baseline(value, now, s.opts.BaselinePoints, s.opts.BaselineStep, false)
			s.ath = max(s.ath, value)
			return Outcome{Kind: Reseeded, Sample: s.samples[len(s.samples)-1]}
		}
	}

	smp := types.Sample{ObservedAt: now, Value: value}
	if n := len(s.samples); n > 0 {
		last := s.samples[n-1]
		if now.Before(last.ObservedAt) {
			return Outcome{Kind: Ignored, Reason: ReasonOutOfOrder}
		}
		if value == last.Value && now.Sub(last.ObservedAt) < s.opts.DedupSpacing {
			return Outcome{Kind: Ignored, Reason: ReasonDuplicate}
		}
		smp.Delta = value - last.Value
	}

	s.ath = max(s.ath, value)
	s.samples = append(s.samples, smp)
	if over := len(s.samples) - s.opts.MaxSamples; over > 0 {
		s.samples = append(s.samples[:0], s.samples[over:]...)
		s.evicted += uint64(over)
	}
	return Outcome{Kind: Appended, Sample: smp}
}

// Seed replaces the history with a flat synthetic baseline of value ending
// at now and re-arms first-sync reseeding. Synthetic points never raise ATH.
func (s *Store) Seed(value int64, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = baseline(value, now, s.opts.BaselinePoints, s.opts.BaselineStep, true)
	s.armed = true
}

// Snapshot returns a copy of the series, oldest first.
func (s *Store) Snapshot() []types.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Sample, len(s.samples))
	copy(out, s.samples)
	return out
}

// Last returns the newest sample.
func (s *Store) Last() (types.Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.samples) == 0 {
		return types.Sample{}, false
	}
	return s.samples[len(s.samples)-1], true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.samples)
}

// ATH returns the highest real value merged since New.
func (s *Store) ATH() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ath
}

// Evicted returns how many samples the cap has pushed out.
func (s *Store) Evicted() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.evicted
}

// Armed reports whether the next merge will be treated as the first sync.
func (s *Store) Armed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.armed
}

// baseline builds n flat points spaced step apart ending at now. When
// synthetic is false the final point is the real reading.
func baseline(value int64, now time.Time, n int, step time.Duration, synthetic bool) []types.Sample {
	out := make([]types.Sample, n)
	for i := range out {
		out[i] = types.Sample{
			ObservedAt: now.Add(-time.Duration(n-1-i) * step),
			Value:      value,
			Synthetic:  true,
		}
	}
	out[n-1].Synthetic = synthetic
	return out
}
