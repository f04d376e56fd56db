package compute

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/holderwatch/holderwatch/pkg/types"
)

// ErrUnknownRange is returned by ParseRange for names outside Ranges.
var ErrUnknownRange = errors.New("unknown range")

// Range is a named lookback for chart views. A zero Span means the whole series.
type Range struct {
	Name string
	Span time.Duration
}

// Bounded reports whether the range has a cutoff.
func (r Range) Bounded() bool { return r.Span > 0 }

func (r Range) String() string { return r.Name }

var (
	Range10m = Range{Name: "10m", Span: 10 * time.Minute}
	Range1h  = Range{Name: "1h", Span: time.Hour}
	Range4h  = Range{Name: "4h", Span: 4 * time.Hour}
	Range24h = Range{Name: "24h", Span: 24 * time.Hour}
	Range7d  = Range{Name: "7d", Span: 7 * 24 * time.Hour}
	RangeAll = Range{Name: "all"}
)

// Ranges lists every accepted range, shortest first.
var Ranges = []Range{Range10m, Range1h, Range4h, Range24h, Range7d, RangeAll}

// ParseRange resolves a range name such as "24h" or "all".
func ParseRange(name string) (Range, error) {
	for _, r := range Ranges {
		if r.Name == name {
			return r, nil
		}
	}
	return Range{}, fmt.Errorf("%w %q", ErrUnknownRange, name)
}

// Status tells the presentation layer how to render a View.
type Status string

const (
	StatusOK Status = "ok"
	// StatusInsufficient means a bounded range held fewer than two samples,
	// too few to draw a trend. The View carries no samples and is rendered
	// as "no data in range".
	StatusInsufficient Status = "insufficient"
)

// minTrendPoints is the fewest samples a bounded view needs to draw a line.
const minTrendPoints = 2

// View is a filtered slice of history ready for rendering.
type View struct {
	Range   string         `json:"range"`
	Status  Status         `json:"status"`
	Cutoff  *time.Time     `json:"cutoff,omitempty"`
	Samples []types.Sample `json:"samples"`
}

// Filter selects the samples of history that fall inside r as of now.
//
// RangeAll returns history unchanged. A bounded range uses the wall-clock
// cutoff now-r.Span and keeps every sample observed at or after it, which is
// always a suffix of the sorted series.
func Filter(history []types.Sample, r Range, now time.Time) View {
	if !r.Bounded() {
		if history == nil {
			history = []types.Sample{}
		}
		return View{Range: r.Name, Status: StatusOK, Samples: history}
	}

	cutoff := now.Add(-r.Span)
	i := sort.Search(len(history), func(i int) bool {
		return !history[i].ObservedAt.Before(cutoff)
	})
	v := View{Range: r.Name, Cutoff: &cutoff, Status: StatusOK, Samples: history[i:]}
	if len(v.Samples) < minTrendPoints {
		v.Status = StatusInsufficient
		v.Samples = []types.Sample{}
	}
	return v
}
