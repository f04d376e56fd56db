package compute

import (
	"sort"
	"time"

	"github.com/holderwatch/holderwatch/pkg/types"
)

// Lookback windows reported in types.Stats.
const (
	Window1h  = time.Hour
	Window4h  = 4 * time.Hour
	Window24h = 24 * time.Hour
	Window7d  = 7 * 24 * time.Hour
)

// Windows is the ordered set of lookbacks Aggregate computes.
var Windows = []time.Duration{Window1h, Window4h, Window24h, Window7d}

// Aggregate derives the rolling statistics of history as of now.
//
// history must be sorted by ObservedAt. Each change is the current value
// minus the value of the latest sample observed at or before now-w, or 0
// when no sample is that old. ATH is the larger of prevATH and every
// non-synthetic value in history.
func Aggregate(history []types.Sample, now time.Time, prevATH int64) types.Stats {
	st := types.Stats{
		ATH:         prevATH,
		Activity:    types.ActivityStable,
		SampleCount: len(history),
		AsOf:        now,
	}
	if len(history) == 0 {
		return st
	}

	st.Current = history[len(history)-1].Value
	for _, s := range history {
		if !s.Synthetic {
			st.ATH = max(st.ATH, s.Value)
		}
	}

	st.Change1h = ChangeOver(history, now, Window1h)
	st.Change4h = ChangeOver(history, now, Window4h)
	st.Change24h = ChangeOver(history, now, Window24h)
	st.Change7d = ChangeOver(history, now, Window7d)
	st.Activity = Activity(st)
	return st
}

// ChangeOver returns current minus the value of the latest sample with
// ObservedAt <= now-w, or 0 if there is none.
func ChangeOver(history []types.Sample, now time.Time, w time.Duration) int64 {
	if len(history) == 0 {
		return 0
	}
	ref, ok := latestAtOrBefore(history, now.Add(-w))
	if !ok {
		return 0
	}
	return history[len(history)-1].Value - ref.Value
}

// latestAtOrBefore binary-searches the sorted series for the last sample
// observed at or before cutoff.
func latestAtOrBefore(history []types.Sample, cutoff time.Time) (types.Sample, bool) {
	// i is the first index strictly after cutoff.
	i := sort.Search(len(history), func(i int) bool {
		return history[i].ObservedAt.After(cutoff)
	})
	if i == 0 {
		return types.Sample{}, false
	}
	return history[i-1], true
}

// Activity grades recent movement: High when the 1h change is non-zero,
// Moderate when only the 4h change is, Stable otherwise.
func Activity(st types.Stats) string {
	switch {
	case st.Change1h != 0:
		return types.ActivityHigh
	case st.Change4h != 0:
		return types.ActivityModerate
	default:
		return types.ActivityStable
	}
}
