package engine

import (
	"fmt"
	"sort"
	"time"
)

const (
	// maxFailureLog caps the failed-cycle entries kept for the feed.
	maxFailureLog = 50
	// maxFailureMessage caps the error text shown in a feed entry.
	maxFailureMessage = 50
	// DefaultFeedSize is used when Feed is asked for a non-positive count.
	DefaultFeedSize = 20
)

// Feed entry kinds.
const (
	FeedSync  = "sync"
	FeedError = "error"
)

// FeedEntry is one line of the live activity feed.
type FeedEntry struct {
	ObservedAt time.Time `json:"observedAt"`
	Kind       string    `json:"kind"`
	Value      int64     `json:"value,omitempty"`
	Delta      int64     `json:"delta"`
	Message    string    `json:"message"`
}

// Feed returns the newest n entries, newest first: every real sample plus
// the failed cycles. Synthetic baseline points are left out.
func (e *Engine) Feed(n int) []FeedEntry {
	if n <= 0 {
		n = DefaultFeedSize
	}

	snap := e.store.Snapshot()
	e.mu.RLock()
	failures := make([]FeedEntry, len(e.failures))
	copy(failures, e.failures)
	e.mu.RUnlock()

	out := make([]FeedEntry, 0, n)
	for i := len(snap) - 1; i >= 0 && len(out) < n; i-- {
		s := snap[i]
		if s.Synthetic {
			continue
		}
		out = append(out, FeedEntry{
			ObservedAt: s.ObservedAt,
			Kind:       FeedSync,
			Value:      s.Value,
			Delta:      s.Delta,
			Message:    deltaMessage(s.Delta),
		})
	}
	out = append(out, failures...)

	sort.SliceStable(out, func(i, j int) bool { return out[i].ObservedAt.After(out[j].ObservedAt) })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// deltaMessage renders a sample delta as "+N New", "-N Left" or "System Sync".
func deltaMessage(delta int64) string {
	switch {
	case delta > 0:
		return fmt.Sprintf("+%d New", delta)
	case delta < 0:
		return fmt.Sprintf("%d Left", delta)
	default:
		return "System Sync"
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
