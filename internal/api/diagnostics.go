package api

import (
	"fmt"
	"sort"
	"time"

	"github.com/holderwatch/holderwatch/internal/engine"
	"github.com/holderwatch/holderwatch/pkg/types"
)

// DiagnosticHint is one human-readable note about the poller's health.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical"
	Level  string   `json:"level"`
	Title  string   `json:"title"`
	Detail string   `json:"detail"`
	Value  *float64 `json:"value,omitempty"`
}

// staleAfter is how many poll intervals may pass without a successful
// cycle before the data is reported as stale.
const staleAfter = 3

// computeDiagnostics derives hints from the sync status and the latest
// stats. Critical hints come first.
func computeDiagnostics(st engine.Status, stats types.Stats, now time.Time) []DiagnosticHint {
	var hints []DiagnosticHint

	// ── Failing upstream ─────────────────────────────────────────────────────
	if st.LastError != "" {
		switch st.LastErrorKind {
		case "rate_limited":
			hints = append(hints, DiagnosticHint{
				Key:   "rate_limited",
				Level: "warning",
				Title: "Upstream rate limit",
				Detail: "The data provider refused the last request because of its quota. " +
					"The previous history is still served. Consider raising scheduler.interval " +
					"or using an API key with a larger allowance.",
			})
		case engine.KindCanceled:
			hints = append(hints, DiagnosticHint{
				Key:   "sync_canceled",
				Level: "info",
				Title: "Sync interrupted",
				Detail: "The last sync was canceled before it finished, usually by a shutdown or a " +
					"stopped request. The upstream was not at fault; the next cycle retries.",
			})
		case "malformed":
			hints = append(hints, DiagnosticHint{
				Key:   "malformed",
				Level: "critical",
				Title: "Unreadable response",
				Detail: fmt.Sprintf(
					"The upstream answered but no holder count could be extracted: %q. "+
						"The page layout or API schema may have changed; check source.fields or source.keyword.",
					st.LastError),
			})
		default:
			hints = append(hints, DiagnosticHint{
				Key:   "sync_failed",
				Level: "critical",
				Title: "Can't reach source",
				Detail: fmt.Sprintf(
					"The last sync failed with %q. Check that the endpoint is reachable and the credentials are correct.",
					st.LastError),
			})
		}
	}

	// ── Warming up ───────────────────────────────────────────────────────────
	if st.Samples < 2 && st.LastError == "" {
		hints = append(hints, DiagnosticHint{
			Key:   "warming_up",
			Level: "info",
			Title: "Warming up",
			Detail: "Fewer than two samples are stored, so trends and range views are not available yet. " +
				"They appear after the next successful sync.",
		})
	}

	// ── Stale data ───────────────────────────────────────────────────────────
	if interval, err := time.ParseDuration(st.Interval); err == nil && st.LastSuccessAt != nil {
		age := now.Sub(*st.LastSuccessAt)
		if age > staleAfter*interval {
			mins := age.Minutes()
			hints = append(hints, DiagnosticHint{
				Key:    "stale",
				Level:  "warning",
				Title:  "Data is stale",
				Detail: fmt.Sprintf("The last successful sync was %.0f minutes ago, more than %d poll intervals.", mins, staleAfter),
				Value:  &mins,
			})
		}
	}

	// ── Uptime ───────────────────────────────────────────────────────────────
	if st.UptimePct < 100 {
		v := st.UptimePct
		level := "info"
		switch st.Health {
		case "critical":
			level = "critical"
		case "degraded":
			level = "warning"
		}
		hints = append(hints, DiagnosticHint{
			Key:   "uptime",
			Level: level,
			Title: fmt.Sprintf("%.0f%% uptime", v),
			Detail: fmt.Sprintf(
				"%.0f%% of the recent sync cycles succeeded. A brief dip is usually a transient upstream error.", v),
			Value: &v,
		})
	}

	// ── Market activity ──────────────────────────────────────────────────────
	if stats.Activity == types.ActivityHigh {
		v := float64(stats.Change1h)
		hints = append(hints, DiagnosticHint{
			Key:    "high_activity",
			Level:  "info",
			Title:  "High activity",
			Detail: fmt.Sprintf("The holder count moved by %+d in the last hour.", stats.Change1h),
			Value:  &v,
		})
	}

	// ── All clear ────────────────────────────────────────────────────────────
	if len(hints) == 0 {
		hints = append(hints, DiagnosticHint{
			Key:    "healthy",
			Level:  "ok",
			Title:  "All clear",
			Detail: fmt.Sprintf("Syncing normally every %s with %d samples stored.", st.Interval, st.Samples),
		})
	}

	sort.SliceStable(hints, func(i, j int) bool {
		return levelRank[hints[i].Level] < levelRank[hints[j].Level]
	})
	return hints
}

var levelRank = map[string]int{"critical": 0, "warning": 1, "info": 2, "ok": 3}

