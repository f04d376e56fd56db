package compute

import "sync"

// uptimeWindow is the number of recent sync outcomes tracked for uptime %.
const uptimeWindow = 20

// Health states derived from uptime.
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
	HealthCritical = "critical"
)

// Thresholds that map an uptime percentage to a health state.
const (
	ThresholdHealthy  = 85.0
	ThresholdDegraded = 60.0
)

// Uptime tracks the outcome of the last uptimeWindow sync cycles.
// The zero value is ready to use and safe for concurrent use.
type Uptime struct {
	mu      sync.Mutex
	history []bool // newest last
}

// Record appends one cycle outcome, dropping the oldest past the window.
func (u *Uptime) Record(success bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.history) >= uptimeWindow {
		u.history = u.history[1:]
	}
	u.history = append(u.history, success)
}

// Pct returns the share of successful cycles in the window, 100 before the first.
func (u *Uptime) Pct() float64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.history) == 0 {
		return 100
	}
	var ok int
	for _, s := range u.history {
		if s {
			ok++
		}
	}
	return float64(ok) / float64(len(u.history)) * 100
}

// Health maps an uptime percentage to a health state.
func Health(pct float64) string {
	switch {
	case pct >= ThresholdHealthy:
		return HealthHealthy
	case pct >= ThresholdDegraded:
		return HealthDegraded
	default:
		return HealthCritical
	}
}
