package alerts

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/holderwatch/holderwatch/internal/config"
)

const (
	defaultCooldown   = 15 * time.Minute
	maxHistoryLen     = 200
	recentWindowHours = 1
)

// Alert states.
const (
	StateFiring   = "firing"
	StateResolved = "resolved"
)

// Alert represents a single alert event produced by the rule engine.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	SourceID   string     `json:"source_id"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithHTTPClient overrides the webhook client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.client = c }
}

// WithFireHook is called with the severity of every fired alert.
func WithFireHook(f func(severity string)) Option {
	return func(e *Engine) { e.onFire = f }
}

// Engine evaluates alert rules against each new stats summary and delivers
// webhook notifications when rules fire or resolve.
//
// Engine is safe for concurrent use.
type Engine struct {
	sourceID string
	client   *http.Client
	now      func() time.Time
	onFire   func(string)

	mu       sync.Mutex
	rules    []config.AlertRule
	webhooks []config.WebhookConfig
	active   map[string]*Alert    // key: rule name
	lastFire map[string]time.Time // last fire time per rule (for cooldown)
	history  []*Alert             // resolved alerts, oldest first
	inflight sync.WaitGroup
}

// New creates an Engine. An Engine with no rules is valid; Evaluate becomes a no-op.
func New(sourceID string, cfg config.AlertsConfig, opts ...Option) *Engine {
	e := &Engine{
		sourceID: sourceID,
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
	}
	for _, o := range opts {
		o(e)
	}
	e.SetConfig(cfg)
	return e
}

// SetConfig replaces the rules and webhooks. Rules with an unparseable
// condition are dropped with a warning. Firing alerts whose rule disappeared
// are resolved on the next Evaluate.
func (e *Engine) SetConfig(cfg config.AlertsConfig) {
	rules := make([]config.AlertRule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		if !ValidCondition(r.Condition) {
			slog.Warn("alerts: ignoring rule with invalid condition",
				"rule", r.Name, "condition", r.Condition)
			continue
		}
		rules = append(rules, r)
	}

	e.mu.Lock()
	e.rules = rules
	e.webhooks = cfg.Webhooks
	e.mu.Unlock()
}

// Rules returns the active rule count.
func (e *Engine) Rules() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.rules)
}

// Evaluate tests all configured rules against in. Alerts that fire are
// stored and webhook delivery is triggered asynchronously. Alerts that were
// firing but whose condition is now false are resolved. The fired and
// resolved alerts are returned.
func (e *Engine) Evaluate(in Input) []Alert {
	now := e.now()

	e.mu.Lock()
	var changed []Alert
	seen := make(map[string]bool, len(e.rules))
	for _, rule := range e.rules {
		seen[rule.Name] = true
		fires, value := evalCondition(rule.Condition, in)
		if fires {
			if a := e.fire(rule, value, now); a != nil {
				changed = append(changed, *a)
			}
		} else if a := e.resolve(rule.Name, now); a != nil {
			changed = append(changed, *a)
		}
	}
	for name := range e.active {
		if !seen[name] {
			if a := e.resolve(name, now); a != nil {
				changed = append(changed, *a)
			}
		}
	}
	webhooks := e.webhooks
	e.mu.Unlock()

	for i := range changed {
		a := changed[i]
		if a.State == StateFiring {
			slog.Warn("alerts: fired", "rule", a.RuleName, "value", a.Value, "severity", a.Severity)
			if e.onFire != nil {
				e.onFire(a.Severity)
			}
		} else {
			slog.Info("alerts: resolved", "rule", a.RuleName)
		}
		e.inflight.Add(1)
		go func() {
			defer e.inflight.Done()
			e.deliver(webhooks, &a)
		}()
	}
	return changed
}

// fire records a firing alert unless the rule is cooling down. Callers hold e.mu.
func (e *Engine) fire(rule config.AlertRule, value float64, now time.Time) *Alert {
	cooldown := rule.Cooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	if now.Sub(e.lastFire[rule.Name]) <= cooldown {
		return nil
	}
	sev := rule.Severity
	if sev == "" {
		sev = "warning"
	}
	a := &Alert{
		ID:       uuid.NewString(),
		RuleName: rule.Name,
		SourceID: e.sourceID,
		Severity: sev,
		Value:    value,
		Message: fmt.Sprintf("[%s] %s fired on %s: %s (value %.0f)",
			sev, rule.Name, e.sourceID, rule.Condition, value),
		FiredAt: now,
		State:   StateFiring,
	}
	e.active[rule.Name] = a
	e.lastFire[rule.Name] = now
	cp := *a
	return &cp
}

// resolve moves a firing alert to history. Callers hold e.mu.
func (e *Engine) resolve(name string, now time.Time) *Alert {
	a, ok := e.active[name]
	if !ok {
		return nil
	}
	resolved := now
	a.State = StateResolved
	a.ResolvedAt = &resolved
	delete(e.active, name)

	e.history = append(e.history, a)
	if len(e.history) > maxHistoryLen {
		e.history = e.history[len(e.history)-maxHistoryLen:]
	}
	cp := *a
	return &cp
}

// Active returns copies of all currently firing alerts plus any alerts
// resolved within the past hour, newest first.
func (e *Engine) Active() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindowHours * time.Hour)
	out := make([]Alert, 0, len(e.active))
	for _, a := range e.active {
		out = append(out, *a)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}

// Wait blocks until every pending webhook delivery has finished.
func (e *Engine) Wait() { e.inflight.Wait() }
