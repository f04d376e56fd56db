package alerts

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holderwatch/holderwatch/internal/config"
	"github.com/holderwatch/holderwatch/pkg/types"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func drop(change int64) Input {
	return Input{Stats: types.Stats{Current: 1000, Change1h: change}}
}

func TestEvalCondition(t *testing.T) {
	in := Input{
		Stats: types.Stats{
			Current: 1500, Change1h: -12, Change4h: 30, Change24h: 0, Change7d: 400,
			ATH: 1600, Activity: types.ActivityHigh,
		},
		NewATH: true,
	}
	cases := []struct {
		cond  string
		fires bool
		value float64
	}{
		{"change_1h < -10", true, -12},
		{"change_1h <= -20", false, -12},
		{"change_4h > 20", true, 30},
		{"change_24h == 0", true, 0},
		{"change_7d >= 400", true, 400},
		{"current != 1500", false, 1500},
		{"ath > 1599", true, 1600},
		{"activity == High", true, 0},
		{"activity == stable", false, 0},
		{"new_ath == true", true, 1600},
		{"bogus > 1", false, 0},
		{"change_1h", false, 0},
		{"change_1h < abc", false, 0},
	}
	for _, tc := range cases {
		t.Run(tc.cond, func(t *testing.T) {
			fires, v := evalCondition(tc.cond, in)
			assert.Equal(t, tc.fires, fires)
			if tc.fires {
				assert.Equal(t, tc.value, v)
			}
		})
	}
}

func TestValidCondition(t *testing.T) {
	assert.True(t, ValidCondition("change_1h < -10"))
	assert.True(t, ValidCondition("activity == High"))
	assert.True(t, ValidCondition("new_ath == true"))
	assert.False(t, ValidCondition("new_ath > true"))
	assert.False(t, ValidCondition("drop_pct > 10"))
	assert.False(t, ValidCondition("change_1h ~ 10"))
	assert.False(t, ValidCondition(""))
}

func TestEvaluate_FireCooldownResolve(t *testing.T) {
	clk := &clock{t: baseTime}
	e := New("token", config.AlertsConfig{Rules: []config.AlertRule{
		{Name: "drop", Condition: "change_1h < -10", Severity: "critical", Cooldown: 10 * time.Minute},
	}}, WithClock(clk.now))

	changed := e.Evaluate(drop(-20))
	require.Len(t, changed, 1)
	assert.Equal(t, StateFiring, changed[0].State)
	assert.Equal(t, "critical", changed[0].Severity)
	assert.NotEmpty(t, changed[0].ID)

	// Still firing inside cooldown: nothing new.
	clk.advance(time.Minute)
	assert.Empty(t, e.Evaluate(drop(-25)))
	require.Len(t, e.Active(), 1)

	clk.advance(time.Minute)
	changed = e.Evaluate(drop(0))
	require.Len(t, changed, 1)
	assert.Equal(t, StateResolved, changed[0].State)
	require.NotNil(t, changed[0].ResolvedAt)

	// Resolved alerts stay visible for an hour.
	active := e.Active()
	require.Len(t, active, 1)
	assert.Equal(t, StateResolved, active[0].State)
	clk.advance(2 * time.Hour)
	assert.Empty(t, e.Active())
	e.Wait()
}

func TestEvaluate_RefiresAfterCooldown(t *testing.T) {
	clk := &clock{t: baseTime}
	e := New("token", config.AlertsConfig{Rules: []config.AlertRule{
		{Name: "drop", Condition: "change_1h < -10", Cooldown: 5 * time.Minute},
	}}, WithClock(clk.now))

	require.Len(t, e.Evaluate(drop(-20)), 1)
	clk.advance(time.Minute)
	e.Evaluate(drop(0))
	clk.advance(time.Minute)
	assert.Empty(t, e.Evaluate(drop(-20)), "cooldown still running")
	clk.advance(5 * time.Minute)
	fired := e.Evaluate(drop(-20))
	require.Len(t, fired, 1)
	assert.Equal(t, "warning", fired[0].Severity)
	e.Wait()
}

func TestSetConfig_DropsInvalidAndResolvesRemoved(t *testing.T) {
	clk := &clock{t: baseTime}
	e := New("token", config.AlertsConfig{Rules: []config.AlertRule{
		{Name: "drop", Condition: "change_1h < -10"},
		{Name: "broken", Condition: "nonsense"},
	}}, WithClock(clk.now))
	assert.Equal(t, 1, e.Rules())

	require.Len(t, e.Evaluate(drop(-20)), 1)

	e.SetConfig(config.AlertsConfig{})
	changed := e.Evaluate(drop(-20))
	require.Len(t, changed, 1)
	assert.Equal(t, StateResolved, changed[0].State)
	e.Wait()
}

func TestDeliver_Webhooks(t *testing.T) {
	var mu sync.Mutex
	got := map[string]map[string]any{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var m map[string]any
		_ = json.Unmarshal(body, &m)
		mu.Lock()
		got[r.URL.Path] = m
		mu.Unlock()
	}))
	defer srv.Close()

	t.Setenv("HW_SLACK", srv.URL+"/slack")
	t.Setenv("HW_TEAMS", srv.URL+"/teams")
	t.Setenv("HW_HTTP", srv.URL+"/http")

	var fired []string
	e := New("token", config.AlertsConfig{
		Rules: []config.AlertRule{{Name: "ath", Condition: "new_ath == true", Severity: "info"}},
		Webhooks: []config.WebhookConfig{
			{Type: "slack", URLEnv: "HW_SLACK"},
			{Type: "teams", URLEnv: "HW_TEAMS"},
			{Type: "http", URLEnv: "HW_HTTP"},
			{Type: "http", URLEnv: "HW_UNSET"},
		},
	}, WithFireHook(func(sev string) { fired = append(fired, sev) }))

	e.Evaluate(Input{Stats: types.Stats{ATH: 2000}, NewATH: true})
	e.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 3)
	assert.Contains(t, got["/slack"]["text"], "[INFO]")
	assert.Equal(t, "MessageCard", got["/teams"]["@type"])
	alert := got["/http"]["alert"].(map[string]any)
	assert.Equal(t, "ath", alert["rule_name"])
	assert.Equal(t, []string{"info"}, fired)
}
