package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Valid(t *testing.T) {
	cfg, err := Parse([]byte(`
source:
  id: token-x
  type: json
  endpoint: "https://api.example.com/token/x"
  fields: ["data.holders"]
  min_plausible: 10
  timeout: 5s
  auth:
    mode: apikey
    header: X-API-Key
    key_env: HW_KEY
retry:
  max_attempts: 4
  base_delay: 1s
history:
  max_samples: 200
  dedup_spacing: 15s
scheduler:
  interval: 1m
alerts:
  rules:
    - name: drop
      condition: "change_1h < -10"
      severity: warning
      cooldown: 5m
  webhooks:
    - type: slack
      url_env: HW_SLACK
server:
  http_port: 9000
logging:
  level: debug
  format: text
`))
	require.NoError(t, err)

	assert.Equal(t, "token-x", cfg.Source.ID)
	assert.Equal(t, []string{"data.holders"}, cfg.Source.Fields)
	assert.Equal(t, int64(10), cfg.Source.MinPlausible)
	assert.Equal(t, 5*time.Second, cfg.Source.Timeout)
	assert.Equal(t, 4, cfg.Retry.MaxAttempts)
	assert.Equal(t, 200, cfg.History.MaxSamples)
	assert.Equal(t, 15*time.Second, cfg.History.DedupSpacing)
	assert.Equal(t, time.Minute, cfg.Scheduler.Interval)
	require.Len(t, cfg.Alerts.Rules, 1)
	assert.Equal(t, 5*time.Minute, cfg.Alerts.Rules[0].Cooldown)
	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(`
source:
  endpoint: "https://api.example.com/token/x"
`))
	require.NoError(t, err)

	assert.Equal(t, DefaultSourceType, cfg.Source.Type)
	assert.Equal(t, "holder", cfg.Source.Keyword)
	assert.Equal(t, int64(DefaultMinPlausible), cfg.Source.MinPlausible)
	assert.Equal(t, DefaultSourceTimeout, cfg.Source.Timeout)
	assert.Equal(t, DefaultMaxAttempts, cfg.Retry.MaxAttempts)
	assert.Equal(t, DefaultBaseDelay, cfg.Retry.BaseDelay)
	assert.Equal(t, DefaultMaxSamples, cfg.History.MaxSamples)
	assert.Equal(t, DefaultDedupSpacing, cfg.History.DedupSpacing)
	assert.Equal(t, DefaultBaselinePoints, cfg.History.BaselinePoints)
	assert.True(t, cfg.History.Reseed())
	assert.Equal(t, DefaultPollInterval, cfg.Scheduler.Interval)
	assert.Equal(t, DefaultRecentSamples, cfg.Insight.RecentSamples)
	assert.Equal(t, DefaultHTTPPort, cfg.Server.HTTPPort)
	assert.Equal(t, DefaultLogLevel, cfg.Logging.Level)
	assert.Equal(t, DefaultLogFormat, cfg.Logging.Format)
}

func TestParse_ReseedDisabled(t *testing.T) {
	cfg, err := Parse([]byte(`
source:
  endpoint: "https://api.example.com"
history:
  reseed_on_first_sync: false
`))
	require.NoError(t, err)
	assert.False(t, cfg.History.Reseed())
}

func TestParse_Invalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"missing endpoint", `source: {type: json}`, "source.endpoint"},
		{"unknown type", `source: {endpoint: "http://x", type: xml}`, "source.type"},
		{"prometheus needs metric", `source: {endpoint: "http://x", type: prometheus}`, "source.metric"},
		{"unknown auth", `source: {endpoint: "http://x", auth: {mode: oauth}}`, "source.auth.mode"},
		{"interval too short", "source: {endpoint: \"http://x\"}\nscheduler: {interval: 1s}", "scheduler.interval"},
		{"interval too long", "source: {endpoint: \"http://x\"}\nscheduler: {interval: 48h}", "scheduler.interval"},
		{"zero attempts", "source: {endpoint: \"http://x\"}\nretry: {max_attempts: 0}", "retry.max_attempts"},
		{"jitter out of range", "source: {endpoint: \"http://x\"}\nretry: {jitter: 1.5}", "retry.jitter"},
		{"baseline over cap", "source: {endpoint: \"http://x\"}\nhistory: {max_samples: 10, baseline_points: 20}", "history.baseline_points"},
		{"rule without condition", "source: {endpoint: \"http://x\"}\nalerts: {rules: [{name: a}]}", "condition is required"},
		{"bad webhook", "source: {endpoint: \"http://x\"}\nalerts: {webhooks: [{type: email}]}", "unknown type"},
		{"bad port", "source: {endpoint: \"http://x\"}\nserver: {http_port: 70000}", "server.http_port"},
		{"bad log format", "source: {endpoint: \"http://x\"}\nlogging: {format: xml}", "logging.format"},
		{"malformed yaml", "source: [", "parse yaml"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestAuthConfig_EnvResolution(t *testing.T) {
	t.Setenv("HW_TEST_KEY", "k-123")
	t.Setenv("HW_TEST_TOKEN", "tok")
	t.Setenv("HW_TEST_PASS", "secret")

	a := AuthConfig{KeyEnv: "HW_TEST_KEY", TokenEnv: "HW_TEST_TOKEN", PasswordEnv: "HW_TEST_PASS"}
	assert.Equal(t, "k-123", a.Key())
	assert.Equal(t, "tok", a.Token())
	assert.Equal(t, "secret", a.Password())
	assert.Empty(t, AuthConfig{}.Key())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read file")
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	write := func(interval string) {
		body := "source: {endpoint: \"http://x\"}\nscheduler: {interval: " + interval + "}\n"
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
	write("1m")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	go func() { _ = Watch(ctx, path, func(c *Config) { got <- c }) }()

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)
	write("2m")

	select {
	case cfg := <-got:
		assert.Equal(t, 2*time.Minute, cfg.Scheduler.Interval)
	case <-time.After(3 * time.Second):
		t.Fatal("no reload observed")
	}

	// Same content again, then an invalid file: neither reaches onChange.
	write("2m")
	require.NoError(t, os.WriteFile(path, []byte("scheduler: {interval: 1s}\n"), 0o644))
	select {
	case cfg := <-got:
		t.Fatalf("unexpected reload: %+v", cfg.Scheduler)
	case <-time.After(600 * time.Millisecond):
	}

	// Atomic save via rename.
	tmp := path + ".tmp"
	body := "source: {endpoint: \"http://x\"}\nscheduler: {interval: 5m}\n"
	require.NoError(t, os.WriteFile(tmp, []byte(body), 0o644))
	require.NoError(t, os.Rename(tmp, path))
	select {
	case cfg := <-got:
		assert.Equal(t, 5*time.Minute, cfg.Scheduler.Interval)
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after rename")
	}
}
