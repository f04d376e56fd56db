package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/holderwatch/holderwatch/internal/config"
	"github.com/holderwatch/holderwatch/internal/telemetry"
)

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 1 << 20

// Reading is one successful observation of the upstream value.
type Reading struct {
	Value int64
	// Origin is the URL the value was read from.
	Origin string
	// Rule names the extraction rule that produced Value.
	Rule      string
	FetchedAt time.Time
}

// Source is implemented by anything that can produce a Reading.
// Fetch performs exactly one attempt; retrying is the caller's business.
type Source interface {
	Fetch(ctx context.Context) (Reading, error)
}

// Option configures an HTTPSource.
type Option func(*HTTPSource)

// WithClock overrides time.Now for FetchedAt.
func WithClock(now func() time.Time) Option {
	return func(s *HTTPSource) { s.now = now }
}

// WithHTTPClient replaces the client built from the auth and TLS settings.
func WithHTTPClient(c *http.Client) Option {
	return func(s *HTTPSource) { s.client = c }
}

// HTTPSource fetches the holder count with one HTTP GET per call.
type HTTPSource struct {
	id       string
	endpoint string
	floor    int64
	rules    RuleSet
	client   *http.Client
	now      func() time.Time
}

// New builds an HTTPSource from cfg. The HTTP client is built once and
// reused across calls.
func New(cfg config.SourceConfig, opts ...Option) (*HTTPSource, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &Error{Kind: KindFatal, Op: "request", Err: fmt.Errorf("invalid endpoint %q", cfg.Endpoint)}
	}

	rules, err := NewRuleSet(cfg.Type, cfg.Fields, cfg.Keyword, cfg.Metric, cfg.MinPlausible)
	if err != nil {
		return nil, fmt.Errorf("source %q: %w", cfg.ID, err)
	}

	s := &HTTPSource{
		id:       cfg.ID,
		endpoint: cfg.Endpoint,
		floor:    cfg.MinPlausible,
		rules:    rules,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.client == nil {
		client, err := buildHTTPClient(cfg)
		if err != nil {
			return nil, fmt.Errorf("source %q: build http client: %w", cfg.ID, err)
		}
		s.client = client
	}
	return s, nil
}

// ID returns the configured source identifier.
func (s *HTTPSource) ID() string { return s.id }

// Rules returns the active extraction rule set.
func (s *HTTPSource) Rules() RuleSet { return s.rules }

// Fetch performs one GET and extracts the value. Every error is an *Error.
func (s *HTTPSource) Fetch(ctx context.Context) (r Reading, err error) {
	ctx, span := telemetry.StartSpan(ctx, "source.fetch", telemetry.SourceID(s.id))
	defer func() { telemetry.EndSpan(span, err) }()

	body, err := s.get(ctx)
	if err != nil {
		return Reading{}, err
	}

	v, rule, err := s.rules.Apply(body)
	if err != nil {
		if mentionsQuota(body) {
			return Reading{}, &Error{Kind: KindRateLimited, Op: "extract", Status: http.StatusOK, Err: err}
		}
		return Reading{}, &Error{Kind: KindMalformed, Op: "extract", Err: err}
	}
	if v < s.floor {
		return Reading{}, &Error{
			Kind: KindMalformed,
			Op:   "extract",
			Err:  fmt.Errorf("value %d from %s is below plausible minimum %d", v, rule, s.floor),
		}
	}

	span.SetAttributes(telemetry.HolderCount(v))
	slog.Debug("source: fetched", "source", s.id, "value", v, "rule", rule, "rules_version", s.rules.Version)

	return Reading{
		Value:     v,
		Origin:    s.endpoint,
		Rule:      rule,
		FetchedAt: s.now().UTC(),
	}, nil
}

func (s *HTTPSource) get(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return nil, &Error{Kind: KindFatal, Op: "request", Err: err}
	}
	if s.rules.Mode == "json" {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, &Error{Kind: KindFatal, Op: "request", Err: ctx.Err()}
		}
		return nil, &Error{Kind: KindTransient, Op: "request", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &Error{Kind: KindTransient, Op: "read", Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, ClassifyStatus(resp.StatusCode, body)
	}
	return body, nil
}
