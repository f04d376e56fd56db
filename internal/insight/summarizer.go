package insight

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/holderwatch/holderwatch/internal/config"
	"github.com/holderwatch/holderwatch/internal/source"
	"github.com/holderwatch/holderwatch/pkg/types"
)

// Summarizer turns a window of recent samples into a narrative report.
type Summarizer interface {
	Summarize(ctx context.Context, samples []types.Sample) (types.Report, error)
}

// point is the wire form of a sample sent to the summarizer.
type point struct {
	ObservedAt time.Time `json:"observedAt"`
	Value      int64     `json:"value"`
	Delta      int64     `json:"delta"`
}

type request struct {
	Model   string  `json:"model,omitempty"`
	Samples []point `json:"samples"`
}

// HTTPSummarizer posts the sample window to an external endpoint and reads
// the four report fields from the JSON reply. Both camelCase and snake_case
// keys are accepted, at the top level or under "report".
type HTTPSummarizer struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
	now      func() time.Time
}

// NewHTTPSummarizer returns a summarizer for cfg. A nil client gets one
// bounded by cfg.Timeout.
func NewHTTPSummarizer(cfg config.InsightConfig, client *http.Client) *HTTPSummarizer {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPSummarizer{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey(),
		model:    cfg.Model,
		client:   client,
		now:      time.Now,
	}
}

// Summarize makes one request. Failures are *source.Error so the retry
// controller can tell rate limits from fatal errors.
func (h *HTTPSummarizer) Summarize(ctx context.Context, samples []types.Sample) (types.Report, error) {
	req := request{Model: h.model, Samples: make([]point, len(samples))}
	for i, s := range samples {
		req.Samples[i] = point{ObservedAt: s.ObservedAt, Value: s.Value, Delta: s.Delta}
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return types.Report{}, fmt.Errorf("insight: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(payload))
	if err != nil {
		return types.Report{}, &source.Error{Kind: source.KindFatal, Op: "request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return types.Report{}, &source.Error{Kind: source.KindTransient, Op: "request", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return types.Report{}, &source.Error{Kind: source.KindTransient, Op: "read", Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return types.Report{}, source.ClassifyStatus(resp.StatusCode, body)
	}

	rep, err := parseReport(body)
	if err != nil {
		return types.Report{}, &source.Error{Kind: source.KindMalformed, Op: "extract", Err: err}
	}
	rep.GeneratedAt = h.now().UTC()
	return rep, nil
}

// parseReport extracts the report fields from a summarizer reply.
func parseReport(body []byte) (types.Report, error) {
	if !gjson.ValidBytes(body) {
		return types.Report{}, fmt.Errorf("reply is not valid JSON")
	}
	root := gjson.ParseBytes(body)
	if r := root.Get("report"); r.IsObject() {
		root = r
	}

	first := func(paths ...string) string {
		for _, p := range paths {
			if v := root.Get(p); v.Type == gjson.String && strings.TrimSpace(v.Str) != "" {
				return strings.TrimSpace(v.Str)
			}
		}
		return ""
	}
	rep := types.Report{
		Sentiment:      NormalizeSentiment(first("sentiment")),
		Summary:        first("summary"),
		Recommendation: first("recommendation"),
		KeyObservation: first("keyObservation", "key_observation"),
	}
	if rep.Summary == "" {
		return types.Report{}, fmt.Errorf("reply has no summary")
	}
	return rep, nil
}

// NormalizeSentiment maps any casing of Bullish, Neutral or Bearish to its
// canonical form; everything else becomes Neutral.
func NormalizeSentiment(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bullish":
		return types.SentimentBullish
	case "bearish":
		return types.SentimentBearish
	default:
		return types.SentimentNeutral
	}
}
