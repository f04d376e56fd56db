package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sourcegraph/conc/pool"

	"github.com/holderwatch/holderwatch/internal/config"
)

// maxParallelDeliveries bounds concurrent webhook posts for one alert.
const maxParallelDeliveries = 4

// deliver sends webhook notifications for a to all targets in parallel.
// Errors are logged but do not affect the caller.
func (e *Engine) deliver(webhooks []config.WebhookConfig, a *Alert) {
	p := pool.New().WithMaxGoroutines(maxParallelDeliveries)
	for _, wh := range webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}
		p.Go(func() {
			var err error
			switch wh.Type {
			case "slack":
				err = e.sendSlack(url, a)
			case "teams":
				err = e.sendTeams(url, a)
			case "http":
				err = e.sendHTTP(url, a)
			default:
				slog.Warn("alerts: unknown webhook type, skipping", "type", wh.Type)
				return
			}

			if err != nil {
				slog.Error("alerts: webhook delivery failed",
					"type", wh.Type,
					"rule", a.RuleName,
					"err", err,
				)
				return
			}
			slog.Debug("alerts: webhook delivered",
				"type", wh.Type,
				"rule", a.RuleName,
				"state", a.State,
			)
		})
	}
	p.Wait()
}

func (e *Engine) sendSlack(url string, a *Alert) error {
	body, _ := json.Marshal(map[string]string{
		"text": fmt.Sprintf("*%s* %s", severityLabel(a.Severity, a.State), a.Message),
	})
	return e.post(url, body)
}

func (e *Engine) sendTeams(url string, a *Alert) error {
	payload := map[string]any{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": severityColor(a.Severity, a.State),
		"summary":    a.RuleName,
		"title":      fmt.Sprintf("Holder alert %s: %s", a.State, a.RuleName),
		"text":       a.Message,
	}
	body, _ := json.Marshal(payload)
	return e.post(url, body)
}

func (e *Engine) sendHTTP(url string, a *Alert) error {
	body, _ := json.Marshal(map[string]any{"alert": a})
	return e.post(url, body)
}

func (e *Engine) post(url string, body []byte) error {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func severityLabel(sev, state string) string {
	if state == StateResolved {
		return "[RESOLVED]"
	}
	switch sev {
	case "critical":
		return "[CRITICAL]"
	case "warning":
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

func severityColor(sev, state string) string {
	if state == StateResolved {
		return "2EB67D"
	}
	switch sev {
	case "critical":
		return "FF4F6A"
	case "warning":
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
