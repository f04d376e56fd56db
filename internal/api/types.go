package api

import (
	"time"

	"github.com/holderwatch/holderwatch/internal/engine"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	State         string     `json:"state"`
	UptimePct     float64    `json:"uptime_pct"`
	Current       int64      `json:"current"`
	Samples       int        `json:"samples"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	AlertCount    int        `json:"alert_count"`
}

// StatusResponse is the payload for GET /api/v1/status.
type StatusResponse struct {
	engine.Status
	Diagnostics []DiagnosticHint `json:"diagnostics"`
}

// SyncResponse is the payload for POST /api/v1/sync.
type SyncResponse struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message"`
}

// RangesResponse lists the accepted history ranges.
type RangesResponse struct {
	Ranges []string `json:"ranges"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
