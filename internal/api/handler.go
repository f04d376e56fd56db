package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/holderwatch/holderwatch/internal/compute"
	"github.com/holderwatch/holderwatch/internal/engine"
	"github.com/holderwatch/holderwatch/internal/insight"
	"github.com/holderwatch/holderwatch/internal/telemetry"
)

// maxFeed caps the n query parameter of the feed endpoint.
const maxFeed = 200

// Option configures a Handler.
type Option func(*Handler)

// WithMetrics counts requests per route template.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithClock overrides time.Now for staleness diagnostics.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
// It reads state from the engine view and returns JSON responses.
type Handler struct {
	view    engine.View
	metrics *telemetry.Metrics
	now     func() time.Time
	router  *mux.Router
}

// New creates a Handler wired to v and registers all routes.
func New(v engine.View, opts ...Option) http.Handler {
	h := &Handler{view: v, now: time.Now, router: mux.NewRouter()}
	for _, o := range opts {
		o(h)
	}

	h.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jsonErr(w, http.StatusNotFound, "not found")
	})
	h.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	h.router.Use(h.instrument)

	api := h.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", h.health).Methods(http.MethodGet)
	api.HandleFunc("/history", h.history).Methods(http.MethodGet)
	api.HandleFunc("/history/{range}", h.history).Methods(http.MethodGet)
	api.HandleFunc("/ranges", h.ranges).Methods(http.MethodGet)
	api.HandleFunc("/stats", h.stats).Methods(http.MethodGet)
	api.HandleFunc("/sync", h.sync).Methods(http.MethodPost)
	api.HandleFunc("/status", h.status).Methods(http.MethodGet)
	api.HandleFunc("/insight", h.insight).Methods(http.MethodGet)
	api.HandleFunc("/insight", h.refreshInsight).Methods(http.MethodPost)
	api.HandleFunc("/feed", h.feed).Methods(http.MethodGet)
	api.HandleFunc("/alerts", h.alerts).Methods(http.MethodGet)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	st := h.view.Status()
	resp := HealthResponse{
		State:         st.Health,
		UptimePct:     st.UptimePct,
		Current:       h.view.Aggregate().Current,
		Samples:       st.Samples,
		LastSuccessAt: st.LastSuccessAt,
		LastError:     st.LastError,
	}
	for _, a := range h.view.Alerts() {
		if a.ResolvedAt == nil {
			resp.AlertCount++
		}
	}
	if st.LastSuccessAt == nil && st.Samples == 0 {
		resp.State = "unknown"
	}
	jsonResp(w, http.StatusOK, resp)
}

// history returns GET /api/v1/history. Without a range it is the raw
// snapshot; with one it is a compute.View.
func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["range"]
	if name == "" {
		name = r.URL.Query().Get("range")
	}
	if name == "" {
		jsonResp(w, http.StatusOK, h.view.Snapshot())
		return
	}

	rng, err := compute.ParseRange(name)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	jsonResp(w, http.StatusOK, h.view.Filter(rng))
}

func (h *Handler) ranges(w http.ResponseWriter, r *http.Request) {
	out := RangesResponse{Ranges: make([]string, 0, len(compute.Ranges))}
	for _, rg := range compute.Ranges {
		out.Ranges = append(out.Ranges, rg.Name)
	}
	jsonResp(w, http.StatusOK, out)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, h.view.Aggregate())
}

// sync handles POST /api/v1/sync. A request while a cycle is in flight is
// dropped, not queued.
func (h *Handler) sync(w http.ResponseWriter, r *http.Request) {
	if !h.view.TriggerSync() {
		jsonResp(w, http.StatusConflict, SyncResponse{Message: "sync already in progress"})
		return
	}
	jsonResp(w, http.StatusAccepted, SyncResponse{Accepted: true, Message: "sync started"})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	st := h.view.Status()
	jsonResp(w, http.StatusOK, StatusResponse{
		Status:      st,
		Diagnostics: computeDiagnostics(st, h.view.Aggregate(), h.now()),
	})
}

func (h *Handler) insight(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, h.view.Insight())
}

// refreshInsight handles POST /api/v1/insight. It blocks until the
// summarizer answers or falls back to the default report.
func (h *Handler) refreshInsight(w http.ResponseWriter, r *http.Request) {
	rep, err := h.view.RefreshInsight(r.Context())
	if errors.Is(err, insight.ErrInsufficientData) {
		jsonErr(w, http.StatusUnprocessableEntity, "need at least two samples to summarize")
		return
	}
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResp(w, http.StatusOK, rep)
}

// feed returns GET /api/v1/feed?n=20.
func (h *Handler) feed(w http.ResponseWriter, r *http.Request) {
	n := engine.DefaultFeedSize
	if s := r.URL.Query().Get("n"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			jsonErr(w, http.StatusBadRequest, "n must be a positive integer")
			return
		}
		n = min(v, maxFeed)
	}
	jsonResp(w, http.StatusOK, h.view.Feed(n))
}

func (h *Handler) alerts(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, h.view.Alerts())
}

// --- middleware -------------------------------------------------------------

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

// instrument counts requests by route template so path variables do not
// blow up label cardinality.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		h.metrics.HTTPRequest(r.Method, route, strconv.Itoa(rec.code))
	})
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
