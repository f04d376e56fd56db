// Package api implements the HTTP REST API for holderwatch.
//
// New(view) returns an http.Handler that serves:
//
//	GET    /api/v1/health           overall state, uptime and latest value
//	GET    /api/v1/history          full series, or ?range=24h for a filtered view
//	GET    /api/v1/history/{range}  filtered view; 400 for an unknown range
//	GET    /api/v1/ranges           accepted range names
//	GET    /api/v1/stats            aggregate computed by the last cycle
//	POST   /api/v1/sync             manual sync; 202, or 409 when one is in flight
//	GET    /api/v1/status           sync state plus diagnostic hints
//	GET    /api/v1/insight          latest summary report
//	POST   /api/v1/insight          summarize now; 422 with fewer than two samples
//	GET    /api/v1/feed?n=20        live activity feed, newest first
//	GET    /api/v1/alerts           firing and recently resolved alerts
//
// All endpoints respond with Content-Type: application/json and return 405
// for methods a route does not accept.
package api
