// Package ws implements the WebSocket hub for holderwatch.
//
// New(view, interval) creates a Hub. Hub.Run(ctx) subscribes to engine
// updates and starts the snapshot ticker; it blocks until ctx is cancelled,
// then closes all active connections. Hub.ServeHTTP upgrades an HTTP
// connection, sends a snapshot immediately, then streams events.
//
// Message format sent to clients:
//
//	{
//	  "event": "snapshot" | "update",
//	  "data":  {"stats": {...}, "status": {...}, "latest": {...}, "outcome": "appended", "alerts": [...]}
//	}
//
// The upgrader accepts all origins. The endpoint is mounted at /ws/stream.
package ws
