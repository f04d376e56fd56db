// Package compute derives read-only views from a sorted sample series.
//
// Aggregate computes the rolling changes over Windows (1h, 4h, 24h, 7d), the
// all-time high and an activity grade. Filter cuts the series to a named
// Range for charting and reports StatusInsufficient instead of drawing a
// one-point trend. Neither function mutates its input.
//
// Uptime keeps a short ring of sync outcomes for the status endpoint.
package compute
