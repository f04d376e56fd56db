// Package history holds the in-memory holder-count series.
//
// Merge is the only way real readings enter the Store. It appends, ignores
// (duplicate or out of order) or, on the first reading after New or Seed,
// replaces the series with a flat baseline so charts are never empty.
// The cap evicts from the front; ATH survives eviction.
package history
