// Package source reads the current holder count from the upstream endpoint.
//
// New builds an HTTPSource for one of three body formats, each an ordered
// RuleSet evaluated in priority order:
//   - json: gjson paths (DefaultJSONFields unless source.fields is set)
//   - text: integer tokens, preferring those next to a keyword, else the largest
//   - prometheus: a metric family parsed with expfmt and summed
//
// Fetch makes exactly one GET and never retries. Every failure is an *Error
// whose Kind tells the retry controller whether another attempt is worth it.
// Values below source.min_plausible are rejected as KindMalformed.
package source
