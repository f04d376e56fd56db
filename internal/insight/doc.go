// Package insight produces the narrative report shown next to the chart.
//
// The summarization itself is an external HTTP collaborator (HTTPSummarizer).
// Analyst decides when to call it, retries rate limits through the shared
// retry controller, caches by an xxhash fingerprint of the input window and
// substitutes the fixed neutral report whenever the collaborator fails, so a
// broken summarizer can never stall ingestion.
package insight
