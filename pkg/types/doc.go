// Package types defines the Go types shared by the engine and the
// presentation surface: the Sample time-series point, the derived Stats
// summary and the summarization Report. They are plain values; the engine
// hands out copies, never pointers into its own state.
package types
