// Package engine owns the holder-count pipeline.
//
// An Engine ties the source, retry controller, history store, scheduler,
// alert rules and insight analyst together. Sync is the pipeline body and
// the only writer of the history; everything the presentation layer reads
// goes through the View interface and receives copies.
//
// Shutdown flips a still-active token before stopping the scheduler, so a
// fetch that completes afterwards is discarded instead of merged.
package engine
