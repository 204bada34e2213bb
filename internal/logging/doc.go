// Package logging assembles structured slog loggers and formatting helpers used
// across the synchronizer.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so client, channel, and store
// code can tag log lines with storyboard IDs, scene IDs, phases, and
// correlation IDs. A no-op logger is provided for tests and wiring code that
// cannot fail.
package logging
