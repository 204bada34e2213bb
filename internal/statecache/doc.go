// Package statecache keeps the last reconciled snapshot of each storyboard
// in a local SQLite database.
//
// The cache is written by a Recorder subscribed to the reconciliation store
// and read by the CLI status command without contacting the backend. It is a
// convenience copy, never a source of truth: loading a storyboard always goes
// through the backend.
package statecache
