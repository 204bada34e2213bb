// Package poller runs the per-scene status polling fallback.
//
// Each scene gets its own loop that fetches status on a fixed interval and
// hands the result to a sink, the same entry point push events use. A loop
// ends when the sink reports the scene is no longer generating, when the
// report is terminal, when it is stopped, or when its attempt budget is spent.
package poller
