// Package failure classifies synchronizer errors and carries the typed error
// taxonomy surfaced by store actions.
//
// Every error is classified as transient, content-policy or fatal. Transient
// failures are retried by the job client; content-policy video rejections get
// a small fixed budget of additional attempts through RetryContentPolicy;
// fatal failures are raised immediately.
package failure
