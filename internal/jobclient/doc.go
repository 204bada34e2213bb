// Package jobclient issues typed requests against the generation backend.
//
// The client holds no business state. Each call maps one backend endpoint to
// one method, retries transient failures (408, 429, 5xx and network errors)
// a bounded number of times with a short fixed delay, and tags every failure
// with a services marker so the failure package can classify it.
package jobclient
