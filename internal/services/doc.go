// Package services defines shared utilities consumed by the synchronizer
// components and their external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp storyboard IDs, scene IDs, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that let the failure
//     policy classify errors (transient, content-policy, fatal) without
//     parsing messages.
//
// Use these helpers when wiring new client or store logic so operational
// behaviour (error handling, observability, retries) stays uniform.
package services
