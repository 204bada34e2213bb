// Package config loads, normalizes, and validates reel configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// REEL_API_TOKEN. The Config type centralizes every knob the synchronizer and
// CLI need: backend endpoint and retry budget, push-channel reconnect
// timing, polling cadence, and content-policy retry behaviour.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
