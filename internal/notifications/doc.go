// Package notifications delivers storyboard events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and degrades to a no-op when notifications are disabled. A
// Watcher subscribed to the reconciliation store turns scene transitions into
// events, so store code never deals with HTTP glue.
package notifications
