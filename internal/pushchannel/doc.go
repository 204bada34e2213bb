// Package pushchannel maintains a single server-sent events subscription for
// the active storyboard.
//
// Frames are parsed and narrowed into the closed Event union before they
// leave the package. Malformed frames are logged and dropped. The adapter
// never reconnects on its own: transport failures are reported once through
// the error callback and the owner decides whether a new subscription is
// still relevant.
package pushchannel
