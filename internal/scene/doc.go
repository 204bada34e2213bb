// Package scene defines the storyboard aggregate and the per-scene generation
// state machine shared by the job client, push channel, poller, and store.
//
// A Scene advances through text, image, and video phases. Each phase carries
// a finite Status (none, generating, complete, error); Phase records the
// furthest stage reached and only moves forward. Update is the proposed
// delta every asynchronous producer submits to the store; it never mutates a
// Scene directly.
//
// Treat this package as the single source of truth for phase and status
// semantics; when you add a status, update ParseStatus and IsTerminal.
package scene
