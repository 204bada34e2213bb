// Package main hosts the Reel CLI entrypoint and command graph.
//
// The Cobra-based command tree loads a storyboard into a reconciliation
// store, runs one generation or editing action against it, and prints the
// reconciled scene table. `reel watch` keeps the store open with the push
// channel attached, rendering every snapshot and sending notifications
// until generation settles. Every command records its final snapshot in the
// local state cache so `reel status` works offline.
//
// Keep this package lean: the store, job client and push channel live in
// internal packages; commands here only wire them together and render.
package main
