// Package reconcile holds the authoritative storyboard and scene state.
//
// A Store is the only writer of that state. Push events, poll results and
// resync snapshots are proposed through Submit; store actions apply
// optimistic local changes, call the backend without holding the lock, and
// settle the result when it returns. Every state transition bumps a version
// and is delivered to observers in version order.
//
// Updates carry scene identifiers, never positions, so structural edits and
// status updates commute: updates for removed scenes are ignored, and updates
// for scenes not known yet are buffered briefly until an add confirms them.
package reconcile
