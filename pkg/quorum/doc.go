// Package quorum decides whether a replicated live node (the target) has
// failed or whether the local backup has merely been partitioned from it.
//
// A Tracker follows topology events and keeps the set of other known
// members, the electorate. When the target is suspected, Engine.Vote probes
// every member of the electorate concurrently within a fixed discovery
// window and declares the target down only if fewer than half of the
// members could be reached (2*successes < N). Ties resolve to "alive".
//
// The vote never fails: probe errors, timeouts and caller cancellation all
// degrade into non-successes, and the caller always gets a verdict.
package quorum
