// Package discover runs discovery cycles against a shared tmux session and
// maintains the durable agent registry other subsystems resolve agents
// through.
//
// # Cycle
//
// One cycle is: read the persisted registry (empty if absent, empty baseline
// with a warning if corrupt), list every tmux pane, classify panes against
// the signature matcher, assign stable identities, evaluate staleness, and
// (for Refresh) atomically persist the rebuilt registry.
//
// # Identity
//
// An id keeps meaning the same physical worker for as long as that worker
// lives. A pane observed with the same (location, pid) as a previous agent
// carries that agent's id forward. A pane whose pid changed was recycled by
// a different process and gets a fresh id; the retired id is never reissued
// because the allocation counter is persisted with the registry.
//
// # Staleness vs absence
//
// Stale means "still listed but quiet": the pane survives with the same pid
// but its command no longer classifies as a worker. Such agents are marked
// stale once past the threshold and dropped the cycle after. Absence means
// "the pane is gone" (or hosts a different process) and drops the agent
// immediately, with no stale intermediate state.
//
// # Concurrency
//
// A cycle is synchronous and single-threaded; concurrency exists only across
// processes sharing the registry file. Ordering is delegated to the store's
// atomic rename plus the monotonic updated_at rule: a cycle that lost the
// race returns the newer on-disk registry instead of regressing it.
package discover
