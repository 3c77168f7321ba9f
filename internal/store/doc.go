// Package store provides SQLite-backed persistence for the draw auction.
//
// The store keeps:
//   - Attempts: the ledger of the draw currently being auctioned
//   - Anchors: the reward fractions paid by the last completed draw
//   - Settlements and Transfers: every completed draw and what it owes,
//     with a paid flag per transfer so interrupted payouts can resume
//   - Events: an append-only log of trigger and completion events
//
// # Atomicity
//
// Every method that changes state runs in a single transaction, so a crash
// leaves either the old or the new state, never a mix. A restarted machine
// reloads its ledger, anchors and unpaid transfers with LoadState.
//
// # Identity
//
// Event IDs are content hashes of the canonical JSON payload (see package
// canon). Writing the same event twice is a no-op.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait on lock contention
//   - foreign_keys=ON: Transfers must belong to a settlement
package store
