// Package registry maintains the in-memory directory of live agent and
// panel connections.
//
// # Overview
//
// The Registry maps device ids to connection handles, one map per role.
// It owns all mutation of those maps; routers and relays hold a reference
// and go through its guarded accessors.
//
// Key operations:
//
//   - Register(conn): insert or replace by (id, role); last write wins
//   - Unregister(id, role, connID): remove, matched by connection instance
//   - Lookup(id, role): fetch a live connection
//   - List(role) / AgentSummaries(): consistent metadata snapshots
//   - UpdateName(id, role, name): late-arriving metadata
//
// # Replacement semantics
//
// A new connection under an already-registered device id replaces the old
// entry. The displaced connection is returned from Register so the caller
// can close its socket; its eventual disconnect is a no-op because
// Unregister matches on the per-instance ConnID, not just the device id.
//
// # Thread safety
//
// A single sync.RWMutex guards both maps. Contention is human-scale
// connection churn, so coarse granularity is deliberate.
package registry
