// ABOUTME: Namespaced key-value storage abstraction for IdP state
// ABOUTME: Pluggable backends - memory, filesystem, SQLite, Redis, S3

// Package kv provides the keyed storage layer used by every entity store in
// the gateway. Records live under "<namespace>:<id>" keys in a single logical
// key space; a deployment prefix can be layered on top with Prefixed to
// isolate tenants sharing one backing medium.
//
// The contract is deliberately weak: per-key last-writer-wins, no ordering,
// no transactions. Backends do not expire records; TTL-bearing entities are
// checked (and lazily deleted) at read time by their stores.
package kv
