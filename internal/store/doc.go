// ABOUTME: Entity stores for IdP state built on the kv storage layer
// ABOUTME: Codes, challenges, invites, users, credentials, agents, signing keys

// Package store implements the token and key lifecycle stores of the
// gateway. Every entity is a JSON record under a "<namespace>:<id>" key in
// the kv space and is owned exclusively by the store that writes it.
//
// Expiry is enforced at read time: a TTL-bearing record whose expiresAt has
// passed reads as not found, and single-use entities (authorization codes,
// WebAuthn challenges) are deleted on consumption. Registration invites are
// the deliberate exception - consumption flips a flag and keeps the record so
// administrators retain an audit trail of who redeemed what.
//
// Expired, consumed, and never-existed all surface as ErrNotFound. Callers
// must not be able to distinguish them; a stale authorization code probed by
// an attacker looks exactly like a random guess.
package store
