// ABOUTME: Token issuance and verification primitives for the gateway
// ABOUTME: Agent/RP JWTs, JWKS publication, PKCE, SSH key possession proofs

// Package auth implements the signed-token surface of the gateway: ES256
// JWTs for relying parties and agents, JWKS rendering of the published
// public keys, PKCE verification for the code exchange, and the ssh-ed25519
// signature check agents use to prove key possession.
//
// Agent tokens and end-user tokens share signing keys and algorithm; the
// only thing separating them is the "act" claim pinned to "agent". Verify
// treats its absence or mismatch as a hard rejection.
package auth
