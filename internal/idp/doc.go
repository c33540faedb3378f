// ABOUTME: HTTP surface of the identity gateway
// ABOUTME: Authorization code flow, passkey ceremonies, agent tokens, and admin API

// Package idp wires the entity stores, session manager, and token machinery
// into the gateway's HTTP routes. Handlers return uniform not-found style
// errors for anything single-use or expired so callers cannot distinguish
// a replayed token from one that never existed.
package idp
