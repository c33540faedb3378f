// ABOUTME: Cookie-addressed server-side sessions sealed at rest
// ABOUTME: Records live in the kv space and carry login state plus pending authorize params

// Package session manages browser sessions for the gateway. The cookie
// carries only a random identifier; the record itself is stored server-side
// under sessions:<id>, encrypted with a key derived from the configured
// session secret. Expired records read as missing and are deleted lazily.
package session
