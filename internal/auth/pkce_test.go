// ABOUTME: Tests for PKCE S256 verifier/challenge matching
// ABOUTME: Uses the worked example from RFC 7636 appendix B

package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/oauth2"
)

func TestVerifyPKCE_RFC7636Example(t *testing.T) {
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	challenge := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"

	assert.True(t, VerifyPKCE(verifier, challenge))
}

func TestVerifyPKCE_Mismatch(t *testing.T) {
	verifier := oauth2.GenerateVerifier()
	// Derive the challenge independently of the verification path.
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	assert.True(t, VerifyPKCE(verifier, challenge))
	assert.False(t, VerifyPKCE(verifier+"x", challenge))
	assert.False(t, VerifyPKCE("", challenge))
	assert.False(t, VerifyPKCE(verifier, ""))
	// A challenge sent plain (unhashed verifier) must not match.
	assert.False(t, VerifyPKCE(verifier, verifier))
}
