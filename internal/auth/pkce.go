// ABOUTME: PKCE S256 code challenge verification for the token exchange
// ABOUTME: Constant-time comparison of the derived challenge

package auth

import (
	"crypto/subtle"

	"golang.org/x/oauth2"
)

// CodeChallengeMethodS256 is the only challenge method the gateway accepts.
const CodeChallengeMethodS256 = "S256"

// VerifyPKCE reports whether the code verifier presented at the token
// endpoint matches the S256 challenge bound to the authorization code.
func VerifyPKCE(verifier, challenge string) bool {
	derived := oauth2.S256ChallengeFromVerifier(verifier)
	return subtle.ConstantTimeCompare([]byte(derived), []byte(challenge)) == 1
}
