// ABOUTME: Tests for agent token issuance and verification
// ABOUTME: Wrong issuer, wrong key, and tampered act claims must all fail

package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openape/idp-gateway/internal/kv"
	"github.com/openape/idp-gateway/internal/store"
)

const testIssuer = "https://idp.example.com"

func newTestKeyManager(t *testing.T) *store.KeyManager {
	t.Helper()
	return store.NewKeyManager(kv.NewMemory())
}

func TestAgentToken_IssueAndVerify(t *testing.T) {
	ctx := context.Background()
	keys := newTestKeyManager(t)
	signing, err := keys.SigningKey(ctx)
	require.NoError(t, err)

	token, err := IssueAgentToken("agent-123", testIssuer, signing.Private, signing.Kid)
	require.NoError(t, err)

	verifier := NewAgentVerifier(testIssuer, keys)
	subject, err := verifier.Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "agent-123", subject)
}

func TestAgentToken_WrongIssuer(t *testing.T) {
	ctx := context.Background()
	keys := newTestKeyManager(t)
	signing, err := keys.SigningKey(ctx)
	require.NoError(t, err)

	token, err := IssueAgentToken("agent-123", "https://other.example.com", signing.Private, signing.Kid)
	require.NoError(t, err)

	verifier := NewAgentVerifier(testIssuer, keys)
	_, err = verifier.Verify(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAgentToken_WrongKey(t *testing.T) {
	ctx := context.Background()
	keys := newTestKeyManager(t)
	signing, err := keys.SigningKey(ctx)
	require.NoError(t, err)

	// Signed by a key the verifier has never published.
	otherKeys := newTestKeyManager(t)
	otherSigning, err := otherKeys.SigningKey(ctx)
	require.NoError(t, err)

	// Claim the published kid but sign with the foreign key.
	token, err := IssueAgentToken("agent-123", testIssuer, otherSigning.Private, signing.Kid)
	require.NoError(t, err)

	verifier := NewAgentVerifier(testIssuer, keys)
	_, err = verifier.Verify(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAgentToken_UnknownKid(t *testing.T) {
	ctx := context.Background()
	keys := newTestKeyManager(t)
	signing, err := keys.SigningKey(ctx)
	require.NoError(t, err)

	token, err := IssueAgentToken("agent-123", testIssuer, signing.Private, "key-unknown")
	require.NoError(t, err)

	verifier := NewAgentVerifier(testIssuer, keys)
	_, err = verifier.Verify(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAgentToken_TamperedActClaim(t *testing.T) {
	ctx := context.Background()
	keys := newTestKeyManager(t)
	signing, err := keys.SigningKey(ctx)
	require.NoError(t, err)

	verifier := NewAgentVerifier(testIssuer, keys)

	// Otherwise-valid tokens whose discriminator is absent or wrong must be
	// hard-rejected: the claim is the only thing separating agent identities
	// from end-user tokens under the same key.
	tests := []struct {
		name   string
		claims jwt.MapClaims
	}{
		{
			name: "act claim missing",
			claims: jwt.MapClaims{
				"sub": "agent-123", "iss": testIssuer,
				"iat": time.Now().Unix(), "exp": time.Now().Add(time.Hour).Unix(),
			},
		},
		{
			name: "act claim is user",
			claims: jwt.MapClaims{
				"sub": "agent-123", "act": "user", "iss": testIssuer,
				"iat": time.Now().Unix(), "exp": time.Now().Add(time.Hour).Unix(),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := jwt.NewWithClaims(jwt.SigningMethodES256, tt.claims)
			token.Header["kid"] = signing.Kid
			signed, err := token.SignedString(signing.Private)
			require.NoError(t, err)

			_, err = verifier.Verify(ctx, signed)
			assert.ErrorIs(t, err, ErrNotAgentToken)
		})
	}
}

func TestAgentToken_Expired(t *testing.T) {
	ctx := context.Background()
	keys := newTestKeyManager(t)
	signing, err := keys.SigningKey(ctx)
	require.NoError(t, err)

	claims := jwt.MapClaims{
		"sub": "agent-123", "act": "agent", "iss": testIssuer,
		"iat": time.Now().Add(-2 * time.Hour).Unix(),
		"exp": time.Now().Add(-time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = signing.Kid
	signed, err := token.SignedString(signing.Private)
	require.NoError(t, err)

	verifier := NewAgentVerifier(testIssuer, keys)
	_, err = verifier.Verify(ctx, signed)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestAgentToken_GarbageInput(t *testing.T) {
	ctx := context.Background()
	verifier := NewAgentVerifier(testIssuer, newTestKeyManager(t))

	for _, token := range []string{"", "garbage", "a.b.c"} {
		_, err := verifier.Verify(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	}
}

func TestAgentToken_VerifiesAfterRotation(t *testing.T) {
	ctx := context.Background()
	keys := newTestKeyManager(t)
	signing, err := keys.SigningKey(ctx)
	require.NoError(t, err)

	token, err := IssueAgentToken("agent-123", testIssuer, signing.Private, signing.Kid)
	require.NoError(t, err)

	_, err = keys.Rotate(ctx)
	require.NoError(t, err)

	// The old key stays published, so the in-flight token still verifies.
	verifier := NewAgentVerifier(testIssuer, keys)
	subject, err := verifier.Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "agent-123", subject)
}

func TestRPToken_ClaimsRoundTrip(t *testing.T) {
	ctx := context.Background()
	keys := newTestKeyManager(t)
	signing, err := keys.SigningKey(ctx)
	require.NoError(t, err)

	signed, err := IssueRPToken("alice@example.com", "Alice", testIssuer, "sp-demo", "n-0S6_WzA2Mj", signing.Private, signing.Kid)
	require.NoError(t, err)

	token, err := jwt.Parse(signed,
		func(token *jwt.Token) (interface{}, error) { return signing.Public, nil },
		jwt.WithValidMethods([]string{"ES256"}),
		jwt.WithIssuer(testIssuer),
		jwt.WithAudience("sp-demo"),
	)
	require.NoError(t, err)

	claims := token.Claims.(jwt.MapClaims)
	assert.Equal(t, "alice@example.com", claims["sub"])
	assert.Equal(t, "Alice", claims["name"])
	assert.Equal(t, "n-0S6_WzA2Mj", claims["nonce"])
	assert.Equal(t, signing.Kid, token.Header["kid"])
	_, hasAct := claims["act"]
	assert.False(t, hasAct, "relying-party tokens must not carry the agent discriminator")
}
