// ABOUTME: ES256 JWT issuance and verification for agents and relying parties
// ABOUTME: Tokens carry kid so verifiers select the matching published key

package auth

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/openape/idp-gateway/internal/store"
)

// Token errors
var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token expired")
	ErrNotAgentToken = errors.New("not an agent token")
)

// AgentTokenTTL is the lifetime of issued agent tokens.
const AgentTokenTTL = time.Hour

// RPTokenTTL is the lifetime of tokens minted for relying parties.
const RPTokenTTL = time.Hour

// agentClaimValue is the discriminator separating agent tokens from end-user
// tokens signed with the same key and algorithm.
const agentClaimValue = "agent"

// IssueAgentToken produces a signed, time-bounded token for a service
// identity. The payload is the minimal {sub, act:"agent"} schema.
func IssueAgentToken(subject, issuer string, key *ecdsa.PrivateKey, kid string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"act": agentClaimValue,
		"iss": issuer,
		"iat": now.Unix(),
		"exp": now.Add(AgentTokenTTL).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("signing agent token: %w", err)
	}
	return signed, nil
}

// IssueRPToken produces the signed token handed to a relying party after a
// successful code exchange. Nonce is echoed back when the authorization
// request carried one.
func IssueRPToken(subject, name, issuer, audience, nonce string, key *ecdsa.PrivateKey, kid string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iss": issuer,
		"aud": audience,
		"iat": now.Unix(),
		"exp": now.Add(RPTokenTTL).Unix(),
	}
	if name != "" {
		claims["name"] = name
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// KeyResolver supplies published public keys for verification. Satisfied by
// *store.KeyManager.
type KeyResolver interface {
	PublicKeys(ctx context.Context) ([]*store.SigningKey, error)
}

// AgentVerifier validates agent tokens against the published keys of a
// single issuer.
type AgentVerifier struct {
	issuer string
	keys   KeyResolver
}

// NewAgentVerifier creates a verifier pinned to the given issuer.
func NewAgentVerifier(issuer string, keys KeyResolver) *AgentVerifier {
	return &AgentVerifier{issuer: issuer, keys: keys}
}

// Verify validates signature, algorithm, issuer, and expiry, then requires
// the act claim to equal "agent". A token valid in every other respect but
// lacking the discriminator is rejected outright.
func (v *AgentVerifier) Verify(ctx context.Context, tokenString string) (subject string, err error) {
	token, err := jwt.Parse(tokenString,
		func(token *jwt.Token) (interface{}, error) {
			return v.publicKeyFor(ctx, token)
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	if act, _ := claims["act"].(string); act != agentClaimValue {
		return "", ErrNotAgentToken
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
	}
	return sub, nil
}

// publicKeyFor selects the published key matching the token's kid header.
func (v *AgentVerifier) publicKeyFor(ctx context.Context, token *jwt.Token) (*ecdsa.PublicKey, error) {
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return nil, errors.New("token has no kid header")
	}

	keys, err := v.keys.PublicKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading public keys: %w", err)
	}
	for _, key := range keys {
		if key.Kid == kid {
			return key.Public, nil
		}
	}
	return nil, fmt.Errorf("no published key with kid %q", kid)
}
