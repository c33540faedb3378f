// ABOUTME: Single-use WebAuthn challenges bound to a ceremony type
// ABOUTME: Find is a non-destructive peek; Consume deletes unconditionally

package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/openape/idp-gateway/internal/kv"
)

const challengeNamespace = "webauthn-challenges"

// ChallengeTTL is the absolute validity window of a WebAuthn challenge.
const ChallengeTTL = 5 * time.Minute

// CeremonyType distinguishes registration from authentication challenges.
type CeremonyType string

const (
	CeremonyRegistration   CeremonyType = "registration"
	CeremonyAuthentication CeremonyType = "authentication"

	// CeremonyAgentProof challenges are signed by an agent's ssh key instead
	// of an authenticator; they share the store's single-use semantics.
	CeremonyAgentProof CeremonyType = "agent-proof"
)

// Challenge is the server-side half of an in-flight WebAuthn ceremony. The
// session data blob is the webauthn library's own serialized state; the
// store treats it as opaque.
type Challenge struct {
	SessionData json.RawMessage `json:"sessionData"`
	Subject     string          `json:"subject,omitempty"` // optional target subject hint
	Type        CeremonyType    `json:"type"`
	ExpiresAt   time.Time       `json:"expiresAt"`
}

// ChallengeStore persists in-flight ceremony challenges, keyed by the opaque
// challenge token handed to the client.
type ChallengeStore struct {
	kv kv.Store
}

// NewChallengeStore creates a challenge store over the given kv space.
func NewChallengeStore(store kv.Store) *ChallengeStore {
	return &ChallengeStore{kv: store}
}

// Save writes the challenge under the given token.
func (s *ChallengeStore) Save(ctx context.Context, token string, challenge *Challenge) error {
	return setJSON(ctx, s.kv, challengeNamespace, token, challenge)
}

// Find returns the challenge without consuming it. Expired challenges are
// deleted on read and reported as ErrNotFound.
func (s *ChallengeStore) Find(ctx context.Context, token string) (*Challenge, error) {
	var challenge Challenge
	if err := getJSON(ctx, s.kv, challengeNamespace, token, &challenge); err != nil {
		return nil, err
	}
	if time.Now().After(challenge.ExpiresAt) {
		_ = s.kv.Delete(ctx, kv.Key(challengeNamespace, token))
		return nil, ErrNotFound
	}
	return &challenge, nil
}

// Consume destructively reads the challenge. The record is deleted whether
// or not it had already expired, so no half-expired entries linger; an
// expired challenge still reads as ErrNotFound. Ceremony verification must
// use Consume, never Find, so one challenge completes at most one ceremony.
func (s *ChallengeStore) Consume(ctx context.Context, token string) (*Challenge, error) {
	var challenge Challenge
	if err := getJSON(ctx, s.kv, challengeNamespace, token, &challenge); err != nil {
		return nil, err
	}
	expired := time.Now().After(challenge.ExpiresAt)
	if err := s.kv.Delete(ctx, kv.Key(challengeNamespace, token)); err != nil {
		return nil, err
	}
	if expired {
		return nil, ErrNotFound
	}
	return &challenge, nil
}
