// ABOUTME: Single-use authorization codes binding RP, PKCE challenge, and subject
// ABOUTME: Find performs read-time expiry with lazy deletion; never listable

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openape/idp-gateway/internal/kv"
)

const codeNamespace = "codes"

// CodeTTL is the absolute validity window of an authorization code.
const CodeTTL = time.Minute

// Code is a one-time authorization code minted by /authorize and redeemed
// exactly once by the token endpoint.
type Code struct {
	Code          string    `json:"code"`
	SPID          string    `json:"spId"`
	RedirectURI   string    `json:"redirectUri"`
	CodeChallenge string    `json:"codeChallenge"`
	Subject       string    `json:"subject"`
	Nonce         string    `json:"nonce"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// CodeStore persists authorization codes. Codes are addressed by their exact
// opaque id only; the store intentionally provides no enumeration.
type CodeStore struct {
	kv kv.Store
}

// NewCodeStore creates a code store over the given kv space.
func NewCodeStore(store kv.Store) *CodeStore {
	return &CodeStore{kv: store}
}

// Save writes the code unconditionally. Callers always generate fresh random
// ids, so an overwrite means a caller bug, not a store concern.
func (s *CodeStore) Save(ctx context.Context, code *Code) error {
	return setJSON(ctx, s.kv, codeNamespace, code.Code, code)
}

// Find returns the code if it exists and has not expired. Expired codes are
// deleted on read and reported as ErrNotFound.
func (s *CodeStore) Find(ctx context.Context, code string) (*Code, error) {
	var entry Code
	if err := getJSON(ctx, s.kv, codeNamespace, code, &entry); err != nil {
		return nil, err
	}
	if time.Now().After(entry.ExpiresAt) {
		if err := s.kv.Delete(ctx, kv.Key(codeNamespace, code)); err != nil && !errors.Is(err, kv.ErrNotFound) {
			return nil, fmt.Errorf("deleting expired code: %w", err)
		}
		return nil, ErrNotFound
	}
	return &entry, nil
}

// Delete invalidates a code after successful redemption. A later Find of the
// same code fails as ErrNotFound, indistinguishable from a code that never
// existed.
func (s *CodeStore) Delete(ctx context.Context, code string) error {
	return s.kv.Delete(ctx, kv.Key(codeNamespace, code))
}
