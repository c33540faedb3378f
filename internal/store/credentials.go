// ABOUTME: WebAuthn credential records with a per-user secondary index
// ABOUTME: Index entries may dangle; dereference misses are skipped, not fatal

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/openape/idp-gateway/internal/kv"
)

const (
	credentialNamespace      = "credentials"
	credentialIndexNamespace = "user-credentials"
)

// Credential is a registered WebAuthn authenticator. CredentialID is the
// base64url form of the authenticator's credential id and doubles as the
// record key.
type Credential struct {
	CredentialID    string    `json:"credentialId"`
	UserEmail       string    `json:"userEmail"`
	Name            string    `json:"name,omitempty"`
	PublicKey       []byte    `json:"publicKey"`
	AttestationType string    `json:"attestationType,omitempty"`
	Transports      []string  `json:"transports,omitempty"`
	BackedUp        bool      `json:"backedUp"`
	SignCount       uint32    `json:"counter"`
	CreatedAt       time.Time `json:"createdAt"`
}

// CredentialStore persists credentials plus a per-user index of credential
// ids. Record and index are updated in separate writes with no transaction
// between them, so the index may reference a record deleted out of order;
// readers treat a missing dereferenced record as absent, never as a fault.
type CredentialStore struct {
	kv kv.Store
}

// NewCredentialStore creates a credential store over the given kv space.
func NewCredentialStore(store kv.Store) *CredentialStore {
	return &CredentialStore{kv: store}
}

// Save upserts the credential and adds it to the owner's index.
func (s *CredentialStore) Save(ctx context.Context, cred *Credential) error {
	if err := setJSON(ctx, s.kv, credentialNamespace, cred.CredentialID, cred); err != nil {
		return err
	}

	index, err := s.index(ctx, cred.UserEmail)
	if err != nil {
		return err
	}
	if !slices.Contains(index, cred.CredentialID) {
		index = append(index, cred.CredentialID)
		if err := s.writeIndex(ctx, cred.UserEmail, index); err != nil {
			return err
		}
	}
	return nil
}

// FindByID returns the credential with the given id.
func (s *CredentialStore) FindByID(ctx context.Context, credentialID string) (*Credential, error) {
	var cred Credential
	if err := getJSON(ctx, s.kv, credentialNamespace, credentialID, &cred); err != nil {
		return nil, err
	}
	return &cred, nil
}

// FindByUser returns every credential registered to the user. Dangling index
// entries are skipped.
func (s *CredentialStore) FindByUser(ctx context.Context, email string) ([]*Credential, error) {
	index, err := s.index(ctx, email)
	if err != nil {
		return nil, err
	}

	creds := make([]*Credential, 0, len(index))
	for _, id := range index {
		cred, err := s.FindByID(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	return creds, nil
}

// UpdateSignCount rewrites the credential's signature counter after a
// successful assertion.
func (s *CredentialStore) UpdateSignCount(ctx context.Context, credentialID string, count uint32) error {
	cred, err := s.FindByID(ctx, credentialID)
	if err != nil {
		return err
	}
	cred.SignCount = count
	return setJSON(ctx, s.kv, credentialNamespace, credentialID, cred)
}

// Delete removes a credential and prunes it from the owner's index.
func (s *CredentialStore) Delete(ctx context.Context, credentialID string) error {
	cred, err := s.FindByID(ctx, credentialID)
	if err == nil {
		index, err := s.index(ctx, cred.UserEmail)
		if err != nil {
			return err
		}
		pruned := slices.DeleteFunc(index, func(id string) bool { return id == credentialID })
		if err := s.writeIndex(ctx, cred.UserEmail, pruned); err != nil {
			return err
		}
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	return s.kv.Delete(ctx, kv.Key(credentialNamespace, credentialID))
}

// DeleteAllForUser removes every credential of a user along with the index.
func (s *CredentialStore) DeleteAllForUser(ctx context.Context, email string) error {
	index, err := s.index(ctx, email)
	if err != nil {
		return err
	}
	for _, id := range index {
		if err := s.kv.Delete(ctx, kv.Key(credentialNamespace, id)); err != nil {
			return err
		}
	}
	return s.kv.Delete(ctx, kv.Key(credentialIndexNamespace, email))
}

// index reads the user's credential id list; absent index means no
// credentials.
func (s *CredentialStore) index(ctx context.Context, email string) ([]string, error) {
	data, err := s.kv.Get(ctx, kv.Key(credentialIndexNamespace, email))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading credential index: %w", err)
	}
	var index []string
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("decoding credential index: %w", err)
	}
	return index, nil
}

func (s *CredentialStore) writeIndex(ctx context.Context, email string, index []string) error {
	data, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("encoding credential index: %w", err)
	}
	if err := s.kv.Set(ctx, kv.Key(credentialIndexNamespace, email), data); err != nil {
		return fmt.Errorf("writing credential index: %w", err)
	}
	return nil
}
