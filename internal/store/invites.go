// ABOUTME: Admin-issued registration invitations with dual validity gates
// ABOUTME: Consume flips a flag and keeps the record as an audit trail

package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openape/idp-gateway/internal/kv"
)

const inviteNamespace = "registration-urls"

// DefaultInviteTTL is the invitation lifetime used when the administrator
// does not choose one.
const DefaultInviteTTL = 24 * time.Hour

// Invite is a single-use registration invitation created by an
// administrator out of band. Two independent gates guard redemption: the
// absolute expiry and the consumed flag. Unlike codes and challenges the
// record survives consumption so the admin can audit who redeemed what.
type Invite struct {
	Token     string    `json:"token"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedBy string    `json:"createdBy"`
	Consumed  bool      `json:"consumed"`
}

// Valid reports whether the invite passes both gates at the given time.
func (i *Invite) Valid(now time.Time) bool {
	return !i.Consumed && now.Before(i.ExpiresAt)
}

// InviteStore persists registration invitations.
type InviteStore struct {
	kv kv.Store
}

// NewInviteStore creates an invite store over the given kv space.
func NewInviteStore(store kv.Store) *InviteStore {
	return &InviteStore{kv: store}
}

// Save writes the invite.
func (s *InviteStore) Save(ctx context.Context, invite *Invite) error {
	return setJSON(ctx, s.kv, inviteNamespace, invite.Token, invite)
}

// Find returns the invite if it is unexpired and unconsumed. Invalid invites
// are not deleted - they remain visible to List - but read as ErrNotFound.
func (s *InviteStore) Find(ctx context.Context, token string) (*Invite, error) {
	var invite Invite
	if err := getJSON(ctx, s.kv, inviteNamespace, token, &invite); err != nil {
		return nil, err
	}
	if !invite.Valid(time.Now()) {
		return nil, ErrNotFound
	}
	return &invite, nil
}

// Consume marks the invite consumed and persists it. Callers must invoke
// this only after every downstream side effect of redemption has succeeded;
// a failure partway through registration leaves the invite usable for retry.
func (s *InviteStore) Consume(ctx context.Context, token string) (*Invite, error) {
	invite, err := s.Find(ctx, token)
	if err != nil {
		return nil, err
	}
	invite.Consumed = true
	if err := s.Save(ctx, invite); err != nil {
		return nil, fmt.Errorf("marking invite consumed: %w", err)
	}
	return invite, nil
}

// List returns every invitation regardless of state, for admin enumeration.
func (s *InviteStore) List(ctx context.Context) ([]*Invite, error) {
	keys, err := s.kv.ListKeys(ctx, inviteNamespace+":")
	if err != nil {
		return nil, fmt.Errorf("listing invites: %w", err)
	}

	invites := make([]*Invite, 0, len(keys))
	for _, key := range keys {
		token := strings.TrimPrefix(key, inviteNamespace+":")
		var invite Invite
		if err := getJSON(ctx, s.kv, inviteNamespace, token, &invite); err != nil {
			// Deleted between list and read; skip.
			continue
		}
		invites = append(invites, &invite)
	}
	return invites, nil
}

// Delete revokes an invitation outright.
func (s *InviteStore) Delete(ctx context.Context, token string) error {
	return s.kv.Delete(ctx, kv.Key(inviteNamespace, token))
}
