// ABOUTME: Tests for registration invitation dual-gate validity and audit trail
// ABOUTME: Covers the save/find/consume/list lifecycle scenario end to end

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openape/idp-gateway/internal/kv"
)

func newTestInvite(token string, ttl time.Duration) *Invite {
	now := time.Now().UTC()
	return &Invite{
		Token:     token,
		Email:     "alice@example.com",
		Name:      "Alice",
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		CreatedBy: "admin@example.com",
	}
}

func TestInviteStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	invites := NewInviteStore(kv.NewMemory())

	// save an invitation for alice expiring in 1 hour
	require.NoError(t, invites.Save(ctx, newTestInvite("inv-1", time.Hour)))

	// find within the hour returns it unconsumed
	found, err := invites.Find(ctx, "inv-1")
	require.NoError(t, err)
	assert.False(t, found.Consumed)
	assert.Equal(t, "alice@example.com", found.Email)

	// consume returns it and sets consumed=true
	consumed, err := invites.Consume(ctx, "inv-1")
	require.NoError(t, err)
	assert.True(t, consumed.Consumed)

	// subsequent find fails not-found
	_, err = invites.Find(ctx, "inv-1")
	assert.ErrorIs(t, err, ErrNotFound)

	// list still shows it with consumed=true
	all, err := invites.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Consumed)
	assert.Equal(t, "admin@example.com", all[0].CreatedBy)
}

func TestInviteStore_SecondConsumeFails(t *testing.T) {
	ctx := context.Background()
	invites := NewInviteStore(kv.NewMemory())

	require.NoError(t, invites.Save(ctx, newTestInvite("inv-2", time.Hour)))

	_, err := invites.Consume(ctx, "inv-2")
	require.NoError(t, err)

	_, err = invites.Consume(ctx, "inv-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInviteStore_ExpiredStaysListable(t *testing.T) {
	ctx := context.Background()
	invites := NewInviteStore(kv.NewMemory())

	require.NoError(t, invites.Save(ctx, newTestInvite("inv-3", -time.Minute)))

	// Expired invites are not redeemable...
	_, err := invites.Find(ctx, "inv-3")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = invites.Consume(ctx, "inv-3")
	assert.ErrorIs(t, err, ErrNotFound)

	// ...but remain enumerable for the admin, unlike codes and challenges.
	all, err := invites.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.False(t, all[0].Consumed)
}

func TestInviteStore_FailedRegistrationLeavesInviteUsable(t *testing.T) {
	ctx := context.Background()
	invites := NewInviteStore(kv.NewMemory())

	require.NoError(t, invites.Save(ctx, newTestInvite("inv-4", time.Hour)))

	// Redemption peeks first; a simulated downstream failure before Consume
	// leaves the invite usable for retry.
	_, err := invites.Find(ctx, "inv-4")
	require.NoError(t, err)
	// ... user creation / credential save fails here, Consume never runs ...

	retried, err := invites.Find(ctx, "inv-4")
	require.NoError(t, err)
	assert.False(t, retried.Consumed)

	_, err = invites.Consume(ctx, "inv-4")
	require.NoError(t, err)
}

func TestInviteStore_Delete(t *testing.T) {
	ctx := context.Background()
	invites := NewInviteStore(kv.NewMemory())

	require.NoError(t, invites.Save(ctx, newTestInvite("inv-5", time.Hour)))
	require.NoError(t, invites.Delete(ctx, "inv-5"))

	_, err := invites.Find(ctx, "inv-5")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := invites.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}
