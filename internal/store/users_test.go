// ABOUTME: Tests for user creation, conflicts, and password authentication
// ABOUTME: Authentication failures are uniform across unknown user and bad password

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openape/idp-gateway/internal/kv"
)

func TestUserStore_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	users := NewUserStore(kv.NewMemory())

	created, err := users.Create(ctx, "Alice@Example.com", "Alice", "")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", created.Email, "emails are normalized")
	assert.Empty(t, created.PasswordHash)

	found, err := users.Find(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Alice", found.Name)
}

func TestUserStore_DuplicateCreateConflicts(t *testing.T) {
	ctx := context.Background()
	users := NewUserStore(kv.NewMemory())

	_, err := users.Create(ctx, "alice@example.com", "Alice", "")
	require.NoError(t, err)

	_, err = users.Create(ctx, "ALICE@example.com", "Another Alice", "")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestUserStore_Authenticate(t *testing.T) {
	ctx := context.Background()
	users := NewUserStore(kv.NewMemory())

	_, err := users.Create(ctx, "alice@example.com", "Alice", "s3cret-passphrase")
	require.NoError(t, err)
	_, err = users.Create(ctx, "bob@example.com", "Bob", "") // passkey-only
	require.NoError(t, err)

	user, err := users.Authenticate(ctx, "alice@example.com", "s3cret-passphrase")
	require.NoError(t, err)
	assert.Equal(t, "Alice", user.Name)

	tests := []struct {
		name     string
		email    string
		password string
	}{
		{"wrong password", "alice@example.com", "wrong"},
		{"unknown user", "carol@example.com", "s3cret-passphrase"},
		{"passkey-only user", "bob@example.com", "anything"},
		{"empty password", "alice@example.com", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := users.Authenticate(ctx, tt.email, tt.password)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestUserStore_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	users := NewUserStore(kv.NewMemory())

	_, err := users.Create(ctx, "alice@example.com", "Alice", "")
	require.NoError(t, err)
	_, err = users.Create(ctx, "bob@example.com", "Bob", "")
	require.NoError(t, err)

	all, err := users.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, users.Delete(ctx, "alice@example.com"))
	_, err = users.Find(ctx, "alice@example.com")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err = users.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
