// ABOUTME: User records keyed by email with optional bcrypt password hashes
// ABOUTME: Authenticate fails uniformly so unknown email and bad password match

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/openape/idp-gateway/internal/kv"
)

const userNamespace = "users"

// User is an end-user identity. PasswordHash is empty for passkey-only
// accounts.
type User struct {
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"passwordHash,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// UserStore persists user records keyed by email.
type UserStore struct {
	kv kv.Store
}

// NewUserStore creates a user store over the given kv space.
func NewUserStore(store kv.Store) *UserStore {
	return &UserStore{kv: store}
}

// Create adds a new user. Password is optional; when set it is stored as a
// bcrypt hash. Returns ErrConflict if the email is already taken.
func (s *UserStore) Create(ctx context.Context, email, name, password string) (*User, error) {
	email = normalizeEmail(email)
	if _, err := s.Find(ctx, email); err == nil {
		return nil, ErrConflict
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	user := &User{
		Email:     email,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hashing password: %w", err)
		}
		user.PasswordHash = string(hash)
	}

	if err := setJSON(ctx, s.kv, userNamespace, email, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Find returns the user with the given email.
func (s *UserStore) Find(ctx context.Context, email string) (*User, error) {
	var user User
	if err := getJSON(ctx, s.kv, userNamespace, normalizeEmail(email), &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Authenticate verifies an email/password pair. Unknown users, passkey-only
// users, and wrong passwords all return ErrNotFound.
func (s *UserStore) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.Find(ctx, email)
	if err != nil {
		return nil, ErrNotFound
	}
	if user.PasswordHash == "" {
		return nil, ErrNotFound
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrNotFound
	}
	return user, nil
}

// List returns all users, for admin enumeration.
func (s *UserStore) List(ctx context.Context) ([]*User, error) {
	keys, err := s.kv.ListKeys(ctx, userNamespace+":")
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}

	users := make([]*User, 0, len(keys))
	for _, key := range keys {
		email := strings.TrimPrefix(key, userNamespace+":")
		var user User
		if err := getJSON(ctx, s.kv, userNamespace, email, &user); err != nil {
			continue
		}
		users = append(users, &user)
	}
	return users, nil
}

// Delete removes a user record.
func (s *UserStore) Delete(ctx context.Context, email string) error {
	return s.kv.Delete(ctx, kv.Key(userNamespace, normalizeEmail(email)))
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
