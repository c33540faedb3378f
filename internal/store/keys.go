// ABOUTME: Signing key manager - lazy ES256 key creation, caching, rotation
// ABOUTME: Newest active key signs; all active keys stay published for JWKS

package store

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/openape/idp-gateway/internal/kv"
)

const keyNamespace = "keys"

// SigningKey is a decoded asymmetric key pair. Private is nil for keys
// returned by PublicKeys.
type SigningKey struct {
	Kid       string
	Private   *ecdsa.PrivateKey
	Public    *ecdsa.PublicKey
	CreatedAt time.Time
}

// storedKey is the persisted form. Both halves are PEM-encoded so a record
// is never written with only one of them present.
type storedKey struct {
	Kid           string    `json:"kid"`
	PrivateKeyPEM string    `json:"privateKeyPem"`
	PublicKeyPEM  string    `json:"publicKeyPem"`
	Active        bool      `json:"isActive"`
	CreatedAt     time.Time `json:"createdAt"`
}

// KeyManager owns the gateway's ES256 signing keys. Keys are loaded once per
// process and cached; the cache is invalidated only by explicit Rotate or
// Deactivate calls, never by time. The newest active key signs new tokens,
// while every non-deactivated key remains available for verification so
// rotation does not break in-flight tokens.
type KeyManager struct {
	kv     kv.Store
	logger *slog.Logger

	mu     sync.Mutex
	cached []*SigningKey // sorted newest first; nil = not loaded
}

// NewKeyManager creates a key manager over the given kv space.
func NewKeyManager(store kv.Store) *KeyManager {
	return &KeyManager{
		kv:     store,
		logger: slog.Default().With("component", "keys"),
	}
}

// SigningKey returns the current signing key, generating and persisting one
// if none exists. Concurrent first-time callers within one process are
// serialized by the manager's mutex and converge on a single kid; two
// separate processes racing the first creation can each persist a key, in
// which case the newer one wins for signing and both verify.
func (m *KeyManager) SigningKey(ctx context.Context) (*SigningKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.loadLocked(ctx); err != nil {
		return nil, err
	}
	if len(m.cached) == 0 {
		key, err := m.createLocked(ctx)
		if err != nil {
			return nil, err
		}
		return key, nil
	}
	return m.cached[0], nil
}

// PublicKeys returns the public half of every non-deactivated key, newest
// first, for JWKS publication.
func (m *KeyManager) PublicKeys(ctx context.Context) ([]*SigningKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.loadLocked(ctx); err != nil {
		return nil, err
	}
	keys := make([]*SigningKey, 0, len(m.cached))
	for _, k := range m.cached {
		keys = append(keys, &SigningKey{Kid: k.Kid, Public: k.Public, CreatedAt: k.CreatedAt})
	}
	return keys, nil
}

// Rotate generates a new key pair and makes it the signing key. Older keys
// stay active for verification until explicitly deactivated. The in-process
// cache is reloaded from storage first so rotation observes keys created by
// other processes.
func (m *KeyManager) Rotate(ctx context.Context) (*SigningKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cached = nil
	if err := m.loadLocked(ctx); err != nil {
		return nil, err
	}
	return m.createLocked(ctx)
}

// Deactivate retires a key from signing and publication. In-flight tokens
// signed by it will no longer verify; callers choose when that is safe.
func (m *KeyManager) Deactivate(ctx context.Context, kid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stored storedKey
	if err := getJSON(ctx, m.kv, keyNamespace, kid, &stored); err != nil {
		return err
	}
	stored.Active = false
	if err := setJSON(ctx, m.kv, keyNamespace, kid, &stored); err != nil {
		return err
	}

	m.cached = nil // force reload on next use
	m.logger.Info("signing key deactivated", "kid", kid)
	return nil
}

// loadLocked populates the cache from storage if it is empty. Caller holds mu.
func (m *KeyManager) loadLocked(ctx context.Context) error {
	if m.cached != nil {
		return nil
	}

	keys, err := m.kv.ListKeys(ctx, keyNamespace+":")
	if err != nil {
		return fmt.Errorf("listing signing keys: %w", err)
	}

	loaded := make([]*SigningKey, 0, len(keys))
	for _, key := range keys {
		kid := strings.TrimPrefix(key, keyNamespace+":")
		var stored storedKey
		if err := getJSON(ctx, m.kv, keyNamespace, kid, &stored); err != nil {
			continue
		}
		if !stored.Active {
			continue
		}
		decoded, err := decodeKey(&stored)
		if err != nil {
			m.logger.Warn("skipping undecodable signing key", "kid", kid, "error", err)
			continue
		}
		loaded = append(loaded, decoded)
	}

	sort.Slice(loaded, func(i, j int) bool {
		return loaded[i].CreatedAt.After(loaded[j].CreatedAt)
	})
	m.cached = loaded
	return nil
}

// createLocked generates, persists, and caches a new key pair. Caller holds mu.
func (m *KeyManager) createLocked(ctx context.Context) (*SigningKey, error) {
	private, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating key pair: %w", err)
	}

	now := time.Now().UTC()
	kid := fmt.Sprintf("key-%d", now.UnixMilli())
	for _, existing := range m.cached {
		if existing.Kid == kid {
			kid = fmt.Sprintf("key-%d", now.UnixMilli()+1)
			break
		}
	}

	stored, err := encodeKey(kid, private, now)
	if err != nil {
		return nil, err
	}
	// Persist before caching: a failed write must not leave a key that only
	// this process knows about.
	if err := setJSON(ctx, m.kv, keyNamespace, kid, stored); err != nil {
		return nil, err
	}

	key := &SigningKey{Kid: kid, Private: private, Public: &private.PublicKey, CreatedAt: now}
	m.cached = append([]*SigningKey{key}, m.cached...)
	m.logger.Info("signing key created", "kid", kid)
	return key, nil
}

// encodeKey PEM-encodes both halves of a key pair into the persisted form.
func encodeKey(kid string, private *ecdsa.PrivateKey, createdAt time.Time) (*storedKey, error) {
	privateDER, err := x509.MarshalECPrivateKey(private)
	if err != nil {
		return nil, fmt.Errorf("encoding private key: %w", err)
	}
	publicDER, err := x509.MarshalPKIXPublicKey(&private.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("encoding public key: %w", err)
	}
	return &storedKey{
		Kid:           kid,
		PrivateKeyPEM: string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: privateDER})),
		PublicKeyPEM:  string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicDER})),
		Active:        true,
		CreatedAt:     createdAt,
	}, nil
}

// decodeKey parses a persisted key record back into usable key material.
func decodeKey(stored *storedKey) (*SigningKey, error) {
	privateBlock, _ := pem.Decode([]byte(stored.PrivateKeyPEM))
	if privateBlock == nil {
		return nil, fmt.Errorf("key %s: missing private key PEM", stored.Kid)
	}
	private, err := x509.ParseECPrivateKey(privateBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("key %s: parsing private key: %w", stored.Kid, err)
	}

	publicBlock, _ := pem.Decode([]byte(stored.PublicKeyPEM))
	if publicBlock == nil {
		return nil, fmt.Errorf("key %s: missing public key PEM", stored.Kid)
	}
	parsed, err := x509.ParsePKIXPublicKey(publicBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("key %s: parsing public key: %w", stored.Kid, err)
	}
	public, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("key %s: not an ECDSA public key", stored.Kid)
	}

	return &SigningKey{
		Kid:       stored.Kid,
		Private:   private,
		Public:    public,
		CreatedAt: stored.CreatedAt,
	}, nil
}
