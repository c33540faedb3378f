// ABOUTME: Session manager with random cookie tokens and secretbox-sealed records
// ABOUTME: Update merges fields into the record; Clear deletes it and expires the cookie

package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/openape/idp-gateway/internal/kv"
)

const (
	// CookieName is the name of the session cookie.
	CookieName = "idp_session"

	// SessionTTL is how long sessions last. Update refreshes the deadline.
	SessionTTL = 24 * time.Hour

	namespace = "sessions"
)

// ErrNoSession is returned when the request carries no usable session.
var ErrNoSession = errors.New("no session")

// PendingAuthorize holds the authorization parameters stashed when an
// unauthenticated user hits /authorize and gets redirected to login.
type PendingAuthorize struct {
	SPID          string `json:"spId"`
	RedirectURI   string `json:"redirectUri"`
	CodeChallenge string `json:"codeChallenge"`
	State         string `json:"state,omitempty"`
	Nonce         string `json:"nonce,omitempty"`
}

// Session is a server-held session record. Subject is empty until the user
// authenticates; a subjectless session exists only to carry pending state
// across the login redirect.
type Session struct {
	Subject          string            `json:"subject,omitempty"`
	Name             string            `json:"name,omitempty"`
	PendingAuthorize *PendingAuthorize `json:"pendingAuthorize,omitempty"`
	ReturnTo         string            `json:"returnTo,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
	ExpiresAt        time.Time         `json:"expiresAt"`

	id string
}

// Authenticated reports whether the session belongs to a logged-in user.
func (s *Session) Authenticated() bool {
	return s != nil && s.Subject != ""
}

// Manager creates, loads, and destroys sessions. Records are sealed with
// nacl/secretbox before they touch the kv backend, so a leaked store dump
// does not expose login state.
type Manager struct {
	kv     kv.Store
	key    [32]byte
	logger *slog.Logger
}

// NewManager derives the sealing key from secret and returns a manager over
// store. The same secret must be configured on every instance sharing the
// backend.
func NewManager(store kv.Store, secret string) *Manager {
	return &Manager{
		kv:     store,
		key:    sha256.Sum256([]byte(secret)),
		logger: slog.Default().With("component", "session"),
	}
}

// Get loads the session addressed by the request's cookie. Missing cookie,
// unknown id, undecryptable record, and expired record all read as
// ErrNoSession; expired records are deleted on the way out.
func (m *Manager) Get(ctx context.Context, r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return nil, ErrNoSession
	}
	return m.load(ctx, cookie.Value)
}

// Update merges changes into the request's session, creating one when the
// request has none, and refreshes both the record deadline and the cookie.
// The mutation runs against the loaded (or fresh) record.
func (m *Manager) Update(ctx context.Context, w http.ResponseWriter, r *http.Request, mutate func(*Session)) (*Session, error) {
	sess, err := m.Get(ctx, r)
	if errors.Is(err, ErrNoSession) {
		id, err := generateToken(32)
		if err != nil {
			return nil, fmt.Errorf("generating session id: %w", err)
		}
		sess = &Session{CreatedAt: time.Now(), id: id}
	} else if err != nil {
		return nil, err
	}

	mutate(sess)
	sess.ExpiresAt = time.Now().Add(SessionTTL)

	if err := m.save(ctx, sess); err != nil {
		return nil, err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    sess.id,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return sess, nil
}

// Clear deletes the request's session record and expires the cookie. A
// request without a session clears cleanly.
func (m *Manager) Clear(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		if err := m.kv.Delete(ctx, kv.Key(namespace, cookie.Value)); err != nil {
			return fmt.Errorf("deleting session: %w", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (m *Manager) load(ctx context.Context, id string) (*Session, error) {
	sealed, err := m.kv.Get(ctx, kv.Key(namespace, id))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}

	plaintext, ok := m.open(sealed)
	if !ok {
		// Sealed under a different secret, or tampered with. Either way the
		// record is useless; drop it.
		m.logger.Warn("discarding undecryptable session record")
		_ = m.kv.Delete(ctx, kv.Key(namespace, id))
		return nil, ErrNoSession
	}

	var sess Session
	if err := json.Unmarshal(plaintext, &sess); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	if !sess.ExpiresAt.After(time.Now()) {
		_ = m.kv.Delete(ctx, kv.Key(namespace, id))
		return nil, ErrNoSession
	}

	sess.id = id
	return &sess, nil
}

func (m *Manager) save(ctx context.Context, sess *Session) error {
	plaintext, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	sealed, err := m.seal(plaintext)
	if err != nil {
		return err
	}
	if err := m.kv.Set(ctx, kv.Key(namespace, sess.id), sealed); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// seal encrypts plaintext with a fresh random nonce, prepended to the box.
func (m *Manager) seal(plaintext []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &m.key), nil
}

// open splits off the nonce and decrypts. ok is false for anything that is
// not a valid box under the manager's key.
func (m *Manager) open(sealed []byte) ([]byte, bool) {
	if len(sealed) < 24 {
		return nil, false
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	return secretbox.Open(nil, sealed[24:], &nonce, &m.key)
}

// generateToken returns a hex-encoded random token.
func generateToken(bytes int) (string, error) {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
