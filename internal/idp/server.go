// ABOUTME: Server construction, route registration, and shared JSON helpers
// ABOUTME: All entity stores hang off one kv space scoped by the deployment prefix

package idp

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/openape/idp-gateway/internal/auth"
	"github.com/openape/idp-gateway/internal/config"
	"github.com/openape/idp-gateway/internal/kv"
	"github.com/openape/idp-gateway/internal/session"
	"github.com/openape/idp-gateway/internal/store"
)

// Server handles all gateway HTTP routes.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	codes       *store.CodeStore
	challenges  *store.ChallengeStore
	invites     *store.InviteStore
	users       *store.UserStore
	credentials *store.CredentialStore
	agents      *store.AgentStore
	keys        *store.KeyManager

	sessions *session.Manager
	verifier *auth.AgentVerifier
	webauthn *webauthn.WebAuthn
}

// New creates a Server over an already-scoped kv store.
func New(cfg *config.Config, backing kv.Store) (*Server, error) {
	w, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.WebAuthn.RPDisplayName,
		RPID:          cfg.WebAuthn.RPID,
		RPOrigins:     cfg.WebAuthn.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing webauthn: %w", err)
	}

	keys := store.NewKeyManager(backing)
	return &Server{
		cfg:         cfg,
		logger:      slog.Default().With("component", "idp"),
		codes:       store.NewCodeStore(backing),
		challenges:  store.NewChallengeStore(backing),
		invites:     store.NewInviteStore(backing),
		users:       store.NewUserStore(backing),
		credentials: store.NewCredentialStore(backing),
		agents:      store.NewAgentStore(backing),
		keys:        keys,
		sessions:    session.NewManager(backing, cfg.Auth.SessionSecret),
		verifier:    auth.NewAgentVerifier(cfg.Issuer, keys),
		webauthn:    w,
	}, nil
}

// RegisterRoutes registers all gateway routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	// Authorization code flow
	mux.HandleFunc("GET /authorize", s.handleAuthorize)
	mux.HandleFunc("POST /token", s.handleToken)
	mux.HandleFunc("GET /.well-known/jwks.json", s.handleJWKS)

	// Password sessions
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/logout", s.handleLogout)
	mux.HandleFunc("GET /api/me", s.handleMe)

	// Passkey ceremonies
	mux.HandleFunc("POST /api/webauthn/register/options", s.handleRegisterOptions)
	mux.HandleFunc("POST /api/webauthn/register/verify", s.handleRegisterVerify)
	mux.HandleFunc("POST /api/webauthn/login/options", s.handleLoginOptions)
	mux.HandleFunc("POST /api/webauthn/login/verify", s.handleLoginVerify)
	mux.HandleFunc("GET /api/webauthn/credentials", s.handleCredentialsList)
	mux.HandleFunc("DELETE /api/webauthn/credentials/{id}", s.handleCredentialDelete)
	mux.HandleFunc("POST /api/webauthn/credentials/add/options", s.handleCredentialAddOptions)
	mux.HandleFunc("POST /api/webauthn/credentials/add/verify", s.handleCredentialAddVerify)

	// Agent tokens
	mux.HandleFunc("POST /api/agent/challenge", s.handleAgentChallenge)
	mux.HandleFunc("POST /api/agent/token", s.handleAgentToken)
	mux.Handle("GET /api/agent/whoami", auth.RequireAgent(s.verifier)(http.HandlerFunc(s.handleAgentWhoami)))

	// Admin API
	mux.HandleFunc("GET /api/admin/users", s.requireAdmin(s.handleAdminUsersList))
	mux.HandleFunc("DELETE /api/admin/users/{email}", s.requireAdmin(s.handleAdminUserDelete))
	mux.HandleFunc("GET /api/admin/agents", s.requireAdmin(s.handleAdminAgentsList))
	mux.HandleFunc("POST /api/admin/agents", s.requireAdmin(s.handleAdminAgentCreate))
	mux.HandleFunc("GET /api/admin/agents/{id}", s.requireAdmin(s.handleAdminAgentGet))
	mux.HandleFunc("DELETE /api/admin/agents/{id}", s.requireAdmin(s.handleAdminAgentDelete))
	mux.HandleFunc("POST /api/admin/agents/{id}/revoke", s.requireAdmin(s.handleAdminAgentRevoke))
	mux.HandleFunc("POST /api/admin/agents/{id}/approve", s.requireAdmin(s.handleAdminAgentApprove))
	mux.HandleFunc("GET /api/admin/registration-urls", s.requireAdmin(s.handleAdminInvitesList))
	mux.HandleFunc("POST /api/admin/registration-urls", s.requireAdmin(s.handleAdminInviteCreate))
	mux.HandleFunc("DELETE /api/admin/registration-urls/{token}", s.requireAdmin(s.handleAdminInviteDelete))
	mux.HandleFunc("GET /api/admin/keys", s.requireAdmin(s.handleAdminKeysList))
	mux.HandleFunc("POST /api/admin/keys/rotate", s.requireAdmin(s.handleAdminKeyRotate))
	mux.HandleFunc("POST /api/admin/keys/{kid}/deactivate", s.requireAdmin(s.handleAdminKeyDeactivate))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// decodeJSON decodes a JSON request body.
func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// generateToken returns a URL-safe random token.
func generateToken(bytes int) (string, error) {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
