// ABOUTME: Admin API for users, agents, registration invitations, and signing keys
// ABOUTME: Access requires an allowlisted session or the static management token

package idp

import (
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/openape/idp-gateway/internal/auth"
	"github.com/openape/idp-gateway/internal/store"
)

// requireAdmin wraps a handler with admin access control. The management
// bearer token and allowlisted user sessions are both accepted.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if auth.MatchesManagementToken(r.Header.Get("Authorization"), s.cfg.Auth.ManagementToken) {
			next(w, r)
			return
		}

		sess, err := s.sessions.Get(r.Context(), r)
		if err != nil || !sess.Authenticated() {
			s.writeError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		if !slices.Contains(s.cfg.Auth.AdminEmails, sess.Subject) {
			s.writeError(w, http.StatusForbidden, "not an administrator")
			return
		}
		next(w, r)
	}
}

// adminIdentity names the caller for audit fields.
func (s *Server) adminIdentity(r *http.Request) string {
	if auth.MatchesManagementToken(r.Header.Get("Authorization"), s.cfg.Auth.ManagementToken) {
		return "management-token"
	}
	if sess, err := s.sessions.Get(r.Context(), r); err == nil {
		return sess.Subject
	}
	return ""
}

// --- Users ---

type adminUser struct {
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	HasPassword bool      `json:"hasPassword"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (s *Server) handleAdminUsersList(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list users", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]adminUser, 0, len(users))
	for _, u := range users {
		out = append(out, adminUser{
			Email:       u.Email,
			Name:        u.Name,
			HasPassword: u.PasswordHash != "",
			CreatedAt:   u.CreatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"users": out})
}

func (s *Server) handleAdminUserDelete(w http.ResponseWriter, r *http.Request) {
	email := r.PathValue("email")
	if _, err := s.users.Find(r.Context(), email); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "user not found")
			return
		}
		s.logger.Error("failed to load user", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := s.credentials.DeleteAllForUser(r.Context(), email); err != nil {
		s.logger.Error("failed to delete user credentials", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := s.users.Delete(r.Context(), email); err != nil {
		s.logger.Error("failed to delete user", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info("user deleted", "subject", email, "deleted_by", s.adminIdentity(r))
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Agents ---

type agentCreateRequest struct {
	Name      string `json:"name"`
	Owner     string `json:"owner"`
	PublicKey string `json:"publicKey"`
}

func (s *Server) handleAdminAgentsList(w http.ResponseWriter, r *http.Request) {
	agents, err := s.agents.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list agents", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

func (s *Server) handleAdminAgentCreate(w http.ResponseWriter, r *http.Request) {
	var req agentCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.PublicKey == "" {
		s.writeError(w, http.StatusBadRequest, "name and publicKey are required")
		return
	}
	if err := auth.ValidateAgentPublicKey(req.PublicKey); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	agent := &store.Agent{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Owner:     req.Owner,
		Approver:  s.adminIdentity(r),
		PublicKey: req.PublicKey,
		CreatedAt: time.Now(),
		Active:    true,
	}
	if err := s.agents.Create(r.Context(), agent); err != nil {
		s.logger.Error("failed to create agent", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info("agent created", "agent_id", agent.ID, "name", agent.Name, "approved_by", agent.Approver)
	s.writeJSON(w, http.StatusCreated, agent)
}

func (s *Server) handleAdminAgentGet(w http.ResponseWriter, r *http.Request) {
	agent, err := s.agents.Find(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to load agent", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleAdminAgentDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.agents.Find(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		s.logger.Error("failed to load agent", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := s.agents.Delete(r.Context(), id); err != nil {
		s.logger.Error("failed to delete agent", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.logger.Info("agent deleted", "agent_id", id, "deleted_by", s.adminIdentity(r))
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAdminAgentRevoke(w http.ResponseWriter, r *http.Request) {
	s.setAgentActive(w, r, false)
}

func (s *Server) handleAdminAgentApprove(w http.ResponseWriter, r *http.Request) {
	s.setAgentActive(w, r, true)
}

func (s *Server) setAgentActive(w http.ResponseWriter, r *http.Request, active bool) {
	id := r.PathValue("id")
	agent, err := s.agents.Update(r.Context(), id, func(a *store.Agent) {
		a.Active = active
		if active {
			a.Approver = s.adminIdentity(r)
		}
	})
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to update agent", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.logger.Info("agent active flag changed", "agent_id", id, "active", active, "changed_by", s.adminIdentity(r))
	s.writeJSON(w, http.StatusOK, agent)
}

// --- Registration invitations ---

type inviteCreateRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	TTL   string `json:"ttl,omitempty"` // Go duration, default 24h
}

func (s *Server) handleAdminInvitesList(w http.ResponseWriter, r *http.Request) {
	invites, err := s.invites.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list invites", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"registrationUrls": invites})
}

func (s *Server) handleAdminInviteCreate(w http.ResponseWriter, r *http.Request) {
	var req inviteCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" {
		s.writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	ttl := store.DefaultInviteTTL
	if req.TTL != "" {
		parsed, err := time.ParseDuration(req.TTL)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid ttl")
			return
		}
		ttl = parsed
	}

	token, err := generateToken(24)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	now := time.Now()
	invite := &store.Invite{
		Token:     token,
		Email:     req.Email,
		Name:      req.Name,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		CreatedBy: s.adminIdentity(r),
	}
	if err := s.invites.Save(r.Context(), invite); err != nil {
		s.logger.Error("failed to save invite", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info("registration url created", "email", req.Email, "created_by", invite.CreatedBy)
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"invite": invite,
		"url":    s.cfg.Issuer + "/register?invite=" + token,
	})
}

func (s *Server) handleAdminInviteDelete(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	if _, err := s.invites.Find(r.Context(), token); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "registration url not found")
			return
		}
		s.logger.Error("failed to load invite", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := s.invites.Delete(r.Context(), token); err != nil {
		s.logger.Error("failed to delete invite", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Signing keys ---

type keySummary struct {
	Kid       string    `json:"kid"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *Server) handleAdminKeysList(w http.ResponseWriter, r *http.Request) {
	keys, err := s.keys.PublicKeys(r.Context())
	if err != nil {
		s.logger.Error("failed to list keys", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]keySummary, 0, len(keys))
	for _, k := range keys {
		out = append(out, keySummary{Kid: k.Kid, CreatedAt: k.CreatedAt})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"keys": out})
}

func (s *Server) handleAdminKeyRotate(w http.ResponseWriter, r *http.Request) {
	key, err := s.keys.Rotate(r.Context())
	if err != nil {
		s.logger.Error("failed to rotate keys", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.logger.Info("signing key rotated", "kid", key.Kid, "rotated_by", s.adminIdentity(r))
	s.writeJSON(w, http.StatusCreated, keySummary{Kid: key.Kid, CreatedAt: key.CreatedAt})
}

func (s *Server) handleAdminKeyDeactivate(w http.ResponseWriter, r *http.Request) {
	kid := r.PathValue("kid")
	err := s.keys.Deactivate(r.Context(), kid)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "key not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to deactivate key", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.logger.Info("signing key deactivated", "kid", kid, "deactivated_by", s.adminIdentity(r))
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
