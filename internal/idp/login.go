// ABOUTME: Password login, logout, and current-user endpoints
// ABOUTME: Wrong email and wrong password answer identically

package idp

import (
	"errors"
	"net/http"

	"github.com/openape/idp-gateway/internal/session"
	"github.com/openape/idp-gateway/internal/store"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		s.writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := s.users.Authenticate(r.Context(), req.Email, req.Password)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		s.logger.Error("failed to authenticate user", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	sess, err := s.sessions.Update(r.Context(), w, r, func(sess *session.Session) {
		sess.Subject = user.Email
		sess.Name = user.Name
	})
	if err != nil {
		s.logger.Error("failed to create session", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info("user logged in", "subject", user.Email)
	response := map[string]string{"status": "ok"}
	if sess.ReturnTo != "" {
		response["returnTo"] = sess.ReturnTo
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Clear(r.Context(), w, r); err != nil {
		s.logger.Error("failed to clear session", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), r)
	if err != nil || !sess.Authenticated() {
		s.writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"email": sess.Subject,
		"name":  sess.Name,
	})
}
