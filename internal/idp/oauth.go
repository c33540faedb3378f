// ABOUTME: Authorization code flow endpoints and JWKS discovery
// ABOUTME: Codes live sixty seconds and are deleted at redemption, never reused

package idp

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/openape/idp-gateway/internal/auth"
	"github.com/openape/idp-gateway/internal/session"
	"github.com/openape/idp-gateway/internal/store"
)

// handleAuthorize validates the authorization request, stashing it in the
// session across the login redirect when the user is not yet authenticated.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if q.Get("response_type") != "code" {
		s.writeError(w, http.StatusBadRequest, "response_type must be code")
		return
	}
	spID := q.Get("sp_id")
	if spID == "" {
		s.writeError(w, http.StatusBadRequest, "sp_id is required")
		return
	}
	redirectURI := q.Get("redirect_uri")
	parsed, err := url.Parse(redirectURI)
	if err != nil || !parsed.IsAbs() {
		s.writeError(w, http.StatusBadRequest, "redirect_uri must be an absolute URL")
		return
	}
	codeChallenge := q.Get("code_challenge")
	if codeChallenge == "" {
		s.writeError(w, http.StatusBadRequest, "code_challenge is required")
		return
	}
	if method := q.Get("code_challenge_method"); method != "" && method != auth.CodeChallengeMethodS256 {
		s.writeError(w, http.StatusBadRequest, "code_challenge_method must be S256")
		return
	}
	state := q.Get("state")
	nonce := q.Get("nonce")

	sess, err := s.sessions.Get(r.Context(), r)
	if err != nil && !errors.Is(err, session.ErrNoSession) {
		s.logger.Error("failed to load session", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if !sess.Authenticated() {
		_, err := s.sessions.Update(r.Context(), w, r, func(sess *session.Session) {
			sess.PendingAuthorize = &session.PendingAuthorize{
				SPID:          spID,
				RedirectURI:   redirectURI,
				CodeChallenge: codeChallenge,
				State:         state,
				Nonce:         nonce,
			}
			sess.ReturnTo = r.URL.String()
		})
		if err != nil {
			s.logger.Error("failed to stash authorize request", "error", err)
			s.writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	code, err := s.issueCode(r, sess.Subject, spID, redirectURI, codeChallenge, nonce)
	if err != nil {
		s.logger.Error("failed to issue authorization code", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if sess.PendingAuthorize != nil || sess.ReturnTo != "" {
		if _, err := s.sessions.Update(r.Context(), w, r, func(sess *session.Session) {
			sess.PendingAuthorize = nil
			sess.ReturnTo = ""
		}); err != nil {
			s.logger.Warn("failed to clear pending authorize state", "error", err)
		}
	}

	dest := *parsed
	dq := dest.Query()
	dq.Set("code", code)
	if state != "" {
		dq.Set("state", state)
	}
	dest.RawQuery = dq.Encode()
	http.Redirect(w, r, dest.String(), http.StatusSeeOther)
}

// issueCode mints and persists a short-lived single-use authorization code.
func (s *Server) issueCode(r *http.Request, subject, spID, redirectURI, codeChallenge, nonce string) (string, error) {
	code, err := generateToken(32)
	if err != nil {
		return "", err
	}
	if err := s.codes.Save(r.Context(), &store.Code{
		Code:          code,
		SPID:          spID,
		RedirectURI:   redirectURI,
		CodeChallenge: codeChallenge,
		Subject:       subject,
		Nonce:         nonce,
		ExpiresAt:     time.Now().Add(store.CodeTTL),
	}); err != nil {
		return "", err
	}
	s.logger.Info("authorization code issued", "sp_id", spID, "subject", subject)
	return code, nil
}

type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code"`
	CodeVerifier string `json:"code_verifier"`
	RedirectURI  string `json:"redirect_uri"`
	SPID         string `json:"sp_id"`
}

// handleToken redeems an authorization code for a signed relying-party
// token. Expired, replayed, and mismatched codes all answer invalid_grant;
// the endpoint leaks nothing about which check failed.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.GrantType != "authorization_code" {
		s.writeError(w, http.StatusBadRequest, "grant_type must be authorization_code")
		return
	}

	code, err := s.codes.Find(r.Context(), req.Code)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusBadRequest, "invalid_grant")
		return
	}
	if err != nil {
		s.logger.Error("failed to load authorization code", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if code.SPID != req.SPID || code.RedirectURI != req.RedirectURI {
		s.writeError(w, http.StatusBadRequest, "invalid_grant")
		return
	}
	if !auth.VerifyPKCE(req.CodeVerifier, code.CodeChallenge) {
		s.writeError(w, http.StatusBadRequest, "invalid_grant")
		return
	}

	if err := s.codes.Delete(r.Context(), req.Code); err != nil {
		s.logger.Error("failed to delete redeemed code", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	var name string
	if user, err := s.users.Find(r.Context(), code.Subject); err == nil {
		name = user.Name
	}

	signing, err := s.keys.SigningKey(r.Context())
	if err != nil {
		s.logger.Error("failed to load signing key", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	signed, err := auth.IssueRPToken(code.Subject, name, s.cfg.Issuer, code.SPID, code.Nonce, signing.Private, signing.Kid)
	if err != nil {
		s.logger.Error("failed to sign token", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info("code redeemed", "sp_id", code.SPID, "subject", code.Subject)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"access_token": signed,
		"token_type":   "Bearer",
		"expires_in":   int(auth.RPTokenTTL.Seconds()),
	})
}

// handleJWKS serves the public halves of every active signing key.
func (s *Server) handleJWKS(w http.ResponseWriter, r *http.Request) {
	keys, err := s.keys.PublicKeys(r.Context())
	if err != nil {
		s.logger.Error("failed to load public keys", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, auth.BuildJWKS(keys))
}
