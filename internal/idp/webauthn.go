// ABOUTME: Passkey registration, login, and credential management endpoints
// ABOUTME: Ceremonies ride single-use challenges; invites are consumed only after everything else succeeds

package idp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/openape/idp-gateway/internal/session"
	"github.com/openape/idp-gateway/internal/store"
)

// webAuthnUser adapts a gateway user to the webauthn.User interface.
type webAuthnUser struct {
	email string
	name  string
	creds []*store.Credential
}

func (u *webAuthnUser) WebAuthnID() []byte {
	return []byte(u.email)
}

func (u *webAuthnUser) WebAuthnName() string {
	return u.email
}

func (u *webAuthnUser) WebAuthnDisplayName() string {
	if u.name != "" {
		return u.name
	}
	return u.email
}

func (u *webAuthnUser) WebAuthnCredentials() []webauthn.Credential {
	creds := make([]webauthn.Credential, 0, len(u.creds))
	for _, c := range u.creds {
		rawID, err := base64.RawURLEncoding.DecodeString(c.CredentialID)
		if err != nil {
			continue
		}
		transports := make([]protocol.AuthenticatorTransport, 0, len(c.Transports))
		for _, t := range c.Transports {
			transports = append(transports, protocol.AuthenticatorTransport(t))
		}
		creds = append(creds, webauthn.Credential{
			ID:              rawID,
			PublicKey:       c.PublicKey,
			AttestationType: c.AttestationType,
			Transport:       transports,
			Flags: webauthn.CredentialFlags{
				BackupState: c.BackedUp,
			},
			Authenticator: webauthn.Authenticator{
				SignCount: c.SignCount,
			},
		})
	}
	return creds
}

// saveChallenge persists webauthn session state under a fresh token.
func (s *Server) saveChallenge(ctx context.Context, data *webauthn.SessionData, subject string, ceremony store.CeremonyType) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	token, err := generateToken(32)
	if err != nil {
		return "", err
	}
	if err := s.challenges.Save(ctx, token, &store.Challenge{
		SessionData: raw,
		Subject:     subject,
		Type:        ceremony,
		ExpiresAt:   time.Now().Add(store.ChallengeTTL),
	}); err != nil {
		return "", err
	}
	return token, nil
}

// consumeChallenge redeems a challenge token, enforcing the expected
// ceremony type. The record is gone afterwards no matter what.
func (s *Server) consumeChallenge(ctx context.Context, token string, ceremony store.CeremonyType) (*store.Challenge, *webauthn.SessionData, error) {
	challenge, err := s.challenges.Consume(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	if challenge.Type != ceremony {
		return nil, nil, store.ErrNotFound
	}
	var data webauthn.SessionData
	if err := json.Unmarshal(challenge.SessionData, &data); err != nil {
		return nil, nil, err
	}
	return challenge, &data, nil
}

type registerOptionsRequest struct {
	InviteToken string `json:"inviteToken"`
}

// handleRegisterOptions starts invite-gated registration. The invite is only
// peeked here; it stays redeemable until the ceremony completes.
func (s *Server) handleRegisterOptions(w http.ResponseWriter, r *http.Request) {
	var req registerOptionsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	invite, err := s.invites.Find(r.Context(), req.InviteToken)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !invite.Valid(time.Now())) {
		s.writeError(w, http.StatusBadRequest, "invalid or expired invitation")
		return
	}
	if err != nil {
		s.logger.Error("failed to load invite", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if _, err := s.users.Find(r.Context(), invite.Email); err == nil {
		s.writeError(w, http.StatusConflict, "user already registered")
		return
	}

	waUser := &webAuthnUser{email: invite.Email, name: invite.Name}
	options, sessionData, err := s.webauthn.BeginRegistration(waUser)
	if err != nil {
		s.logger.Error("failed to begin registration", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to start registration")
		return
	}

	token, err := s.saveChallenge(r.Context(), sessionData, invite.Email, store.CeremonyRegistration)
	if err != nil {
		s.logger.Error("failed to save challenge", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"options":        options,
		"challengeToken": token,
	})
}

type registerVerifyRequest struct {
	InviteToken    string          `json:"inviteToken"`
	ChallengeToken string          `json:"challengeToken"`
	Response       json.RawMessage `json:"response"`
}

// handleRegisterVerify completes registration. Order matters: the challenge
// is consumed first (it is gone even if later steps fail), the invite is
// consumed last, so a failed ceremony leaves the invitation usable.
func (s *Server) handleRegisterVerify(w http.ResponseWriter, r *http.Request) {
	var req registerVerifyRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	challenge, sessionData, err := s.consumeChallenge(r.Context(), req.ChallengeToken, store.CeremonyRegistration)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid or expired challenge")
		return
	}

	invite, err := s.invites.Find(r.Context(), req.InviteToken)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !invite.Valid(time.Now())) || (err == nil && invite.Email != challenge.Subject) {
		s.writeError(w, http.StatusBadRequest, "invalid or expired invitation")
		return
	}
	if err != nil {
		s.logger.Error("failed to load invite", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(req.Response))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid attestation response")
		return
	}

	waUser := &webAuthnUser{email: invite.Email, name: invite.Name}
	credential, err := s.webauthn.CreateCredential(waUser, *sessionData, parsed)
	if err != nil {
		s.logger.Warn("registration ceremony failed", "error", err)
		s.writeError(w, http.StatusBadRequest, "failed to verify credential")
		return
	}

	user, err := s.users.Create(r.Context(), invite.Email, invite.Name, "")
	if errors.Is(err, store.ErrConflict) {
		s.writeError(w, http.StatusConflict, "user already registered")
		return
	}
	if err != nil {
		s.logger.Error("failed to create user", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := s.saveCredential(r.Context(), user.Email, "", credential); err != nil {
		s.logger.Error("failed to save credential", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if _, err := s.invites.Consume(r.Context(), req.InviteToken); err != nil {
		// User and credential exist; the invite stays open. Log and carry on
		// rather than failing a registration that already took effect.
		s.logger.Error("failed to consume invite after registration", "error", err, "token", req.InviteToken)
	}

	if _, err := s.sessions.Update(r.Context(), w, r, func(sess *session.Session) {
		sess.Subject = user.Email
		sess.Name = user.Name
	}); err != nil {
		s.logger.Error("failed to create session", "error", err)
	}

	s.logger.Info("passkey registered", "subject", user.Email)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "email": user.Email})
}

type loginOptionsRequest struct {
	Email string `json:"email"`
}

// handleLoginOptions starts passkey login. With an email hint the options
// list that user's credentials; without one (or for an unknown email) the
// ceremony falls back to discoverable credentials, so the endpoint never
// reveals whether an account exists.
func (s *Server) handleLoginOptions(w http.ResponseWriter, r *http.Request) {
	var req loginOptionsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var (
		options     *protocol.CredentialAssertion
		sessionData *webauthn.SessionData
		subject     string
	)
	if req.Email != "" {
		user, err := s.users.Find(r.Context(), req.Email)
		if err == nil {
			creds, err := s.credentials.FindByUser(r.Context(), user.Email)
			if err == nil && len(creds) > 0 {
				waUser := &webAuthnUser{email: user.Email, name: user.Name, creds: creds}
				options, sessionData, err = s.webauthn.BeginLogin(waUser)
				if err != nil {
					s.logger.Error("failed to begin login", "error", err)
					s.writeError(w, http.StatusInternalServerError, "failed to start login")
					return
				}
				subject = user.Email
			}
		}
	}
	if options == nil {
		var err error
		options, sessionData, err = s.webauthn.BeginDiscoverableLogin()
		if err != nil {
			s.logger.Error("failed to begin discoverable login", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to start login")
			return
		}
	}

	token, err := s.saveChallenge(r.Context(), sessionData, subject, store.CeremonyAuthentication)
	if err != nil {
		s.logger.Error("failed to save challenge", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"options":        options,
		"challengeToken": token,
	})
}

type loginVerifyRequest struct {
	ChallengeToken string          `json:"challengeToken"`
	Response       json.RawMessage `json:"response"`
}

func (s *Server) handleLoginVerify(w http.ResponseWriter, r *http.Request) {
	var req loginVerifyRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	challenge, sessionData, err := s.consumeChallenge(r.Context(), req.ChallengeToken, store.CeremonyAuthentication)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid or expired challenge")
		return
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(req.Response))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid assertion response")
		return
	}

	credentialID := base64.RawURLEncoding.EncodeToString(parsed.RawID)
	storedCred, err := s.credentials.FindByID(r.Context(), credentialID)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusUnauthorized, "unknown credential")
		return
	}
	if err != nil {
		s.logger.Error("failed to load credential", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// A challenge issued for one user must not authenticate another, even
	// with a perfectly valid assertion.
	if challenge.Subject != "" && challenge.Subject != storedCred.UserEmail {
		s.writeError(w, http.StatusUnauthorized, "credential belongs to a different user")
		return
	}

	user, err := s.users.Find(r.Context(), storedCred.UserEmail)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "unknown credential")
		return
	}

	creds, err := s.credentials.FindByUser(r.Context(), user.Email)
	if err != nil {
		s.logger.Error("failed to load credentials", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	waUser := &webAuthnUser{email: user.Email, name: user.Name, creds: creds}

	var credential *webauthn.Credential
	if challenge.Subject != "" {
		credential, err = s.webauthn.ValidateLogin(waUser, *sessionData, parsed)
	} else {
		finder := func(rawID, userHandle []byte) (webauthn.User, error) {
			if len(userHandle) > 0 && string(userHandle) != user.Email {
				return nil, errors.New("user handle mismatch")
			}
			return waUser, nil
		}
		credential, err = s.webauthn.ValidateDiscoverableLogin(finder, *sessionData, parsed)
	}
	if err != nil {
		s.logger.Warn("login ceremony failed", "error", err)
		s.writeError(w, http.StatusUnauthorized, "authentication failed")
		return
	}

	if err := s.credentials.UpdateSignCount(r.Context(), credentialID, credential.Authenticator.SignCount); err != nil {
		s.logger.Warn("failed to update sign count", "error", err)
	}

	if _, err := s.sessions.Update(r.Context(), w, r, func(sess *session.Session) {
		sess.Subject = user.Email
		sess.Name = user.Name
	}); err != nil {
		s.logger.Error("failed to create session", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info("passkey login successful", "subject", user.Email)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "email": user.Email})
}

// credentialSummary is the client-facing view of a registered credential.
type credentialSummary struct {
	ID         string    `json:"id"`
	Name       string    `json:"name,omitempty"`
	Transports []string  `json:"transports,omitempty"`
	BackedUp   bool      `json:"backedUp"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (s *Server) handleCredentialsList(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), r)
	if err != nil || !sess.Authenticated() {
		s.writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	creds, err := s.credentials.FindByUser(r.Context(), sess.Subject)
	if err != nil {
		s.logger.Error("failed to load credentials", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]credentialSummary, 0, len(creds))
	for _, c := range creds {
		out = append(out, credentialSummary{
			ID:         c.CredentialID,
			Name:       c.Name,
			Transports: c.Transports,
			BackedUp:   c.BackedUp,
			CreatedAt:  c.CreatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"credentials": out})
}

func (s *Server) handleCredentialDelete(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), r)
	if err != nil || !sess.Authenticated() {
		s.writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	credentialID := r.PathValue("id")
	cred, err := s.credentials.FindByID(r.Context(), credentialID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && cred.UserEmail != sess.Subject) {
		s.writeError(w, http.StatusNotFound, "credential not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to load credential", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// Deleting the last passkey of a password-less account would lock the
	// user out permanently.
	creds, err := s.credentials.FindByUser(r.Context(), sess.Subject)
	if err != nil {
		s.logger.Error("failed to load credentials", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if len(creds) <= 1 {
		user, err := s.users.Find(r.Context(), sess.Subject)
		if err != nil || user.PasswordHash == "" {
			s.writeError(w, http.StatusConflict, "cannot remove the last credential")
			return
		}
	}

	if err := s.credentials.Delete(r.Context(), credentialID); err != nil {
		s.logger.Error("failed to delete credential", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info("credential removed", "subject", sess.Subject, "credential_id", credentialID)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCredentialAddOptions starts adding a passkey to an existing account.
// Registered credentials are excluded so the authenticator refuses to
// re-register itself.
func (s *Server) handleCredentialAddOptions(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), r)
	if err != nil || !sess.Authenticated() {
		s.writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	creds, err := s.credentials.FindByUser(r.Context(), sess.Subject)
	if err != nil {
		s.logger.Error("failed to load credentials", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	waUser := &webAuthnUser{email: sess.Subject, name: sess.Name, creds: creds}

	exclusions := make([]protocol.CredentialDescriptor, 0, len(creds))
	for _, c := range waUser.WebAuthnCredentials() {
		exclusions = append(exclusions, c.Descriptor())
	}

	options, sessionData, err := s.webauthn.BeginRegistration(waUser, webauthn.WithExclusions(exclusions))
	if err != nil {
		s.logger.Error("failed to begin registration", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to start registration")
		return
	}

	token, err := s.saveChallenge(r.Context(), sessionData, sess.Subject, store.CeremonyRegistration)
	if err != nil {
		s.logger.Error("failed to save challenge", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"options":        options,
		"challengeToken": token,
	})
}

type credentialAddVerifyRequest struct {
	ChallengeToken string          `json:"challengeToken"`
	Name           string          `json:"name"`
	Response       json.RawMessage `json:"response"`
}

func (s *Server) handleCredentialAddVerify(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), r)
	if err != nil || !sess.Authenticated() {
		s.writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req credentialAddVerifyRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	challenge, sessionData, err := s.consumeChallenge(r.Context(), req.ChallengeToken, store.CeremonyRegistration)
	if err != nil || challenge.Subject != sess.Subject {
		s.writeError(w, http.StatusBadRequest, "invalid or expired challenge")
		return
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(req.Response))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid attestation response")
		return
	}

	creds, err := s.credentials.FindByUser(r.Context(), sess.Subject)
	if err != nil {
		s.logger.Error("failed to load credentials", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	waUser := &webAuthnUser{email: sess.Subject, name: sess.Name, creds: creds}

	credential, err := s.webauthn.CreateCredential(waUser, *sessionData, parsed)
	if err != nil {
		s.logger.Warn("registration ceremony failed", "error", err)
		s.writeError(w, http.StatusBadRequest, "failed to verify credential")
		return
	}

	if err := s.saveCredential(r.Context(), sess.Subject, req.Name, credential); err != nil {
		s.logger.Error("failed to save credential", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info("credential added", "subject", sess.Subject)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// saveCredential converts a verified webauthn credential into a stored record.
func (s *Server) saveCredential(ctx context.Context, email, name string, cred *webauthn.Credential) error {
	transports := make([]string, 0, len(cred.Transport))
	for _, t := range cred.Transport {
		transports = append(transports, string(t))
	}
	return s.credentials.Save(ctx, &store.Credential{
		CredentialID:    base64.RawURLEncoding.EncodeToString(cred.ID),
		UserEmail:       email,
		Name:            name,
		PublicKey:       cred.PublicKey,
		AttestationType: cred.AttestationType,
		Transports:      transports,
		BackedUp:        cred.Flags.BackupState,
		SignCount:       cred.Authenticator.SignCount,
		CreatedAt:       time.Now(),
	})
}
