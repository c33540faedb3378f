// ABOUTME: Agent token issuance via signed possession proofs
// ABOUTME: Agents sign a single-use challenge with their registered ssh-ed25519 key

package idp

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/openape/idp-gateway/internal/auth"
	"github.com/openape/idp-gateway/internal/store"
)

type agentChallengeRequest struct {
	AgentID string `json:"agentId"`
}

// handleAgentChallenge hands an active agent a fresh challenge to sign. The
// challenge token doubles as the message; it is consumed at redemption.
func (s *Server) handleAgentChallenge(w http.ResponseWriter, r *http.Request) {
	var req agentChallengeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	agent, err := s.agents.Find(r.Context(), req.AgentID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !agent.Active) {
		s.writeError(w, http.StatusUnauthorized, "unknown agent")
		return
	}
	if err != nil {
		s.logger.Error("failed to load agent", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	token, err := generateToken(32)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := s.challenges.Save(r.Context(), token, &store.Challenge{
		SessionData: json.RawMessage(`{}`),
		Subject:     agent.ID,
		Type:        store.CeremonyAgentProof,
		ExpiresAt:   time.Now().Add(store.ChallengeTTL),
	}); err != nil {
		s.logger.Error("failed to save challenge", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"challenge": token,
		"expiresIn": int(store.ChallengeTTL.Seconds()),
	})
}

type agentTokenRequest struct {
	AgentID   string `json:"agentId"`
	Challenge string `json:"challenge"`
	Signature string `json:"signature"` // base64, SSH wire format
}

// handleAgentToken redeems a signed challenge for a short-lived agent token.
// Every failure answers 401 without distinguishing unknown agents, replayed
// challenges, and bad signatures.
func (s *Server) handleAgentToken(w http.ResponseWriter, r *http.Request) {
	var req agentTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	challenge, err := s.challenges.Consume(r.Context(), req.Challenge)
	if err != nil || challenge.Type != store.CeremonyAgentProof || challenge.Subject != req.AgentID {
		s.writeError(w, http.StatusUnauthorized, "invalid challenge")
		return
	}

	agent, err := s.agents.Find(r.Context(), req.AgentID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !agent.Active) {
		s.writeError(w, http.StatusUnauthorized, "invalid challenge")
		return
	}
	if err != nil {
		s.logger.Error("failed to load agent", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := auth.VerifyAgentSignature(agent.PublicKey, []byte(req.Challenge), req.Signature); err != nil {
		s.logger.Warn("agent signature verification failed", "agent_id", agent.ID, "error", err)
		s.writeError(w, http.StatusUnauthorized, "invalid challenge")
		return
	}

	signing, err := s.keys.SigningKey(r.Context())
	if err != nil {
		s.logger.Error("failed to load signing key", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	signed, err := auth.IssueAgentToken(agent.ID, s.cfg.Issuer, signing.Private, signing.Kid)
	if err != nil {
		s.logger.Error("failed to sign agent token", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info("agent token issued", "agent_id", agent.ID)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"token":     signed,
		"tokenType": "Bearer",
		"expiresIn": int(auth.AgentTokenTTL.Seconds()),
	})
}

func (s *Server) handleAgentWhoami(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"subject": auth.AgentFromContext(r.Context()),
	})
}
