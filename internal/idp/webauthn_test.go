// ABOUTME: Tests for passkey ceremony endpoints without a real authenticator
// ABOUTME: Covers invite gating, challenge single-use, and credential management guards

package idp

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openape/idp-gateway/internal/store"
)

// createInvite stores an invitation directly and returns its token.
func createInvite(t *testing.T, server *Server, email string, ttl time.Duration) string {
	t.Helper()
	token, err := generateToken(24)
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, server.invites.Save(context.Background(), &store.Invite{
		Token:     token,
		Email:     email,
		Name:      "Test User",
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		CreatedBy: testAdminEmail,
	}))
	return token
}

func TestRegisterOptions_InviteGating(t *testing.T) {
	server, handler := newTestServer(t)

	t.Run("unknown invite", func(t *testing.T) {
		rec := postJSON(t, handler, "/api/webauthn/register/options", map[string]string{
			"inviteToken": "never-issued",
		}, nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("expired invite", func(t *testing.T) {
		token := createInvite(t, server, "late@example.com", -time.Minute)
		rec := postJSON(t, handler, "/api/webauthn/register/options", map[string]string{
			"inviteToken": token,
		}, nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("consumed invite", func(t *testing.T) {
		token := createInvite(t, server, "used@example.com", time.Hour)
		_, err := server.invites.Consume(context.Background(), token)
		require.NoError(t, err)

		rec := postJSON(t, handler, "/api/webauthn/register/options", map[string]string{
			"inviteToken": token,
		}, nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("valid invite yields options and challenge", func(t *testing.T) {
		token := createInvite(t, server, "fresh@example.com", time.Hour)
		rec := postJSON(t, handler, "/api/webauthn/register/options", map[string]string{
			"inviteToken": token,
		}, nil, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp struct {
			ChallengeToken string         `json:"challengeToken"`
			Options        map[string]any `json:"options"`
		}
		decodeBody(t, rec, &resp)
		assert.NotEmpty(t, resp.ChallengeToken)
		assert.Contains(t, resp.Options, "publicKey")

		// Options only peek: the invite is still redeemable.
		invite, err := server.invites.Find(context.Background(), token)
		require.NoError(t, err)
		assert.True(t, invite.Valid(time.Now()))
	})

	t.Run("already-registered email", func(t *testing.T) {
		_, err := server.users.Create(context.Background(), "taken@example.com", "Taken", "")
		require.NoError(t, err)
		token := createInvite(t, server, "taken@example.com", time.Hour)

		rec := postJSON(t, handler, "/api/webauthn/register/options", map[string]string{
			"inviteToken": token,
		}, nil, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestRegisterVerify_ChallengeConsumedEvenOnFailure(t *testing.T) {
	server, handler := newTestServer(t)
	inviteToken := createInvite(t, server, "fresh@example.com", time.Hour)

	rec := postJSON(t, handler, "/api/webauthn/register/options", map[string]string{
		"inviteToken": inviteToken,
	}, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var opts struct {
		ChallengeToken string `json:"challengeToken"`
	}
	decodeBody(t, rec, &opts)

	// Garbage attestation fails the ceremony but still consumes the
	// challenge; the invite survives for a retry.
	rec = postJSON(t, handler, "/api/webauthn/register/verify", map[string]any{
		"inviteToken":    inviteToken,
		"challengeToken": opts.ChallengeToken,
		"response":       map[string]string{"id": "nonsense"},
	}, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	_, err := server.challenges.Find(context.Background(), opts.ChallengeToken)
	assert.ErrorIs(t, err, store.ErrNotFound)

	invite, err := server.invites.Find(context.Background(), inviteToken)
	require.NoError(t, err)
	assert.True(t, invite.Valid(time.Now()), "failed ceremony must leave the invite usable")

	// The consumed challenge cannot be replayed.
	rec = postJSON(t, handler, "/api/webauthn/register/verify", map[string]any{
		"inviteToken":    inviteToken,
		"challengeToken": opts.ChallengeToken,
		"response":       map[string]string{"id": "nonsense"},
	}, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginOptions_NoAccountEnumeration(t *testing.T) {
	server, handler := newTestServer(t)
	_, err := server.users.Create(context.Background(), "alice@example.com", "Alice", "")
	require.NoError(t, err)

	known := postJSON(t, handler, "/api/webauthn/login/options", map[string]string{
		"email": "alice@example.com",
	}, nil, nil)
	unknown := postJSON(t, handler, "/api/webauthn/login/options", map[string]string{
		"email": "nobody@example.com",
	}, nil, nil)
	blank := postJSON(t, handler, "/api/webauthn/login/options", map[string]string{}, nil, nil)

	// All shapes answer 200 with options; the endpoint does not reveal
	// whether the account exists.
	assert.Equal(t, http.StatusOK, known.Code)
	assert.Equal(t, http.StatusOK, unknown.Code)
	assert.Equal(t, http.StatusOK, blank.Code)
}

func TestLoginVerify_UnknownChallenge(t *testing.T) {
	_, handler := newTestServer(t)
	rec := postJSON(t, handler, "/api/webauthn/login/verify", map[string]any{
		"challengeToken": "never-issued",
		"response":       map[string]string{"id": "nonsense"},
	}, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginVerify_ExpiredChallengeConsumed(t *testing.T) {
	server, handler := newTestServer(t)

	// Plant an already-expired authentication challenge.
	token, err := generateToken(32)
	require.NoError(t, err)
	require.NoError(t, server.challenges.Save(context.Background(), token, &store.Challenge{
		SessionData: []byte(`{}`),
		Type:        store.CeremonyAuthentication,
		ExpiresAt:   time.Now().Add(-time.Minute),
	}))

	rec := postJSON(t, handler, "/api/webauthn/login/verify", map[string]any{
		"challengeToken": token,
		"response":       map[string]string{"id": "nonsense"},
	}, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Consume deletes even expired records.
	_, err = server.challenges.Find(context.Background(), token)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCredentialEndpoints_RequireSession(t *testing.T) {
	_, handler := newTestServer(t)

	assert.Equal(t, http.StatusUnauthorized,
		doRequest(t, handler, http.MethodGet, "/api/webauthn/credentials", nil, nil).Code)
	assert.Equal(t, http.StatusUnauthorized,
		doRequest(t, handler, http.MethodDelete, "/api/webauthn/credentials/some-id", nil, nil).Code)
	assert.Equal(t, http.StatusUnauthorized,
		postJSON(t, handler, "/api/webauthn/credentials/add/options", nil, nil, nil).Code)
	assert.Equal(t, http.StatusUnauthorized,
		postJSON(t, handler, "/api/webauthn/credentials/add/verify", nil, nil, nil).Code)
}

func TestCredentialsListAndDelete(t *testing.T) {
	server, handler := newTestServer(t)
	cookies := loginAs(t, server, handler, "alice@example.com", "Alice")
	ctx := context.Background()

	require.NoError(t, server.credentials.Save(ctx, &store.Credential{
		CredentialID: "cred-one",
		UserEmail:    "alice@example.com",
		Name:         "laptop",
		PublicKey:    []byte{1, 2, 3},
		CreatedAt:    time.Now(),
	}))
	require.NoError(t, server.credentials.Save(ctx, &store.Credential{
		CredentialID: "cred-two",
		UserEmail:    "alice@example.com",
		Name:         "phone",
		PublicKey:    []byte{4, 5, 6},
		CreatedAt:    time.Now(),
	}))

	rec := doRequest(t, handler, http.MethodGet, "/api/webauthn/credentials", cookies, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Credentials []credentialSummary `json:"credentials"`
	}
	decodeBody(t, rec, &list)
	assert.Len(t, list.Credentials, 2)

	rec = doRequest(t, handler, http.MethodDelete, "/api/webauthn/credentials/cred-one", cookies, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, handler, http.MethodGet, "/api/webauthn/credentials", cookies, nil)
	decodeBody(t, rec, &list)
	assert.Len(t, list.Credentials, 1)
}

func TestCredentialDelete_Guards(t *testing.T) {
	server, handler := newTestServer(t)
	ctx := context.Background()

	t.Run("cannot delete another user's credential", func(t *testing.T) {
		cookies := loginAs(t, server, handler, "alice@example.com", "Alice")
		require.NoError(t, server.credentials.Save(ctx, &store.Credential{
			CredentialID: "bobs-cred",
			UserEmail:    "bob@example.com",
			PublicKey:    []byte{1},
			CreatedAt:    time.Now(),
		}))

		rec := doRequest(t, handler, http.MethodDelete, "/api/webauthn/credentials/bobs-cred", cookies, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("last credential of passkey-only account", func(t *testing.T) {
		// Passkey-only user, no password fallback.
		_, err := server.users.Create(ctx, "carol@example.com", "Carol", "")
		require.NoError(t, err)
		require.NoError(t, server.credentials.Save(ctx, &store.Credential{
			CredentialID: "carols-only-cred",
			UserEmail:    "carol@example.com",
			PublicKey:    []byte{1},
			CreatedAt:    time.Now(),
		}))

		cookies := newSessionFor(t, server, "carol@example.com", "Carol")
		del := doRequest(t, handler, http.MethodDelete, "/api/webauthn/credentials/carols-only-cred", cookies, nil)
		assert.Equal(t, http.StatusConflict, del.Code)
	})

	t.Run("last credential with password fallback", func(t *testing.T) {
		cookies := loginAs(t, server, handler, "dave@example.com", "Dave")
		require.NoError(t, server.credentials.Save(ctx, &store.Credential{
			CredentialID: "daves-only-cred",
			UserEmail:    "dave@example.com",
			PublicKey:    []byte{1},
			CreatedAt:    time.Now(),
		}))

		rec := doRequest(t, handler, http.MethodDelete, "/api/webauthn/credentials/daves-only-cred", cookies, nil)
		assert.Equal(t, http.StatusOK, rec.Code, "password users may drop their last passkey")
	})
}

func TestCredentialAddOptions(t *testing.T) {
	server, handler := newTestServer(t)
	cookies := loginAs(t, server, handler, "alice@example.com", "Alice")

	rec := postJSON(t, handler, "/api/webauthn/credentials/add/options", nil, cookies, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		ChallengeToken string `json:"challengeToken"`
	}
	decodeBody(t, rec, &resp)
	require.NotEmpty(t, resp.ChallengeToken)

	challenge, err := server.challenges.Find(context.Background(), resp.ChallengeToken)
	require.NoError(t, err)
	assert.Equal(t, store.CeremonyRegistration, challenge.Type)
	assert.Equal(t, "alice@example.com", challenge.Subject)
}
