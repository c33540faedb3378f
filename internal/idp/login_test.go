// ABOUTME: Tests for password login, logout, and the current-user endpoint
// ABOUTME: Unknown email and wrong password must be indistinguishable

package idp

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginLogoutMe(t *testing.T) {
	server, handler := newTestServer(t)
	cookies := loginAs(t, server, handler, "alice@example.com", "Alice")

	rec := doRequest(t, handler, http.MethodGet, "/api/me", cookies, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var me map[string]string
	decodeBody(t, rec, &me)
	assert.Equal(t, "alice@example.com", me["email"])
	assert.Equal(t, "Alice", me["name"])

	rec = postJSON(t, handler, "/api/logout", nil, cookies, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, handler, http.MethodGet, "/api/me", cookies, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogin_UniformFailures(t *testing.T) {
	server, handler := newTestServer(t)
	_, err := server.users.Create(context.Background(), "alice@example.com", "Alice", "correct password")
	require.NoError(t, err)

	wrongPassword := postJSON(t, handler, "/api/login", map[string]string{
		"email": "alice@example.com", "password": "wrong password",
	}, nil, nil)
	unknownUser := postJSON(t, handler, "/api/login", map[string]string{
		"email": "nobody@example.com", "password": "wrong password",
	}, nil, nil)

	assert.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	assert.Equal(t, http.StatusUnauthorized, unknownUser.Code)
	assert.JSONEq(t, wrongPassword.Body.String(), unknownUser.Body.String())
}

func TestLogin_MissingFields(t *testing.T) {
	_, handler := newTestServer(t)
	rec := postJSON(t, handler, "/api/login", map[string]string{"email": "alice@example.com"}, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMe_WithoutSession(t *testing.T) {
	_, handler := newTestServer(t)
	rec := doRequest(t, handler, http.MethodGet, "/api/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealth(t *testing.T) {
	_, handler := newTestServer(t)
	rec := doRequest(t, handler, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
