// ABOUTME: Shared test fixtures for the gateway HTTP surface
// ABOUTME: Builds a full server over the in-memory backend with a known config

package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openape/idp-gateway/internal/config"
	"github.com/openape/idp-gateway/internal/kv"
	"github.com/openape/idp-gateway/internal/session"
)

const (
	testIssuer     = "https://idp.example.com"
	testAdminEmail = "admin@example.com"
	testMgmtToken  = "test-management-token"
)

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	return newTestServerWith(t, kv.NewMemory())
}

// newTestServerWith builds a server over an arbitrary backend, letting tests
// inject failing storage.
func newTestServerWith(t *testing.T, backing kv.Store) (*Server, http.Handler) {
	t.Helper()

	cfg := &config.Config{
		Issuer: testIssuer,
		Server: config.ServerConfig{HTTPAddr: ":0"},
		Storage: config.StorageConfig{
			Driver: "memory",
		},
		WebAuthn: config.WebAuthnConfig{
			RPDisplayName: "Test IdP",
			RPID:          "idp.example.com",
			RPOrigins:     []string{testIssuer},
		},
		Auth: config.AuthConfig{
			SessionSecret:   "test-secret",
			ManagementToken: testMgmtToken,
			AdminEmails:     []string{testAdminEmail},
		},
	}

	server, err := New(cfg, backing)
	require.NoError(t, err)

	mux := http.NewServeMux()
	server.RegisterRoutes(mux)
	return server, mux
}

// postJSON performs a JSON POST and returns the recorder.
func postJSON(t *testing.T, handler http.Handler, path string, body any, cookies []*http.Cookie, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// doRequest performs a bodyless request and returns the recorder.
func doRequest(t *testing.T, handler http.Handler, method, path string, cookies []*http.Cookie, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// decodeBody unmarshals a JSON response body.
func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

// sessionCookies extracts still-valid cookies from a response.
func sessionCookies(rec *httptest.ResponseRecorder) []*http.Cookie {
	var out []*http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge >= 0 && c.Value != "" {
			out = append(out, c)
		}
	}
	return out
}

// loginAs creates a password user and logs them in, returning the session
// cookies for follow-up requests.
func loginAs(t *testing.T, server *Server, handler http.Handler, email, name string) []*http.Cookie {
	t.Helper()
	_, err := server.users.Create(context.Background(), email, name, "correct horse battery staple")
	require.NoError(t, err)

	rec := postJSON(t, handler, "/api/login", map[string]string{
		"email":    email,
		"password": "correct horse battery staple",
	}, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return sessionCookies(rec)
}

// newSessionFor mints a session directly, for users who have no password to
// log in with.
func newSessionFor(t *testing.T, server *Server, email, name string) []*http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := server.sessions.Update(context.Background(), rec, req, func(s *session.Session) {
		s.Subject = email
		s.Name = name
	})
	require.NoError(t, err)
	return sessionCookies(rec)
}

func mgmtHeaders() map[string]string {
	return map[string]string{"Authorization": "Bearer " + testMgmtToken}
}
