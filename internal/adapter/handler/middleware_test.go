package handler

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func authedRequest(t *testing.T, env *testEnv, path, header string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, env.server.URL+path, nil)
	require.NoError(t, err)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestAuthenticator_StaticToken(t *testing.T) {
	env := newTestEnv(t, NewAuthenticator("s3cret", "", nil, HealthPath))

	cases := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"missing token", "/api/feeds", "", http.StatusUnauthorized},
		{"wrong token", "/api/feeds", "Bearer nope", http.StatusUnauthorized},
		{"not bearer", "/api/feeds", "Basic s3cret", http.StatusUnauthorized},
		{"valid token", "/api/feeds", "Bearer s3cret", http.StatusOK},
		{"health is exempt", "/api/health", "", http.StatusOK},
		{"query token", "/api/stats?access_token=s3cret", "", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := authedRequest(t, env, tc.path, tc.header)
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestAuthenticator_JWT(t *testing.T) {
	auth := NewAuthenticator("", "jwt-signing-secret", nil, HealthPath)
	env := newTestEnv(t, auth)

	token, err := auth.IssueToken("analyst", time.Hour)
	require.NoError(t, err)
	resp := authedRequest(t, env, "/api/feeds", "Bearer "+token)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	expired, err := auth.IssueToken("analyst", -time.Minute)
	require.NoError(t, err)
	resp = authedRequest(t, env, "/api/feeds", "Bearer "+expired)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	other := NewAuthenticator("", "another-secret", nil)
	forged, err := other.IssueToken("analyst", time.Hour)
	require.NoError(t, err)
	resp = authedRequest(t, env, "/api/feeds", "Bearer "+forged)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuthenticator_Disabled(t *testing.T) {
	auth := NewAuthenticator("", "", nil)
	assert.False(t, auth.Enabled())

	_, err := auth.IssueToken("x", time.Minute)
	assert.Error(t, err)

	env := newTestEnv(t, auth)
	resp := authedRequest(t, env, "/api/feeds", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, NewAuthenticator("s3cret", "", nil))

	req, err := http.NewRequest(http.MethodOptions, env.server.URL+"/api/feeds", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Less(t, resp.StatusCode, 300)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	_ = authedRequest(t, env, "/api/stats", "")
	resp := authedRequest(t, env, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
