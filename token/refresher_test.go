package token

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goliatone/go-leadsync/core"
	"github.com/goliatone/go-leadsync/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTokenServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *OAuthRefresher {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(server.Close)
	return NewOAuthRefresher(core.CRMConfig{
		BaseURL:      server.URL,
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "https://app.example/oauth/callback",
	}, server.Client())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestOAuthRefresher_RefreshPostsFormAndRotates(t *testing.T) {
	refresher := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/oauth/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "r1", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "client", r.PostForm.Get("client_id"))
		assert.Equal(t, "secret", r.PostForm.Get("client_secret"))
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "a2",
			"refresh_token": "r2",
			"token_type":    "Bearer",
			"expires_in":    86399,
		})
	})

	before := time.Now()
	cred, err := refresher.Refresh(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "a2", cred.AccessToken)
	assert.Equal(t, "r2", cred.RefreshToken)
	assert.True(t, cred.ExpiresAt.After(before.Add(23*time.Hour)))
}

func TestOAuthRefresher_RejectedGrantIsAuthError(t *testing.T) {
	refresher := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":             "invalid_grant",
			"error_description": "refresh token revoked",
		})
	})

	_, err := refresher.Refresh(context.Background(), "revoked")
	require.Error(t, err)
	assert.True(t, core.IsAuthError(err))
}

func TestOAuthRefresher_ServerFailureIsUpstreamError(t *testing.T) {
	refresher := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": "server_error"})
	})

	_, err := refresher.Refresh(context.Background(), "r1")
	require.Error(t, err)
	assert.True(t, core.IsUpstreamFetchError(err))
	assert.False(t, core.IsAuthError(err))
}

func TestOAuthRefresher_EmptyRefreshTokenNeedsReconnect(t *testing.T) {
	refresher := NewOAuthRefresher(core.CRMConfig{}, nil)
	_, err := refresher.Refresh(context.Background(), "")
	assert.True(t, core.IsAuthError(err))
}

func TestOAuthRefresher_ExchangeReturnsLocation(t *testing.T) {
	refresher := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "code-1", r.PostForm.Get("code"))
		assert.Equal(t, "Location", r.PostForm.Get("user_type"))
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "a1",
			"refresh_token": "r1",
			"expires_in":    3600,
			"locationId":    "loc_9",
		})
	})

	grant, err := refresher.Exchange(context.Background(), "code-1")
	require.NoError(t, err)
	assert.Equal(t, "loc_9", grant.LocationID)
	assert.Equal(t, "r1", grant.Credential.RefreshToken)
}

func TestManager_ConnectStoresExchangedGrant(t *testing.T) {
	refresher := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "a1",
			"refresh_token": "r1",
			"expires_in":    3600,
			"locationId":    "loc_9",
		})
	})
	store := credentials.NewMemoryStore()
	manager := NewManager(store, nil, refresher)

	grant, err := manager.Connect(context.Background(), "code-1")
	require.NoError(t, err)
	assert.Equal(t, "loc_9", grant.LocationID)

	stored, err := store.Get(context.Background(), "loc_9")
	require.NoError(t, err)
	assert.Equal(t, "a1", stored.AccessToken)
}
