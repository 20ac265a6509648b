package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupabaseSignInWithPassword(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/token", r.URL.Path)
		assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ana@portal.co", body["email"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at","refresh_token":"rt","expires_in":3600,"user":{"id":"u-1","email":"ana@portal.co"}}`))
	}))
	defer srv.Close()

	client, err := NewSupabaseClient(SupabaseConfig{URL: srv.URL + "/", AnonKey: "anon-key"})
	require.NoError(t, err)

	tok, err := client.SignInWithPassword(context.Background(), "ana@portal.co", "secret")
	require.NoError(t, err)
	assert.Equal(t, "at", tok.AccessToken)
	assert.Equal(t, "u-1", tok.User.ID)
}

func TestSupabaseInvalidCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":400,"error_code":"invalid_credentials","msg":"Invalid login credentials"}`))
	}))
	defer srv.Close()

	client, err := NewSupabaseClient(SupabaseConfig{URL: srv.URL, AnonKey: "anon-key"})
	require.NoError(t, err)

	_, err = client.SignInWithPassword(context.Background(), "ana@portal.co", "wrong")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidCredentials))
	assert.Contains(t, err.Error(), "Invalid login credentials")
}

func TestSupabaseServerErrorIsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"unavailable","error_description":"try later"}`))
	}))
	defer srv.Close()

	client, err := NewSupabaseClient(SupabaseConfig{URL: srv.URL, AnonKey: "anon-key"})
	require.NoError(t, err)

	err = client.SignOut(context.Background(), "at")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, "unavailable", apiErr.Code)
	assert.False(t, errors.Is(err, ErrInvalidCredentials))
}

func TestSupabaseSignOutAndGetUserSendBearer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer at", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/auth/v1/logout":
			w.WriteHeader(http.StatusNoContent)
		case "/auth/v1/user":
			_, _ = w.Write([]byte(`{"id":"u-1","email":"ana@portal.co","role":"authenticated"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client, err := NewSupabaseClient(SupabaseConfig{URL: srv.URL, AnonKey: "anon-key"})
	require.NoError(t, err)

	require.NoError(t, client.SignOut(context.Background(), "at"))
	user, err := client.GetUser(context.Background(), "at")
	require.NoError(t, err)
	assert.Equal(t, "authenticated", user.Role)
}

func TestNewSupabaseClientValidates(t *testing.T) {
	_, err := NewSupabaseClient(SupabaseConfig{AnonKey: "k"})
	assert.Error(t, err)
	_, err = NewSupabaseClient(SupabaseConfig{URL: "https://x.supabase.co"})
	assert.Error(t, err)
}
