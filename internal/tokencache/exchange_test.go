package tokencache_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/idvrelay/idvrelay/internal/tokencache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientCredentials_RequestShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/auth/v2/token", r.URL.Path)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))

		want := "Basic " + base64.StdEncoding.EncodeToString([]byte("client-id:client-secret"))
		assert.Equal(t, want, r.Header.Get("Authorization"))

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok1",
			"expires_in":   3600,
			"token_type":   "Bearer",
		})
	}))
	defer srv.Close()

	cc := tokencache.NewClientCredentials(tokencache.ClientCredentialsConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TokenURL:     srv.URL + "/auth/v2/token",
	})

	grant, err := cc.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok1", grant.AccessToken)
	assert.Equal(t, "Bearer", grant.TokenType)
	assert.Equal(t, time.Hour, grant.ExpiresIn)
}

func TestClientCredentials_ExpiresInAsString(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"tok1","expires_in":"600"}`))
	}))
	defer srv.Close()

	cc := tokencache.NewClientCredentials(tokencache.ClientCredentialsConfig{TokenURL: srv.URL})
	grant, err := cc.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, grant.ExpiresIn)
}

func TestClientCredentials_JWTExpiryFallback(t *testing.T) {
	exp := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "client-id",
		"exp": exp.Unix(),
	}).SignedString([]byte("provider-key"))
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": signed, "token_type": "Bearer"})
	}))
	defer srv.Close()

	cc := tokencache.NewClientCredentials(tokencache.ClientCredentialsConfig{TokenURL: srv.URL})
	grant, err := cc.Fetch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, grant.ExpiresIn)
	assert.True(t, exp.Equal(grant.Expiry), "expected %s, got %s", exp, grant.Expiry)
}

func TestClientCredentials_Failures(t *testing.T) {
	cases := []struct {
		name       string
		status     int
		body       string
		wantStatus int
		wantBody   string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":"invalid_client"}`, 401, `{"error":"invalid_client"}`},
		{"server error", http.StatusBadGateway, "upstream down", 502, "upstream down"},
		{"malformed json", http.StatusOK, "{", 200, ""},
		{"missing access_token", http.StatusOK, `{"expires_in":3600}`, 200, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			cc := tokencache.NewClientCredentials(tokencache.ClientCredentialsConfig{TokenURL: srv.URL})
			_, err := cc.Fetch(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tokencache.ErrAuthBroker)

			var brokerErr *tokencache.AuthBrokerError
			require.True(t, errors.As(err, &brokerErr))
			assert.Equal(t, tc.wantStatus, brokerErr.StatusCode)
			assert.Equal(t, tc.wantBody, brokerErr.Body)
		})
	}
}

func TestClientCredentials_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	cc := tokencache.NewClientCredentials(tokencache.ClientCredentialsConfig{TokenURL: url})
	_, err := cc.Fetch(context.Background())
	require.Error(t, err)

	var brokerErr *tokencache.AuthBrokerError
	require.True(t, errors.As(err, &brokerErr))
	assert.Zero(t, brokerErr.StatusCode)
}

// The end-to-end scenario: tok1 for 3600s is served from cache until the
// safety margin is reached, then a second exchange happens.
func TestCache_WithClientCredentialsScenario(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		token := "tok1"
		if n > 1 {
			token = "tok2"
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": token, "expires_in": 3600})
	}))
	defer srv.Close()

	clock := newFakeClock()
	cache := tokencache.New(
		tokencache.NewClientCredentials(tokencache.ClientCredentialsConfig{
			ClientID:     "id",
			ClientSecret: "secret",
			TokenURL:     srv.URL,
		}),
		tokencache.WithClock(clock.Now),
		tokencache.WithSafetyMargin(60*time.Second),
	)

	tok, err := cache.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok1", tok)

	tok, err = cache.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok1", tok)
	assert.Equal(t, int32(1), calls.Load())

	clock.Advance((3600 - 60 + 1) * time.Second)
	tok, err = cache.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok2", tok)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCache_TimeoutAgainstSlowEndpoint(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	cache := tokencache.New(
		tokencache.NewClientCredentials(tokencache.ClientCredentialsConfig{TokenURL: srv.URL}),
		tokencache.WithTimeout(50*time.Millisecond),
	)

	_, err := cache.Token(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, tokencache.ErrAuthBroker)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
