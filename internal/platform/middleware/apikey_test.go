package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/idvrelay/idvrelay/internal/platform/middleware"
	"github.com/stretchr/testify/assert"
)

func TestAPIKey(t *testing.T) {
	var marked bool
	handler := middleware.APIKey([]string{"key-a", " ", "key-b"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			marked = middleware.HasAPIKey(r.Context())
			w.WriteHeader(http.StatusOK)
		}),
	)

	cases := []struct {
		name       string
		key        string
		wantStatus int
		wantMarked bool
	}{
		{"no header passes unmarked", "", http.StatusOK, false},
		{"first key", "key-a", http.StatusOK, true},
		{"second key", "key-b", http.StatusOK, true},
		{"unknown key", "key-c", http.StatusUnauthorized, false},
		{"blank configured key never matches", " ", http.StatusUnauthorized, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			marked = false
			req := httptest.NewRequest(http.MethodGet, "/v1/events", nil)
			if tc.key != "" {
				req.Header.Set(middleware.APIKeyHeader, tc.key)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tc.wantStatus, rec.Code)
			assert.Equal(t, tc.wantMarked, marked)
		})
	}
}

func TestAPIKey_NoKeysConfigured(t *testing.T) {
	handler := middleware.APIKey(nil)(middleware.RequireAPIKey(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("handler must not run without configured keys")
		}),
	))

	req := httptest.NewRequest(http.MethodGet, "/v1/events", nil)
	req.Header.Set(middleware.APIKeyHeader, "anything")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"invalid api key"}`, rec.Body.String())
}

func TestRequireAPIKey(t *testing.T) {
	handler := middleware.APIKey([]string{"key-a"})(middleware.RequireAPIKey(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}),
	))

	req := httptest.NewRequest(http.MethodGet, "/v1/events", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"missing api key"}`, rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/v1/events", nil)
	req.Header.Set(middleware.APIKeyHeader, "key-a")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
