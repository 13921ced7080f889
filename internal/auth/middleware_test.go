package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentilytics/sentilytics/internal/ledger"
)

type stubResolver struct {
	keys map[string]string
	err  error
}

func (s *stubResolver) ResolveKey(_ context.Context, key string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if uid, ok := s.keys[key]; ok {
		return uid, nil
	}
	return "", ledger.ErrNotFound
}

func serve(t *testing.T, mw func(http.Handler) http.Handler, setup func(r *http.Request)) (*httptest.ResponseRecorder, *Identity) {
	t.Helper()
	var got *Identity
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetIdentity(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/quota", nil)
	setup(req)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, got
}

func TestMiddleware(t *testing.T) {
	mgr := NewJWTManager("access-secret-32-chars-long!!!!!", time.Minute)
	key, err := ledger.NewSecretKey()
	require.NoError(t, err)
	mw := Middleware(mgr, &stubResolver{keys: map[string]string{key: "key-owner"}})

	t.Run("session token", func(t *testing.T) {
		token, err := mgr.Generate("user-1", "u1@test.com")
		require.NoError(t, err)

		rec, id := serve(t, mw, func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) })
		assert.Equal(t, http.StatusNoContent, rec.Code)
		require.NotNil(t, id)
		assert.Equal(t, "user-1", id.UserID)
		assert.Equal(t, MethodSession, id.Method)
	})

	t.Run("api key as bearer", func(t *testing.T) {
		rec, id := serve(t, mw, func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+key) })
		assert.Equal(t, http.StatusNoContent, rec.Code)
		require.NotNil(t, id)
		assert.Equal(t, "key-owner", id.UserID)
		assert.Equal(t, MethodAPIKey, id.Method)
	})

	t.Run("api key header", func(t *testing.T) {
		rec, id := serve(t, mw, func(r *http.Request) { r.Header.Set(APIKeyHeader, key) })
		assert.Equal(t, http.StatusNoContent, rec.Code)
		require.NotNil(t, id)
		assert.Equal(t, "key-owner", id.UserID)
	})

	t.Run("unknown api key", func(t *testing.T) {
		other, _ := ledger.NewSecretKey()
		rec, id := serve(t, mw, func(r *http.Request) { r.Header.Set(APIKeyHeader, other) })
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Nil(t, id)
		assert.Contains(t, rec.Body.String(), "invalid API key")
	})

	t.Run("missing header", func(t *testing.T) {
		rec, _ := serve(t, mw, func(r *http.Request) {})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong scheme", func(t *testing.T) {
		rec, _ := serve(t, mw, func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") })
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("bad token", func(t *testing.T) {
		rec, _ := serve(t, mw, func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") })
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid or expired token")
	})
}

func TestMiddleware_StoreDown(t *testing.T) {
	mgr := NewJWTManager("access-secret-32-chars-long!!!!!", time.Minute)
	mw := Middleware(mgr, &stubResolver{err: errors.New("connection refused")})
	key, _ := ledger.NewSecretKey()

	rec, id := serve(t, mw, func(r *http.Request) { r.Header.Set(APIKeyHeader, key) })
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Nil(t, id)
}
