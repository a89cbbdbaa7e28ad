package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"readySchoolsAPI/internal/apperr"
	"readySchoolsAPI/internal/logger"
)

func fakeVerifier(ctx context.Context, token string) (string, error) {
	if token == "good" {
		return "teacher-1", nil
	}
	return "", errors.New("bad token")
}

func ownerEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ownerID, err := GetOwnerID(r.Context())
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(ownerID))
	})
}

func TestOwnerAuthMiddleware(t *testing.T) {
	h := OwnerAuthMiddleware(fakeVerifier, logger.Nop())(ownerEcho())

	tests := []struct {
		name   string
		target string
		header string
		code   int
		body   string
	}{
		{"bearer token", "/x", "Bearer good", http.StatusOK, "teacher-1"},
		{"query token", "/x?token=good", "", http.StatusOK, "teacher-1"},
		{"missing", "/x", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "/x", "Token good", http.StatusUnauthorized, ""},
		{"invalid token", "/x", "Bearer nope", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.code, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestGetOwnerIDWithoutAuth(t *testing.T) {
	_, err := GetOwnerID(context.Background())
	assert.ErrorIs(t, err, apperr.ErrNotAuthenticated)

	id, err := GetOwnerID(WithOwnerID(context.Background(), "t9"))
	require.NoError(t, err)
	assert.Equal(t, "t9", id)
}

func TestRateLimiterPerClient(t *testing.T) {
	rl := NewRateLimiter(0.0001, 2)
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	hit := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, hit("10.0.0.1:1000"))
	assert.Equal(t, http.StatusOK, hit("10.0.0.1:1001"))
	assert.Equal(t, http.StatusTooManyRequests, hit("10.0.0.1:1002"))
	assert.Equal(t, http.StatusOK, hit("10.0.0.2:1000"))

	rl.evict(0)
	assert.Equal(t, http.StatusOK, hit("10.0.0.1:1003"))
}

func TestBasicAuthMiddleware(t *testing.T) {
	h := BasicAuthMiddleware("metrics", "secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req.SetBasicAuth("metrics", "secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPprofSecurityMiddlewareRejectsWhenUnset(t *testing.T) {
	h := PprofSecurityMiddleware("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
