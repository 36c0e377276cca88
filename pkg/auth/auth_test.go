package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kurdzik/PG-backup-manager/pkg/errs"
)

func TestIssueAndVerify(t *testing.T) {
	m := New(Config{JWTSecret: "s3cr3t", TokenTTL: time.Hour})
	token, expires, err := m.Issue("alice")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)

	claims, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "alice", claims.Subject)
}

func TestVerifyRejects(t *testing.T) {
	m := New(Config{JWTSecret: "s3cr3t", TokenTTL: time.Hour})
	valid, _, err := m.Issue("alice")
	require.NoError(t, err)

	expired := New(Config{JWTSecret: "s3cr3t", TokenTTL: time.Minute})
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	expiredToken, _, err := expired.Issue("alice")
	require.NoError(t, err)

	other, _, err := New(Config{JWTSecret: "other"}).Issue("alice")
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Username: "alice"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		msg   string
	}{
		{"empty", "", "missing API token"},
		{"garbage", "not-a-token", "invalid API token"},
		{"expired", expiredToken, "API token expired"},
		{"wrong secret", other, "invalid API token"},
		{"alg none", none, "invalid API token"},
		{"truncated", valid[:len(valid)-4], "invalid API token"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.Verify(tc.token)
			require.Error(t, err)
			assert.True(t, errdefs.IsUnauthorized(err), err.Error())
			assert.Equal(t, tc.msg, errs.Message(err))
		})
	}
}

func TestIssueWithoutSecret(t *testing.T) {
	_, _, err := New(Config{}).Issue("alice")
	assert.Error(t, err)
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer abc")
	assert.Equal(t, "abc", TokenFromRequest(r))

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: CookieName, Value: "from-cookie"})
	assert.Equal(t, "from-cookie", TokenFromRequest(r))

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	assert.Empty(t, TokenFromRequest(r))
}

func TestMiddleware(t *testing.T) {
	m := New(Config{APIKey: "key", JWTSecret: "s3cr3t"})
	token, _, err := m.Issue("alice")
	require.NoError(t, err)

	h := m.Middleware(func(w http.ResponseWriter, _ *http.Request, err error) {
		w.WriteHeader(errs.HTTPStatus(err))
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := UserFromContext(r.Context())
		_, _ = w.Write([]byte(user))
	}))

	tests := []struct {
		name   string
		apiKey string
		token  string
		status int
	}{
		{"ok", "key", token, http.StatusOK},
		{"missing key", "", token, http.StatusUnauthorized},
		{"wrong key", "nope", token, http.StatusUnauthorized},
		{"missing token", "key", "", http.StatusUnauthorized},
		{"bad token", "key", "abc", http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.apiKey != "" {
				r.Header.Set(APIKeyHeader, tc.apiKey)
			}
			if tc.token != "" {
				r.Header.Set("Authorization", "Bearer "+tc.token)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			assert.Equal(t, tc.status, w.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, "alice", w.Body.String())
			}
		})
	}
}

func TestMiddlewareOpenWhenUnconfigured(t *testing.T) {
	h := New(Config{}).Middleware(func(w http.ResponseWriter, _ *http.Request, _ error) {
		w.WriteHeader(http.StatusUnauthorized)
	})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
