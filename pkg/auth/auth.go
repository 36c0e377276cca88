// Package auth guards the REST API with a static API key and HS256 JWTs.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Kurdzik/PG-backup-manager/pkg/errs"
)

const (
	APIKeyHeader = "x-api-key"
	CookieName   = "auth_token"

	DefaultTokenTTL = 24 * time.Hour
)

// Claims is the payload of an API token.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type Config struct {
	APIKey    string
	JWTSecret string
	TokenTTL  time.Duration
}

// Manager issues and checks credentials. Each mechanism is enabled only
// when its secret is configured.
type Manager struct {
	apiKey []byte
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func New(cfg Config) *Manager {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	m := &Manager{ttl: ttl, now: time.Now}
	if cfg.APIKey != "" {
		m.apiKey = []byte(cfg.APIKey)
	}
	if cfg.JWTSecret != "" {
		m.secret = []byte(cfg.JWTSecret)
	}
	return m
}

// TokensEnabled reports whether JWTs are issued and required.
func (m *Manager) TokensEnabled() bool {
	return len(m.secret) > 0
}

// Issue signs a token for username.
func (m *Manager) Issue(username string) (string, time.Time, error) {
	if !m.TokensEnabled() {
		return "", time.Time{}, errors.New("auth.jwt_secret is not configured")
	}
	now := m.now()
	expires := now.Add(m.ttl)
	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// Verify checks the signature and expiry of token.
func (m *Manager) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, errs.Unauthenticated("missing API token")
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errs.Unauthenticated("API token expired")
		}
		return nil, errs.Unauthenticated("invalid API token")
	}
	if claims.Username == "" {
		claims.Username = claims.Subject
	}
	return claims, nil
}

// CheckAPIKey compares key with the configured API key.
func (m *Manager) CheckAPIKey(key string) error {
	if len(m.apiKey) == 0 {
		return nil
	}
	if key == "" {
		return errs.Unauthenticated("missing API key")
	}
	if subtle.ConstantTimeCompare([]byte(key), m.apiKey) != 1 {
		return errs.Unauthenticated("invalid API key")
	}
	return nil
}

// TokenFromRequest reads a bearer token from the Authorization header or
// the auth_token cookie.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}

type ctxKey struct{}

// WithUser stores the authenticated username in ctx.
func WithUser(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, ctxKey{}, username)
}

// UserFromContext returns the username set by the middleware.
func UserFromContext(ctx context.Context) (string, bool) {
	u, ok := ctx.Value(ctxKey{}).(string)
	return u, ok && u != ""
}

// Authenticate checks the credentials of r and returns the username, empty
// when tokens are disabled.
func (m *Manager) Authenticate(r *http.Request) (string, error) {
	if err := m.CheckAPIKey(r.Header.Get(APIKeyHeader)); err != nil {
		return "", err
	}
	if !m.TokensEnabled() {
		return "", nil
	}
	claims, err := m.Verify(TokenFromRequest(r))
	if err != nil {
		return "", err
	}
	return claims.Username, nil
}

// Middleware rejects unauthenticated requests through onError.
func (m *Manager) Middleware(onError func(w http.ResponseWriter, r *http.Request, err error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := m.Authenticate(r)
			if err != nil {
				onError(w, r, err)
				return
			}
			if user != "" {
				r = r.WithContext(WithUser(r.Context(), user))
			}
			next.ServeHTTP(w, r)
		})
	}
}
