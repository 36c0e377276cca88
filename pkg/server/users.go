package server

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/Kurdzik/PG-backup-manager/pkg/auth"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// CreateUser adds a dashboard account. The first account can be created
// without a token; later ones need an authenticated caller. Concurrent
// anonymous requests on an empty store race in CreateFirstUser, where only
// one wins.
func (s *Server) CreateUser(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.CountUsers(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	caller := ""
	if n > 0 {
		if caller, err = s.auth.Authenticate(r); err != nil {
			s.writeError(w, r, err)
			return
		}
	} else if err := s.auth.CheckAPIKey(r.Header.Get(auth.APIKeyHeader)); err != nil {
		s.writeError(w, r, err)
		return
	}

	var req credentials
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	create := s.store.CreateUser
	if n == 0 {
		create = s.store.CreateFirstUser
	}
	u, err := create(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("user created", zap.String("username", u.Username), zap.String("created_by", caller), zap.Bool("bootstrap", n == 0))
	body := statusMessage(http.StatusCreated, "user "+u.Username+" created")
	body["data"] = u
	writeJSON(w, http.StatusCreated, body)
}

// Login exchanges a username and password for an API token. The token is
// returned in the body and set as the auth_token cookie.
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.CheckAPIKey(r.Header.Get(auth.APIKeyHeader)); err != nil {
		s.writeError(w, r, err)
		return
	}
	var req credentials
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.store.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		s.logger.Info("login failed", zap.String("username", req.Username))
		s.writeError(w, r, err)
		return
	}
	token, expires, err := s.auth.Issue(u.Username)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, envelope{
		"status":     http.StatusOK,
		"message":    "User " + u.Username + " logged in",
		"payload":    token,
		"token":      token,
		"expires_at": expires.UTC(),
	})
}
