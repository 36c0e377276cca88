package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/middleware"
	"go.uber.org/zap"

	"github.com/Kurdzik/PG-backup-manager/pkg/errs"
)

const (
	statusOK     = "OK"
	maxBodyBytes = 1 << 20
)

type envelope map[string]interface{}

func statusMessage(code int, msg string) envelope {
	return envelope{"status": code, "message": msg}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as {status, message}. Storage and unclassified
// errors are logged with their cause.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.writeErrorWith(w, r, err, nil)
}

func (s *Server) writeErrorWith(w http.ResponseWriter, r *http.Request, err error, extra envelope) {
	code := errs.HTTPStatus(err)
	msg := errs.Message(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())), zap.Error(err))
	}
	body := statusMessage(code, msg)
	body["error"] = errs.Kind(err)
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, code, body)
}

// decode reads a JSON body into v.
func decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errs.Validation("request body is required")
		}
		return errs.Validation("invalid request body: %v", err)
	}
	return nil
}

// queryID parses a required numeric id from the query string.
func queryID(r *http.Request, key string) (uint, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return 0, errs.Validation("%s is required", key)
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil || n == 0 {
		return 0, errs.Validation("%s must be a positive integer, got %q", key, v)
	}
	return uint(n), nil
}

// queryUint parses an optional non-negative integer, def when absent.
func queryUint(r *http.Request, key string, def int) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errs.Validation("%s must be a non-negative integer, got %q", key, v)
	}
	return n, nil
}

// queryBool reports whether key is set to a true value.
func queryBool(r *http.Request, key string) (bool, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errs.Validation("%s must be true or false, got %q", key, v)
	}
	return b, nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("took", time.Since(start)),
			zap.String("remote", r.RemoteAddr),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		}
		switch {
		case ww.Status() >= http.StatusInternalServerError:
			s.logger.Warn("request", fields...)
		case r.URL.Path == "/healthz" || r.URL.Path == "/metrics":
			s.logger.Debug("request", fields...)
		default:
			s.logger.Info("request", fields...)
		}
	})
}
