package server

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/Kurdzik/PG-backup-manager/pkg/auth"
	"github.com/Kurdzik/PG-backup-manager/pkg/broker"
	"github.com/Kurdzik/PG-backup-manager/pkg/probe"
)

type Option func(s *Server) error

// WithAddr returns an Option which set the server listening address.
func WithAddr(addr string) Option {
	return func(s *Server) error {
		s.Addr = addr
		return nil
	}
}

// WithStore returns an Option which set the credential store.
func WithStore(st Store) Option {
	return func(s *Server) error {
		s.store = st
		return nil
	}
}

// WithExecutor returns an Option which set the backup and restore executor.
func WithExecutor(e Executor) Option {
	return func(s *Server) error {
		s.executor = e
		return nil
	}
}

func WithCatalog(c Catalog) Option {
	return func(s *Server) error {
		s.catalog = c
		return nil
	}
}

func WithScheduler(sc Scheduler) Option {
	return func(s *Server) error {
		s.scheduler = sc
		return nil
	}
}

// WithProber returns an Option which set the prober used by test_connection.
func WithProber(p probe.Prober) Option {
	return func(s *Server) error {
		s.prober = p
		return nil
	}
}

// WithAuth returns an Option which set the authenticator of the API routes.
func WithAuth(m *auth.Manager) Option {
	return func(s *Server) error {
		s.auth = m
		return nil
	}
}

// WithBroker returns an Option which set the broker job events are published to.
// Run connects it in the background.
func WithBroker(b broker.Broker) Option {
	return func(s *Server) error {
		s.b = b
		return nil
	}
}

// WithCORSOrigins returns an Option which set the origins allowed to call the API.
func WithCORSOrigins(origins ...string) Option {
	return func(s *Server) error {
		s.corsOrigins = origins
		return nil
	}
}

// WithLoginRate returns an Option which set the login attempts allowed per IP and minute.
func WithLoginRate(n int) Option {
	return func(s *Server) error {
		if n < 1 {
			return errors.New("login rate must be at least 1")
		}
		s.loginRate = n
		return nil
	}
}

// WithShutdownHook returns an Option which registers fn to run after the
// HTTP server stopped. Hooks run concurrently.
func WithShutdownHook(fn func(ctx context.Context) error) Option {
	return func(s *Server) error {
		s.onShutdown = append(s.onShutdown, fn)
		return nil
	}
}

// WithLogger returns an Option which set the logger for Server.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}
