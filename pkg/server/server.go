// Package server exposes the backup engine through the REST API consumed by
// the dashboard.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-chi/valve"
	"github.com/jpillora/backoff"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Kurdzik/PG-backup-manager/pkg/artifact"
	"github.com/Kurdzik/PG-backup-manager/pkg/auth"
	"github.com/Kurdzik/PG-backup-manager/pkg/broker"
	"github.com/Kurdzik/PG-backup-manager/pkg/executor"
	"github.com/Kurdzik/PG-backup-manager/pkg/models"
	"github.com/Kurdzik/PG-backup-manager/pkg/probe"
	"github.com/Kurdzik/PG-backup-manager/pkg/scheduler"
	"github.com/Kurdzik/PG-backup-manager/pkg/store"
)

const (
	apiPrefix       = "/api/v1"
	shutdownTimeout = 20 * time.Second
)

// Store is the part of the credential store the API uses.
type Store interface {
	CreateConnection(ctx context.Context, c *models.Connection) error
	GetConnection(ctx context.Context, id uint) (*models.Connection, error)
	ListConnections(ctx context.Context) ([]models.Connection, error)
	UpdateConnection(ctx context.Context, id uint, in models.Connection) (*models.Connection, error)
	DeleteConnection(ctx context.Context, id uint, force bool) error

	CreateDestination(ctx context.Context, d *models.Destination) error
	GetDestination(ctx context.Context, id uint) (*models.Destination, error)
	ListDestinations(ctx context.Context, f store.DestinationFilter) ([]models.Destination, int64, error)
	UpdateDestination(ctx context.Context, id uint, in models.Destination) (*models.Destination, error)
	DeleteDestination(ctx context.Context, id uint, force bool) error

	ListRuns(ctx context.Context, f store.RunFilter) ([]models.Run, error)

	CreateUser(ctx context.Context, username, password string) (*models.User, error)
	CreateFirstUser(ctx context.Context, username, password string) (*models.User, error)
	Authenticate(ctx context.Context, username, password string) (*models.User, error)
	CountUsers(ctx context.Context) (int64, error)

	Ping(ctx context.Context) error
}

// Executor runs backups and restores.
type Executor interface {
	Backup(ctx context.Context, req executor.BackupRequest) (*executor.Result, error)
	Restore(ctx context.Context, req executor.RestoreRequest) (*executor.Result, error)
	Jobs() []executor.Job
	Cancel(jobID string) error
}

// Catalog lists and deletes artifacts.
type Catalog interface {
	List(ctx context.Context, connectionID uint, target models.Target) ([]artifact.Artifact, error)
	Delete(ctx context.Context, connectionID uint, target models.Target, filename string) error
}

// Scheduler manages backup schedules.
type Scheduler interface {
	Create(ctx context.Context, in models.Schedule) (*models.Schedule, error)
	Update(ctx context.Context, id uint, u scheduler.Update) (*models.Schedule, error)
	Enable(ctx context.Context, id uint) (*models.Schedule, error)
	Disable(ctx context.Context, id uint) (*models.Schedule, error)
	Delete(ctx context.Context, id uint) error
	List(ctx context.Context) ([]models.Schedule, error)
}

// Server defines parameters for running the PG Backup Manager HTTP server.
type Server struct {
	Addr        string
	router      *chi.Mux
	useUnixSock bool

	store     Store
	executor  Executor
	catalog   Catalog
	scheduler Scheduler
	prober    probe.Prober
	auth      *auth.Manager
	b         broker.Broker

	corsOrigins []string
	loginRate   int
	onShutdown  []func(ctx context.Context) error

	// signal chan use for testing.
	testSignalCh chan os.Signal

	logger *zap.Logger
}

// New creates new server instance.
func New(opts ...Option) (*Server, error) {
	s := &Server{loginRate: 10}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.store == nil || s.executor == nil || s.catalog == nil || s.scheduler == nil {
		return nil, errors.New("server: store, executor, catalog and scheduler are required")
	}
	if s.prober == nil {
		s.prober = probe.New()
	}
	if s.auth == nil {
		s.auth = auth.New(auth.Config{})
	}

	if s.logger == nil {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		s.logger = l
	}

	s.router = chi.NewRouter()
	s.setupRoutes()
	s.useUnixSock = strings.HasPrefix(s.Addr, "unix://")
	s.Addr = strings.TrimPrefix(s.Addr, "unix://")

	return s, nil
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Api-Key", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.router.Get("/healthz", s.Health)
	s.router.Handle("/metrics", promhttp.Handler())
	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, statusMessage(http.StatusNotFound, "route not found"))
	})

	s.router.Route(apiPrefix, func(r chi.Router) {
		r.Get("/healthcheck", s.Health)
		r.With(httprate.Limit(s.loginRate, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusTooManyRequests, statusMessage(http.StatusTooManyRequests, "too many login attempts, try again later"))
			}),
		)).Post("/users/login", s.Login)
		r.Post("/users/create", s.CreateUser)

		r.Group(func(r chi.Router) {
			r.Use(s.auth.Middleware(s.writeError))

			r.Route("/connections", func(r chi.Router) {
				r.Get("/list", s.ListConnections)
				r.Post("/create", s.CreateConnection)
				r.Put("/update", s.UpdateConnection)
				r.Delete("/delete", s.DeleteConnection)
			})

			r.Route("/backup-destinations/s3", func(r chi.Router) {
				r.Get("/list", s.ListDestinations)
				r.Post("/create", s.CreateDestination)
				r.Put("/update", s.UpdateDestination)
				r.Delete("/delete", s.DeleteDestination)
			})

			r.Route("/backup", func(r chi.Router) {
				r.Get("/list", s.ListBackups)
				r.Post("/create", s.CreateBackup)
				r.Post("/restore", s.RestoreBackup)
				r.Delete("/delete", s.DeleteBackup)
				r.Get("/history", s.BackupHistory)
			})

			r.Route("/schedules", func(r chi.Router) {
				r.Get("/list", s.ListSchedules)
				r.Post("/create", s.CreateSchedule)
				r.Put("/update", s.UpdateSchedule)
				r.Delete("/delete", s.DeleteSchedule)
				r.Post("/enable", s.EnableSchedule)
				r.Post("/disable", s.DisableSchedule)
			})

			r.Route("/jobs", func(r chi.Router) {
				r.Get("/list", s.ListJobs)
				r.Post("/cancel", s.CancelJob)
			})
		})
	})
}

// Health pings the metadata database.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, statusMessage(http.StatusServiceUnavailable, "metadata database unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, statusMessage(http.StatusOK, "OK"))
}

// connectBroker keeps trying to connect the event broker until it succeeds
// or ctx is done.
func (s *Server) connectBroker(ctx context.Context) {
	if s.b == nil {
		return
	}
	b := &backoff.Backoff{Min: time.Second, Max: time.Minute, Jitter: true}
	for {
		err := s.b.Connect()
		if err == nil {
			s.logger.Info("connected to event broker", zap.String("broker", s.b.String()))
			return
		}
		d := b.Duration()
		s.logger.Warn("connect to event broker failed, retrying", zap.Error(err), zap.Duration("wait", d))
		select {
		case <-ctx.Done():
			return
		case <-time.After(d):
		}
	}
}

// Run serves until SIGTERM or SIGINT, then drains requests and runs the
// shutdown hooks.
func (s *Server) Run() error {
	// Graceful valve shut-off package to manage code preemption and shutdown signaling.
	valv := valve.New()
	baseCtx := valv.Context()

	go s.connectBroker(baseCtx)

	srv := http.Server{
		Handler:           chi.ServerBaseContext(baseCtx, s.router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	c := make(chan os.Signal, 1)
	if s.testSignalCh != nil {
		c = s.testSignalCh
	}
	signal.Notify(c, syscall.SIGTERM, syscall.SIGINT)
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-c
		// signal is a ^C, handle it
		s.logger.Info("shutting down...")

		// first valv
		if err := valv.Shutdown(shutdownTimeout); err != nil {
			s.logger.Error("failed to shutdown valv", zap.Error(err))
		}

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// start http shutdown
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown http server", zap.Error(err))
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, fn := range s.onShutdown {
			fn := fn
			g.Go(func() error { return fn(gctx) })
		}
		if err := g.Wait(); err != nil {
			s.logger.Error("shutdown hook failed", zap.Error(err))
		}
	}()

	var err error
	if s.useUnixSock {
		var unixListener net.Listener
		unixListener, err = net.Listen("unix", s.Addr)
		if err != nil {
			return err
		}
		s.logger.Info("listening", zap.String("socket", s.Addr))
		err = srv.Serve(unixListener)
	} else {
		srv.Addr = s.Addr
		s.logger.Info("listening", zap.String("addr", s.Addr))
		err = srv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		<-shutdownDone
	}
	return err
}
