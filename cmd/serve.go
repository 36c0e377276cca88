// This file is part of pg-backup-manager
//
// Copyright (C) 2024  PG Backup Manager authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>

package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Kurdzik/PG-backup-manager/pkg/auth"
	"github.com/Kurdzik/PG-backup-manager/pkg/broker"
	"github.com/Kurdzik/PG-backup-manager/pkg/broker/mqtt"
	"github.com/Kurdzik/PG-backup-manager/pkg/catalog"
	"github.com/Kurdzik/PG-backup-manager/pkg/config"
	"github.com/Kurdzik/PG-backup-manager/pkg/executor"
	"github.com/Kurdzik/PG-backup-manager/pkg/limiter"
	"github.com/Kurdzik/PG-backup-manager/pkg/logging"
	"github.com/Kurdzik/PG-backup-manager/pkg/pgtool"
	"github.com/Kurdzik/PG-backup-manager/pkg/probe"
	"github.com/Kurdzik/PG-backup-manager/pkg/retry"
	"github.com/Kurdzik/PG-backup-manager/pkg/scheduler"
	"github.com/Kurdzik/PG-backup-manager/pkg/secret"
	"github.com/Kurdzik/PG-backup-manager/pkg/server"
	"github.com/Kurdzik/PG-backup-manager/pkg/storage/resolver"
	"github.com/Kurdzik/PG-backup-manager/pkg/store"
	"github.com/Kurdzik/PG-backup-manager/pkg/version"
)

var listenAddr string

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server and the backup scheduler.",
	Run: func(cmd *cobra.Command, args []string) {
		if listenAddr != "" {
			viper.Set("server.addr", listenAddr)
		}
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			logger.Fatal("invalid configuration", zap.Error(err))
		}

		log, err := logging.New(logging.Options{
			Level:  cfg.Log.Level,
			Format: cfg.Log.Format,
			File:   cfg.Log.File,
			Debug:  debug,
		})
		if err != nil {
			logger.Fatal("failed to create logger", zap.Error(err))
		}
		defer func() { _ = log.Sync() }()

		if err := serve(cfg, log); err != nil {
			log.Error("server run failed", zap.Error(err))
			os.Exit(1)
		}
	},
}

func serve(cfg *config.Config, log *zap.Logger) error {
	log.Info("starting pg-backup-manager", zap.String("version", version.String()))

	cipher, err := secret.NewCipher(cfg.SecretKey)
	if err != nil {
		return errors.New("secret_key must be set to encrypt stored credentials")
	}
	st, err := store.Open(cfg.Database.Driver, cfg.Database.DSN, cipher, store.WithLogger(log))
	if err != nil {
		return err
	}
	defer st.Close()

	policy := retry.Policy{
		MaxAttempts:     cfg.Retry.MaxAttempts,
		InitialInterval: cfg.Retry.InitialInterval,
		MaxInterval:     time.Minute,
	}
	res := resolver.New(st, cfg.BackupDir, resolver.NewS3Factory(resolver.S3Options{
		Limiter:  limiter.NewStaticLimiter(cfg.S3.UploadLimitKB*1024, cfg.S3.DownloadLimitKB*1024),
		PartSize: int64(cfg.S3.PartSizeMB) << 20,
		Retry:    policy,
		Logger:   log.Named("s3"),
	}))

	// nothing runs yet, so every staged file is a leftover
	if removed, freed, err := executor.CleanupStaging(cfg.StagingDir, 0); err != nil {
		log.Warn("failed to clean staging directory", zap.Error(err))
	} else if removed > 0 {
		log.Info("removed stale staging files", zap.Int("count", removed), zap.Int64("bytes", freed))
	}

	execOpts := []executor.Option{
		executor.WithLogger(log.Named("executor")),
		executor.WithMaxConcurrent(cfg.Jobs.MaxConcurrent),
		executor.WithTimeouts(cfg.Jobs.BackupTimeout, cfg.Jobs.RestoreTimeout),
		executor.WithRetry(policy),
	}
	srvOpts := []server.Option{
		server.WithAddr(cfg.Server.Addr),
		server.WithStore(st),
		server.WithCORSOrigins(cfg.Server.CORSOrigins...),
		server.WithLoginRate(cfg.Server.LoginRate),
		server.WithProber(probe.New(probe.WithTimeout(cfg.Probe.Timeout), probe.WithLogger(log.Named("probe")))),
		server.WithLogger(log),
	}

	if cfg.Broker.URL != "" {
		b, err := mqtt.NewBroker(
			mqtt.WithURL(cfg.Broker.URL),
			mqtt.WithClientID(cfg.Broker.ClientID),
			mqtt.WithStatusTopic(cfg.Broker.Topic+"/status"),
			mqtt.WithTimeout(cfg.Broker.Timeout),
			mqtt.WithLogger(log.Named("mqtt")),
		)
		if err != nil {
			return err
		}
		execOpts = append(execOpts, executor.WithNotifier(broker.NewNotifier(b, cfg.Broker.Topic)))
		srvOpts = append(srvOpts,
			server.WithBroker(b),
			server.WithShutdownHook(func(context.Context) error { return b.Disconnect() }),
		)
	}

	exec, err := executor.New(res, st, pgtool.NewExec(cfg.PgBinary("pg_dump"), cfg.PgBinary("pg_restore"), log.Named("pgtool")), cfg.StagingDir, execOpts...)
	if err != nil {
		return err
	}
	sched := scheduler.New(st, exec, scheduler.WithTick(cfg.Scheduler.Tick), scheduler.WithLogger(log.Named("scheduler")))
	if err := sched.Start(context.Background()); err != nil {
		return err
	}

	if cfg.Auth.APIKey == "" && cfg.Auth.JWTSecret == "" {
		log.Warn("neither auth.api_key nor auth.jwt_secret is set, the API is open")
	}
	authMgr := auth.New(auth.Config{
		APIKey:    cfg.Auth.APIKey,
		JWTSecret: cfg.Auth.JWTSecret,
		TokenTTL:  cfg.Auth.TokenTTL,
	})

	srvOpts = append(srvOpts,
		server.WithExecutor(exec),
		server.WithCatalog(catalog.New(res, exec.Guard(), log.Named("catalog"))),
		server.WithScheduler(sched),
		server.WithAuth(authMgr),
		server.WithShutdownHook(func(context.Context) error {
			sched.Stop()
			return nil
		}),
		server.WithShutdownHook(exec.Shutdown),
	)
	s, err := server.New(srvOpts...)
	if err != nil {
		return err
	}
	if err := s.Run(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&listenAddr, "addr", "", "listening address of server, host:port or unix:///path (default is server.addr)")
}
