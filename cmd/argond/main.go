// Command argond is the node-local container daemon: it provisions
// game-server containers, templates their config, runs the one-shot
// installer, and serves the live session multiplexer to authenticated
// browser clients.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/argon-hosting/daemon/internal/cargo"
	"github.com/argon-hosting/daemon/internal/cargo/s3"
	"github.com/argon-hosting/daemon/internal/config"
	"github.com/argon-hosting/daemon/internal/dockergw"
	"github.com/argon-hosting/daemon/internal/httpapi"
	"github.com/argon-hosting/daemon/internal/installer"
	"github.com/argon-hosting/daemon/internal/lifecycle"
	"github.com/argon-hosting/daemon/internal/logbuffer"
	"github.com/argon-hosting/daemon/internal/panelclient"
	"github.com/argon-hosting/daemon/internal/record"
	"github.com/argon-hosting/daemon/internal/record/postgres"
	"github.com/argon-hosting/daemon/internal/session"
)

const (
	orphanSweepInterval = 5 * time.Minute
	healthTickInterval  = 5 * time.Second
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	log := newLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	docker, err := dockergw.NewClient(cfg.DockerSocket)
	if err != nil {
		return fmt.Errorf("connect docker: %w", err)
	}
	defer docker.Close()

	store, closeStore, err := newRecordStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open record store: %w", err)
	}
	defer closeStore()

	panel := panelclient.New(cfg.PanelURL, cfg.PanelAPIKey)
	fetcher := cargo.New(newS3Client(ctx, cfg, log))
	install := installer.New(docker, log)
	logs := logbuffer.NewRegistry()

	lc := lifecycle.New(store, docker, panel, install, fetcher, logs, cfg.VolumesDir, log)

	log.Info("recovering orphaned containers")
	if err := lc.RecoverOrphans(ctx); err != nil {
		log.Warn("orphan recovery failed", "error", err)
	}
	go lc.SweepOrphans(ctx, orphanSweepInterval)

	hub := session.NewHub(panel, lc, docker, logs, cfg.MaxConnsPerIP, log)
	go hub.RunValidationSweep(ctx)

	go publishHealth(ctx, lc, log)

	api := httpapi.New(lc, hub, cfg.NodeAPIKey, log)
	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: api.Routes()}

	go func() {
		log.Info("argond listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}

func newLogger(cfg config.Config) *slog.Logger {
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, nil)
	} else {
		handler = slog.NewTextHandler(os.Stdout, nil)
	}
	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}

// newRecordStore opens a Postgres-backed store when cfg.PostgresDSN is
// set, running pending migrations first; otherwise falls back to an
// in-memory store.
func newRecordStore(ctx context.Context, cfg config.Config, log *slog.Logger) (record.Store, func(), error) {
	if cfg.PostgresDSN == "" {
		log.Info("no ARGON_POSTGRES_DSN set, using in-memory record store")
		return record.NewMemoryStore(), func() {}, nil
	}

	migrationDB, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open migration connection: %w", err)
	}
	if err := postgres.MigrateUp(migrationDB); err != nil {
		migrationDB.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	migrationDB.Close()

	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open pool: %w", err)
	}

	return postgres.New(pool), pool.Close, nil
}

// newS3Client returns an s3.Client when an S3 bucket is configured,
// otherwise nil (cargo.New tolerates a nil S3Downloader and simply
// rejects s3:// entries).
func newS3Client(ctx context.Context, cfg config.Config, log *slog.Logger) cargo.S3Downloader {
	if cfg.S3Bucket == "" {
		return nil
	}
	client, err := s3.NewClient(ctx, s3.Config{
		Bucket:    cfg.S3Bucket,
		Region:    cfg.S3Region,
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
	})
	if err != nil {
		log.Warn("s3 client init failed, s3:// cargo entries disabled", "error", err)
		return nil
	}
	return client
}

// publishHealth logs an aggregate server-state count every tick.
func publishHealth(ctx context.Context, lc *lifecycle.Controller, log *slog.Logger) {
	ticker := time.NewTicker(healthTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			recs, err := lc.List(ctx)
			if err != nil {
				log.Warn("health tick: list servers failed", "error", err)
				continue
			}
			counts := make(map[record.State]int)
			for _, rec := range recs {
				counts[rec.State]++
			}
			log.Debug("health", "total_servers", len(recs), "by_state", counts)
		}
	}
}
