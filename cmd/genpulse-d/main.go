package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/isWangjianhua/GenPulse/pkg/api"
	"github.com/isWangjianhua/GenPulse/pkg/blob"
	"github.com/isWangjianhua/GenPulse/pkg/engine"
	"github.com/isWangjianhua/GenPulse/pkg/provider"
	"github.com/isWangjianhua/GenPulse/pkg/provider/registry"
	"github.com/isWangjianhua/GenPulse/pkg/store"
	rstore "github.com/isWangjianhua/GenPulse/pkg/store/redis"
)

const (
	adapterCacheSize = 128
	shutdownTimeout  = 10 * time.Second
)

func main() {
	cfg, err := LoadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "genpulse-d: %v\n", err)
		os.Exit(2)
	}

	logger, closeLog := setupLogger(cfg.LogFile, cfg.LogLevel)
	defer closeLog()
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		closeLog()
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("system started", "mode", cfg.Mode, "env", cfg.Env)

	settings, err := loadSettings(cfg.ProvidersFile, logger)
	if err != nil {
		return err
	}
	factory := registry.NewFactory(settings, adapterCacheSize)
	logger.Info("providers registered", "providers", factory.Names())

	st, err := store.NewStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to init store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}()
	logger.Info("store initialized", "path", cfg.DBPath)

	rdb, err := rstore.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer rdb.Close()
	prefix := rstore.PrefixFor(cfg.Env)

	queue := rstore.NewQueue(rdb, prefix)
	status := rstore.NewStatusCache(rdb, prefix, logger)
	leases := rstore.NewLeases(rdb, prefix)
	bucket := rstore.NewTokenBucket(rdb, logger)

	artifacts, err := newArtifactStore(ctx, cfg)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	if cfg.RunWorker() {
		var mirror *engine.Mirror
		if cfg.Mirror {
			mirror = engine.NewMirror(artifacts, logger)
		}
		dispatcher := engine.NewDispatcher(engine.DispatcherDeps{
			Adapters: factory,
			Tasks:    st,
			Queue:    queue,
			Status:   status,
			Gate:     bucket,
			Notifier: engine.NewWebhookNotifier(cfg.WebhookSecret, logger),
			Mirror:   mirror,
			Logger:   logger,
		})
		pool := engine.NewWorkerPool(queue, dispatcher, cfg.Workers, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.Run(ctx)
		}()

		pruner := engine.NewPruneWorker(st, leases, holderID(), engine.RetentionConfig{
			Enabled:  cfg.RetentionTTL > 0,
			TTL:      cfg.RetentionTTL,
			Schedule: cfg.RetentionSchedule,
		}, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pruner.Run(ctx); err != nil {
				errCh <- err
			}
		}()
	}

	var srv *api.Server
	if cfg.RunAPI() {
		intake := engine.NewIntake(engine.IntakeDeps{
			Tasks:   st,
			Queue:   queue,
			Status:  status,
			Uploads: artifacts,
			Known:   factory.Known,
			Logger:  logger,
		})
		opts := api.Options{
			Addr:   cfg.Addr,
			Token:  cfg.APIToken,
			Intake: intake,
			Tasks:  st,
			Status: status,
			Logger: logger,
		}
		// Only locally stored files are served by the gateway itself.
		if cfg.Storage == "local" {
			opts.Uploads = artifacts
		}
		srv = api.NewServer(opts)
		if cfg.TLSCertFile != "" {
			srv.SetTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		}
		go func() {
			if err := srv.Start(); err != nil {
				errCh <- fmt.Errorf("api server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case runErr = <-errCh:
		stop()
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := srv.Stop(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
		cancel()
	}
	wg.Wait()

	logger.Info("shutdown complete")
	return runErr
}

// loadSettings tolerates a missing providers file: the mock provider needs
// no configuration.
func loadSettings(path string, logger *slog.Logger) (*provider.Settings, error) {
	settings, err := provider.LoadSettings(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("providers file not found, using defaults", "path", path)
		return &provider.Settings{Providers: make(map[provider.Name]provider.ProviderConfig)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load providers: %w", err)
	}
	return settings, nil
}

func newArtifactStore(ctx context.Context, cfg Config) (blob.ArtifactStore, error) {
	if cfg.Storage == "s3" {
		s3Store, err := blob.NewS3Store(ctx, blob.S3Config{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			PathStyle: cfg.S3.PathStyle,
		})
		if err != nil {
			return nil, err
		}
		return s3Store, nil
	}
	if err := os.MkdirAll(cfg.StorageDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}
	return blob.NewLocalStore(cfg.StorageDir, cfg.PublicURL+"/files"), nil
}

func holderID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "genpulse"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}
