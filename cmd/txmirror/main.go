package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/ericfisherdev/txmirror/internal/adapter/driven/credcrypt"
	pgadapter "github.com/ericfisherdev/txmirror/internal/adapter/driven/postgres"
	"github.com/ericfisherdev/txmirror/internal/adapter/driven/queue"
	"github.com/ericfisherdev/txmirror/internal/adapter/driven/source"
	sqliteadapter "github.com/ericfisherdev/txmirror/internal/adapter/driven/sqlite"
	httphandler "github.com/ericfisherdev/txmirror/internal/adapter/driving/http"
	"github.com/ericfisherdev/txmirror/internal/application"
	"github.com/ericfisherdev/txmirror/internal/config"
	"github.com/ericfisherdev/txmirror/internal/domain/port/driven"
)

// mirrorStore bundles the store ports of whichever database driver is configured.
type mirrorStore struct {
	accounts    driven.AccountStore
	records     driven.RecordStore
	cursors     driven.CursorStore
	subAccounts driven.SubAccountStore
	deadLetters driven.DeadLetterStore
	db          application.Pinger
	close       func() error
}

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on missing required env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(newLogger(cfg))
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_driver", cfg.DBDriver,
		"regions", cfg.Regions(),
		"default_region", cfg.DefaultRegion,
		"workers", cfg.Workers,
		"repoll_interval", cfg.RepollInterval,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sealer, err := credcrypt.New(cfg.SecretKey)
	if err != nil {
		return fmt.Errorf("create credential sealer: %w", err)
	}

	// 3. Open the mirror store and run migrations.
	store, err := openStore(ctx, cfg, sealer)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	// 4. One source client per configured region.
	registry := application.NewSourceRegistry(cfg.DefaultRegion)
	for _, endpoint := range cfg.SourceEndpoints {
		registry.Register(endpoint.Region, source.NewClient(endpoint.BaseURL, cfg.SourceClientID, cfg.SourceSecret))
		slog.Info("source client registered", "region", endpoint.Region, "base_url", endpoint.BaseURL)
	}

	// 5. Queue, worker and dispatcher.
	jobQueue := queue.NewMemory(cfg.QueueCapacity)
	worker := application.NewSyncWorker(
		store.accounts,
		store.records,
		store.cursors,
		store.subAccounts,
		registry,
		application.SyncWorkerConfig{PageTimeout: cfg.PageTimeout, RetryMax: cfg.SyncRetryMax},
	)
	dispatcher := application.NewDispatcher(jobQueue, worker, store.deadLetters, cfg.Workers, cfg.BatchSize)

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	dispatcher.Start(workerCtx)

	// 6. Services.
	intakeSvc := application.NewIntakeService(store.accounts, store.records, dispatcher)
	accountSvc := application.NewAccountService(
		store.accounts,
		store.records,
		store.cursors,
		store.subAccounts,
		store.deadLetters,
	)
	repollSvc := application.NewRepollService(store.accounts, store.cursors, dispatcher, cfg.RepollInterval)
	go repollSvc.Start(ctx)
	healthSvc := application.NewHealthService(store.db, jobQueue, registry)

	// 7. HTTP server.
	apiHandler := httphandler.NewHandler(intakeSvc, accountSvc, repollSvc, healthSvc, slog.Default())
	handler := httphandler.NewServeMux(apiHandler, slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			stop()
		}
	}()

	slog.Info("txmirror started", "listen_addr", cfg.ListenAddr)

	// 8. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Stop intake first so nothing new is enqueued, then drain the queue.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	_ = jobQueue.Close()
	drained := make(chan struct{})
	go func() {
		dispatcher.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-shutdownCtx.Done():
		slog.Warn("job drain timed out, abandoning in-flight jobs", "queue_depth", jobQueue.Depth())
		cancelWorkers()
		<-drained
	}

	slog.Info("shutdown complete")
	return nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func openStore(ctx context.Context, cfg *config.Config, sealer *credcrypt.Sealer) (*mirrorStore, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		db, err := pgadapter.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		version, err := db.RunMigrations()
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		slog.Info("database opened", "driver", cfg.DBDriver, "schema_version", version)

		return &mirrorStore{
			accounts:    pgadapter.NewAccountRepo(db, sealer),
			records:     pgadapter.NewRecordRepo(db),
			cursors:     pgadapter.NewCursorRepo(db),
			subAccounts: pgadapter.NewSubAccountRepo(db),
			deadLetters: pgadapter.NewDeadLetterRepo(db),
			db:          db,
			close:       db.Close,
		}, nil

	default:
		// Dual reader/writer with WAL mode.
		db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
		if err != nil {
			return nil, err
		}
		version, err := sqliteadapter.RunMigrations(db.Writer)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		slog.Info("database opened", "driver", cfg.DBDriver, "path", cfg.DBPath, "schema_version", version)

		return &mirrorStore{
			accounts:    sqliteadapter.NewAccountRepo(db, sealer),
			records:     sqliteadapter.NewRecordRepo(db),
			cursors:     sqliteadapter.NewCursorRepo(db),
			subAccounts: sqliteadapter.NewSubAccountRepo(db),
			deadLetters: sqliteadapter.NewDeadLetterRepo(db),
			db:          db,
			close:       db.Close,
		}, nil
	}
}
