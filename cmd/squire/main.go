package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	githubadapter "github.com/squirehq/squire/internal/adapter/driven/github"
	sqliteadapter "github.com/squirehq/squire/internal/adapter/driven/sqlite"
	httphandler "github.com/squirehq/squire/internal/adapter/driving/http"
	"github.com/squirehq/squire/internal/application"
	"github.com/squirehq/squire/internal/config"
	"github.com/squirehq/squire/internal/domain/port/driven"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on malformed env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"sync_interval", cfg.SyncInterval,
		"secret_store", cfg.HasSecretKey(),
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 5. Wire adapters.
	repoStore := sqliteadapter.NewRepoRepo(db)
	prStore := sqliteadapter.NewPRRepo(db)
	reviewStore := sqliteadapter.NewReviewRepo(db)
	secretStore := sqliteadapter.NewCredentialRepo(db, cfg.SecretKey)

	// 6. Wire application services.
	resolver := application.NewCredentialResolver(
		secretStore,
		repoStore,
		cfg.GitHubToken,
		cfg.GitHubBaseURL,
		githubadapter.DefaultBaseURL,
	)
	gateways := application.GatewayFactoryFunc(func(token, baseURL string) (driven.Gateway, error) {
		return githubadapter.NewClient(token, baseURL)
	})

	syncSvc := application.NewSyncService(repoStore, prStore, secretStore, resolver, gateways)
	reviewSvc := application.NewReviewService(prStore, reviewStore)
	publishSvc := application.NewPublishService(prStore, reviewStore, syncSvc)

	// 7. Start the background sync loop when an interval is configured.
	if cfg.SyncInterval > 0 {
		go syncLoop(ctx, syncSvc, cfg.SyncInterval)
	}

	// 8. HTTP server with API routes and middleware.
	apiHandler := httphandler.NewHandler(repoStore, prStore, syncSvc, reviewSvc, publishSvc, slog.Default())
	handler := httphandler.NewServeMux(apiHandler, slog.Default(), cfg.AllowedOrigins)

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
		}
	}()

	slog.Info("squire started", "listen_addr", cfg.ListenAddr)

	// 9. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	// 10. Graceful shutdown with 10s timeout for HTTP server drain.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// syncLoop runs an incremental sync of every active repository on a fixed
// interval until the context is cancelled. Per-repository failures are
// logged inside SyncAll and do not stop the loop.
func syncLoop(ctx context.Context, syncSvc *application.SyncService, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("background sync loop started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("background sync loop stopped")
			return
		case <-ticker.C:
			if _, err := syncSvc.SyncAll(ctx, false); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("background sync pass failed", "error", err)
			}
		}
	}
}
