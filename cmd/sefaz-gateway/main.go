// Command sefaz-gateway runs the fiscal document gateway: a SOAP proxy
// between tenant back offices and the national tax authority, with document
// synchronization, manifestation events and single-key lookups behind a
// small JSON API.
package main

import (
	"context"
	"crypto"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/gabrielcasa-surfclim/sentinel-sefaz-proxy/internal/config"
	"github.com/gabrielcasa-surfclim/sentinel-sefaz-proxy/internal/fiscal"
	"github.com/gabrielcasa-surfclim/sentinel-sefaz-proxy/internal/server"
	"github.com/gabrielcasa-surfclim/sentinel-sefaz-proxy/internal/storage/mongodb"
	"github.com/gabrielcasa-surfclim/sentinel-sefaz-proxy/pkg/security"
	"github.com/gabrielcasa-surfclim/sentinel-sefaz-proxy/pkg/sefaz"
	"github.com/gabrielcasa-surfclim/sentinel-sefaz-proxy/pkg/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Optional; real deployments inject the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	store, err := mongodb.NewStore(connectCtx, &mongodb.Config{
		URI:            cfg.Storage.MongoDB.URI,
		Database:       cfg.Storage.MongoDB.Database,
		GridFSBucket:   cfg.Storage.MongoDB.GridFS.BucketName,
		ChunkSizeBytes: int32(cfg.Storage.MongoDB.GridFS.ChunkSizeBytes),
	})
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}

	hash := crypto.SHA1
	if cfg.Sefaz.SignatureHash == "sha256" {
		hash = crypto.SHA256
	}
	signer, err := security.NewFragmentSigner(hash)
	if err != nil {
		return fmt.Errorf("initializing signer: %w", err)
	}

	client := sefaz.NewClient(
		cfg.Sefaz.SefazEnvironment(),
		transport.NewClient(cfg.Sefaz.Timeout),
	)

	service := fiscal.NewService(store, client, signer, fiscal.SyncOptions{
		MaxLoops:       cfg.Sefaz.MaxSyncLoops,
		AdvanceOnEmpty: cfg.Sefaz.SyncOptionsAdvance(),
	}, logger)

	srv := server.New(cfg, store, service, logger)

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		if err := srv.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
