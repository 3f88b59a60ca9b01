// Command specforged runs the specforge HTTP server: the thin REST surface
// of spec.md §6 in front of the Generator Registry and Pipeline Executor.
//
// Optional environment variables (see internal/config):
//
//	PORT, HOST, LOG_LEVEL, SPECFORGE_STORE_BACKEND, SPECFORGE_STORE_DSN,
//	SPECFORGE_CAS_BACKEND, SPECFORGE_CAS_PATH, SPECFORGE_CAS_BUCKET,
//	SPECFORGE_CACHE_ENABLED, SPECFORGE_CACHE_URL,
//	SPECFORGE_IDEMPOTENCY_TTL_HOURS, SPECFORGE_CONFIG
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/docker/docker/client"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/specforge/specforge/internal/cache"
	"github.com/specforge/specforge/internal/config"
	"github.com/specforge/specforge/internal/httpapi"
	"github.com/specforge/specforge/internal/pipeline"
	"github.com/specforge/specforge/internal/registry"
	"github.com/specforge/specforge/internal/sandbox"
	"github.com/specforge/specforge/internal/store"
	"github.com/specforge/specforge/internal/template"
	"github.com/specforge/specforge/internal/validation"
)

// Version is set via ldflags at build time.
var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "specforged: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("SPECFORGE_CONFIG"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))
	logger.Info("starting specforged", "version", Version, "store_backend", cfg.Store.Backend)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	artifactStore, err := buildArtifactStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("building artifact store: %w", err)
	}

	idempotencyCache := wireCache(cfg, artifactStore, logger)
	cachedStore := cache.NewCachedStore(artifactStore, idempotencyCache)

	catalogue := registry.NewCatalogue()

	deps := pipeline.Dependencies{
		Engine:          template.NewEngine(),
		SpecValidator:   validation.NewSpecValidator(),
		OutputValidator: validation.NewOutputValidator(),
		Store:           cachedStore,
	}
	if sb, err := buildSandbox(); err == nil {
		deps.Sandbox = sb
	} else {
		logger.Debug("sandbox collaborator unavailable, sandbox-test step disabled", "error", err)
	}

	executor := pipeline.NewDefaultExecutor(deps)

	server := httpapi.NewServer(catalogue, executor, cfg.Server.CORSOrigins, logger)

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("serving: %w", err)
	}
}

func buildArtifactStore(cfg *config.Config, logger *slog.Logger) (store.ArtifactStore, error) {
	var cas store.ContentAddressableStore
	switch cfg.Store.CASBackend {
	case "fs":
		cas = store.NewFsCAS(cfg.Store.CASPath)
	case "memory":
		cas = store.NewMemoryCAS()
	case "gcs":
		// GCS client construction requires a context.Context and ADC
		// credentials that are environment-specific; the memory/fs
		// backends cover local and single-node deployments, and a real
		// deployment wires gcsCAS via store.NewGCSCAS given a configured
		// *storage.Client.
		logger.Warn("cas_backend=gcs requires a pre-built storage.Client; falling back to memory CAS")
		cas = store.NewMemoryCAS()
	}

	switch cfg.Store.Backend {
	case "postgres":
		db, err := sqlx.Connect("postgres", cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		return store.NewPostgresArtifactStore(db, cas)
	default:
		return store.NewMemoryArtifactStore(), nil
	}
}

func wireCache(cfg *config.Config, backing cache.IdempotencyLookup, logger *slog.Logger) *cache.IdempotencyCache {
	c := cache.New(backing)
	if !cfg.Cache.Enabled {
		return c
	}

	opts, err := redis.ParseURL(cfg.Cache.URL)
	if err != nil {
		logger.Warn("invalid cache.url, running without idempotency cache", "error", err)
		return c
	}
	c.Enable(redis.NewClient(opts), time.Duration(cfg.Idempotency.TTLHours)*time.Hour)
	return c
}

// buildSandbox wires the optional sandbox-test step to a Docker daemon
// reachable via the standard DOCKER_HOST/DOCKER_* environment variables.
// The daemon is not contacted here, so an unreachable daemon surfaces only
// when the sandbox-test step runs. Client construction errors (e.g. a
// malformed DOCKER_HOST) are non-fatal to the server: the sandbox-test
// step is simply left unregistered.
func buildSandbox() (sandbox.Sandbox, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return sandbox.NewDockerSandbox(cli), nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
