package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/promptlab/api"
	"github.com/ashita-ai/promptlab/internal/app"
	"github.com/ashita-ai/promptlab/internal/config"
	"github.com/ashita-ai/promptlab/internal/mcp"
	"github.com/ashita-ai/promptlab/internal/ratelimit"
	"github.com/ashita-ai/promptlab/internal/server"
	"github.com/ashita-ai/promptlab/internal/service/enhancer"
	"github.com/ashita-ai/promptlab/internal/service/generation"
	"github.com/ashita-ai/promptlab/internal/service/runner"
	"github.com/ashita-ai/promptlab/internal/storage"
	"github.com/ashita-ai/promptlab/internal/storage/sqlite"
	"github.com/ashita-ai/promptlab/internal/telemetry"
	"github.com/ashita-ai/promptlab/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(os.Getenv("PROMPTLAB_LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// closableStore is a storage.Store that owns a connection.
type closableStore interface {
	storage.Store
	Close(ctx context.Context)
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("promptlab starting", "version", version, "port", cfg.Port, "backend", cfg.Backend())

	otelShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    cfg.OTELEndpoint,
		Insecure:    cfg.OTELInsecure,
		ServiceName: cfg.ServiceName,
		Version:     version,
		SampleRate:  cfg.TraceSampleRate,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close(context.Background())

	provider, err := generation.Select(generation.Options{
		Mode:             cfg.Provider,
		AnthropicAPIKey:  cfg.AnthropicAPIKey,
		AnthropicBaseURL: cfg.AnthropicBaseURL,
		OpenAIAPIKey:     cfg.OpenAIAPIKey,
		OpenAIBaseURL:    cfg.OpenAIBaseURL,
	})
	if err != nil {
		return err
	}
	logger.Info("generation provider selected", "provider", provider.Name())
	if provider.Name() == "echo" {
		logger.Warn("using the echo provider: no external calls are made and images are placeholders")
	}

	a := app.New(store, provider, logger, runner.Options{
		EnhanceTimeout: cfg.EnhanceTimeout,
		ImageTimeout:   cfg.ImageTimeout,
		MaxConcurrent:  cfg.MaxConcurrentRuns,
	})
	a.Bus.RegisterMetrics()

	current, err := a.Enhancer.Seed(ctx, enhancer.Defaults{
		SystemPrompt: cfg.DefaultSystemPrompt,
		Model:        cfg.DefaultModel,
		ImageModel:   cfg.DefaultImageModel,
	})
	if err != nil {
		return fmt.Errorf("seed config: %w", err)
	}
	logger.Info("enhancer config loaded", "version", current.Version, "model", current.Model)

	if cfg.ChangelogMaxEntries > 0 {
		go a.Changelog.RunTrimmer(ctx, cfg.ChangelogTrimInterval, cfg.ChangelogMaxEntries)
	}

	var limiter ratelimit.Limiter = ratelimit.NoopLimiter{}
	if cfg.RunRateLimitRPS > 0 {
		limiter = ratelimit.NewMemoryLimiter(cfg.RunRateLimitRPS, cfg.RunRateLimitBurst)
		logger.Info("run rate limiting: enabled", "rps", cfg.RunRateLimitRPS, "burst", cfg.RunRateLimitBurst)
	}
	defer func() { _ = limiter.Close() }()

	srvCfg := server.ServerConfig{
		App:                 a,
		RunLimiter:          limiter,
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         api.OpenAPISpec,
	}
	if cfg.MCPEnabled {
		srvCfg.MCPServer = mcp.New(mcp.Deps{
			Enhancer:  a.Enhancer,
			TestCases: a.TestCases,
			Runner:    a.Runner,
			Changelog: a.Changelog,
			Logger:    logger,
			Version:   version,
		}).MCPServer()
	} else {
		logger.Info("mcp: disabled")
	}
	srv := server.New(srvCfg)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Open event streams end when the bus is cleared; in-flight runs finish
	// or hit their stage timeouts within the shutdown window.
	slog.Info("promptlab shutting down")
	a.Bus.Clear()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	slog.Info("promptlab stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (closableStore, error) {
	if cfg.Backend() == "postgres" {
		db, err := storage.New(ctx, cfg.DatabaseURL, cfg.MaxDBConns, logger)
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		db.RegisterPoolMetrics()
		if err := db.RunMigrations(ctx, migrationsFS(cfg, migrations.Postgres())); err != nil {
			db.Close(ctx)
			return nil, fmt.Errorf("migrations: %w", err)
		}
		return db, nil
	}

	s, err := sqlite.Open(ctx, cfg.SQLitePath, migrationsFS(cfg, migrations.SQLite()), logger)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	logger.Info("storage: sqlite", "path", cfg.SQLitePath)
	return s, nil
}

// migrationsFS prefers an on-disk migrations directory when configured.
func migrationsFS(cfg config.Config, embedded fs.FS) fs.FS {
	if cfg.MigrationsDir != "" {
		return os.DirFS(cfg.MigrationsDir)
	}
	return embedded
}
