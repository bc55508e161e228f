package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"clientdash/internal/app"
	"clientdash/internal/clients"
	"clientdash/internal/tokens"
	u "clientdash/internal/utils"
	"clientdash/internal/views"
)

func main() {
	if err := run(); err != nil {
		u.Error("Startup failed", "error", err)
		os.Exit(1)
	}
}

// run wires the service together and blocks until shutdown. Deferred cleanup
// runs before main decides on the exit code.
func run() error {
	cfg := u.LoadConfig()
	if err := ensureLogDir(cfg.Logger.File); err != nil {
		u.Error("Failed to create log directory", "error", err)
	}
	u.InitLogger(
		cfg.Logger.File,
		cfg.Logger.MaxSizeMB,
		cfg.Logger.MaxBackups,
		cfg.Logger.MaxAgeDays,
		cfg.Logger.Compress,
		cfg.Logger.Level,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := u.OpenPostgres(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer db.Close()

	repo := clients.NewPostgresRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return err
	}

	tokenRepo := tokens.NewRepository(db)
	if err := tokenRepo.EnsureSchema(ctx); err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.Cache.ClientCacheEnabled && cfg.Cache.RedisHost != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr: cfg.Cache.RedisHost,
			DB:   cfg.Cache.ClientCacheDB,
		})
		defer rdb.Close()
	}
	svc := clients.NewService(repo, clients.NewCache(rdb, cfg.Cache.ClientCacheTTL))

	tokenCache := tokens.NewCache()
	reloader := tokens.NewReloader(tokenRepo, tokenCache, cfg.Auth.TokenReloadInterval)
	if err := reloader.LoadOnce(ctx); err != nil {
		u.Error("Failed to load API tokens", "error", err)
	}
	reloader.Start(ctx)

	a := app.SetupApp(app.Deps{
		Config:           cfg,
		Tokens:           tokenCache,
		Clients:          svc,
		SessionStorage:   app.NewRedisStorage(cfg.Cache.RedisHost, cfg.Cache.SessionDB, "sessions"),
		RateLimitStorage: app.NewRedisStorage(cfg.Cache.RedisHost, cfg.Cache.RateLimitDB, "rate limits"),
		Views:            views.FS(cfg.Views.Reload, os.Getenv("CLIENTDASH_VIEWS_DIR")),
	})

	startServer(a, cfg)
	return nil
}

// ensureLogDir creates the directory of the log file if needed.
func ensureLogDir(path string) error {
	if path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// startServer runs the Fiber app until SIGINT or SIGTERM and then shuts it
// down gracefully.
func startServer(a *fiber.App, cfg u.Config) {
	go func() {
		if err := a.Listen(cfg.Server.Host + cfg.Server.Port); err != nil {
			u.Error("Server error", "error", err)
		}
	}()

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
	<-sigint

	u.Warn("Shutdown signal received, closing server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.ShutdownWithContext(ctx); err != nil {
		u.Error("Server forced to shutdown", "error", err)
	}
	u.Info("Server stopped cleanly")
}
