package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	_ "github.com/clipboardpush/clipboard-push-server/docs"
	"github.com/clipboardpush/clipboard-push-server/internal/api"
	"github.com/clipboardpush/clipboard-push-server/internal/auth"
	"github.com/clipboardpush/clipboard-push-server/internal/config"
	"github.com/clipboardpush/clipboard-push-server/internal/logging"
	"github.com/clipboardpush/clipboard-push-server/internal/middleware"
	"github.com/clipboardpush/clipboard-push-server/internal/push"
	"github.com/clipboardpush/clipboard-push-server/internal/pubsub"
	"github.com/clipboardpush/clipboard-push-server/internal/server"
	signaling "github.com/clipboardpush/clipboard-push-server/internal/signal"
	"github.com/clipboardpush/clipboard-push-server/internal/storage"
	"github.com/clipboardpush/clipboard-push-server/internal/websocket"
)

func main() {
	// ENV_FILE points boot config and the settings write-back at the same file.
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	_ = godotenv.Load(envFile)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.IsDevelopment())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Admin gate. config.Load rejects a missing signing key in production.
	jwtKey := cfg.JWTSigningKey
	if jwtKey == "" {
		jwtKey = "dev-signing-key-do-not-use-in-production!!" // 44 chars
		logger.Warn("Using default JWT signing key, do not use in production")
	}

	tokens, err := auth.NewTokenService(jwtKey)
	if err != nil {
		logger.Fatal("Failed to create token service", zap.Error(err))
	}
	passwords := auth.NewPasswordStore(filepath.Join(cfg.DataDir, "admin_password.hash"), cfg.AdminPassword, logger)

	// Object store. In development an unconfigured r2 backend falls back to
	// local disk so a bare checkout still boots; production refuses instead.
	backend := cfg.StorageBackend
	if backend == storage.BackendR2 && cfg.IsDevelopment() &&
		(cfg.R2AccountID == "" || cfg.R2AccessKeyID == "" || cfg.R2SecretAccessKey == "") {
		logger.Warn("R2 credentials missing, falling back to local storage")
		backend = storage.BackendLocal
	}

	var store storage.Store
	var dashboardStore storage.Store
	switch backend {
	case storage.BackendLocal:
		localStore, err := storage.NewLocalStore(cfg.LocalStoragePath, cfg.LocalStorageBaseURL, logger)
		if err != nil {
			logger.Fatal("Failed to open local storage", zap.Error(err))
		}
		defer localStore.Close()
		store = localStore
		dashboardStore = localStore
		logger.Info("Local storage initialized", zap.String("path", cfg.LocalStoragePath))
	default:
		r2Store, err := storage.NewR2Storage(cfg.R2AccountID, cfg.R2AccessKeyID, cfg.R2SecretAccessKey, cfg.R2Bucket, cfg.R2Endpoint)
		if err != nil {
			logger.Fatal("Failed to initialize R2 storage", zap.Error(err))
		}
		store = r2Store
		dashboardStore = r2Store
		// The dashboard may watch a different bucket than the relay writes to.
		if cfg.DashboardR2Bucket != "" && cfg.DashboardR2Bucket != cfg.R2Bucket {
			dashboardStore, err = storage.NewR2Storage(cfg.R2AccountID, cfg.R2AccessKeyID, cfg.R2SecretAccessKey, cfg.DashboardR2Bucket, cfg.R2Endpoint)
			if err != nil {
				logger.Fatal("Failed to initialize dashboard R2 storage", zap.Error(err))
			}
		}
		logger.Info("R2 storage initialized", zap.String("bucket", cfg.R2Bucket))
	}

	// Observer fan-out bus: in-memory for a single instance, Redis when the
	// dashboard must see rooms served by other instances.
	var bus pubsub.PubSub
	switch cfg.PubSubType {
	case "redis":
		redisBus, err := pubsub.NewRedisPubSub(cfg.RedisURL, logger)
		if err != nil {
			logger.Fatal("Failed to connect to redis", zap.Error(err))
		}
		bus = redisBus
		logger.Info("Redis pubsub initialized")
	default:
		bus = pubsub.NewMemoryPubSub()
	}
	defer bus.Close()

	pushDispatcher := push.NewDispatcher(cfg.FCMServerKey, cfg.FCMEndpoint, logger)
	defer pushDispatcher.Close()
	if pushDispatcher.Enabled() {
		logger.Info("FCM push dispatch enabled")
	}

	hub := websocket.NewHub(bus, logger)
	coordinator := signaling.NewCoordinator(hub, bus, pushDispatcher, logger, signaling.Options{
		DebugEnabled:         cfg.SignalDebugEnabled,
		DebugMaxChars:        cfg.SignalDebugMaxChars,
		DecisionTimeoutMS:    cfg.DecisionTimeoutDefaultMS,
		DecisionTimeoutMaxMS: cfg.DecisionTimeoutMaxMS,
	})
	defer coordinator.Close()
	hub.SetDispatcher(coordinator)

	runCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(runCtx)
	wsHandler := websocket.NewHandler(hub, logger)

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute)
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				limiter.Cleanup()
			}
		}
	}()

	deps := &server.Dependencies{
		WSHandler:        wsHandler,
		RelayHandler:     api.NewRelayHandler(coordinator, logger),
		UploadHandler:    api.NewUploadHandler(store, logger),
		AuthHandler:      api.NewAuthHandler(passwords, tokens, logger),
		DashboardHandler: api.NewDashboardHandler(dashboardStore, logger),
		SettingsHandler:  api.NewSettingsHandler(cfg.EnvFile, logger),
		Tokens:           tokens,
		RateLimiter:      limiter,
		Logger:           logger,
	}

	srv := server.New(cfg, deps)

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("Starting server", zap.String("addr", cfg.ServerAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error", zap.Error(err))
		}
	}()

	<-shutdownCtx.Done()
	logger.Info("Shutting down gracefully")

	timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer timeoutCancel()

	if err := srv.Shutdown(timeoutCtx); err != nil {
		logger.Error("Forced shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}
