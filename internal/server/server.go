package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"

	"github.com/clipboardpush/clipboard-push-server/internal/api"
	"github.com/clipboardpush/clipboard-push-server/internal/auth"
	"github.com/clipboardpush/clipboard-push-server/internal/config"
	"github.com/clipboardpush/clipboard-push-server/internal/middleware"
	"github.com/clipboardpush/clipboard-push-server/internal/websocket"
)

// Dependencies holds all service dependencies for the server
type Dependencies struct {
	WSHandler        *websocket.Handler
	RelayHandler     *api.RelayHandler
	UploadHandler    *api.UploadHandler
	AuthHandler      *api.AuthHandler
	DashboardHandler *api.DashboardHandler
	SettingsHandler  *api.SettingsHandler
	Tokens           *auth.TokenService
	RateLimiter      *middleware.RateLimiter
	Logger           *zap.Logger
}

// New creates an HTTP server with all routes configured.
func New(cfg *config.Config, deps *Dependencies) *http.Server {
	mux := http.NewServeMux()

	// Register routes
	registerRoutes(mux, deps)

	// Wrap with middleware
	handler := chainMiddleware(mux,
		requestIDMiddleware,
		corsMiddleware(cfg),
		loggingMiddleware(deps.Logger),
		recoverMiddleware(deps.Logger),
	)

	return &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: handler,
		// Relay uploads stream whole files, so body timeouts stay generous
		// while header reads are kept short.
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
}

func registerRoutes(mux *http.ServeMux, deps *Dependencies) {
	// Health check - essential for docker, k8s, load balancers
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// =========================================================================
	// Signaling
	// =========================================================================
	mux.Handle("GET /ws", deps.WSHandler)
	mux.HandleFunc("POST /api/relay", deps.RelayHandler.Relay)

	// =========================================================================
	// File transfer (upload_auth is rate limited; it runs before any auth)
	// =========================================================================
	rateLimited := deps.RateLimiter.Middleware

	mux.Handle("POST /api/file/upload_auth", rateLimited(http.HandlerFunc(deps.UploadHandler.CreateUploadSlot)))
	mux.HandleFunc("PUT /api/file/upload/{key}", deps.UploadHandler.UploadFile)
	mux.HandleFunc("GET /api/file/download/{key}", deps.UploadHandler.DownloadFile)

	// =========================================================================
	// Admin gate
	// =========================================================================
	bearer := auth.Middleware(deps.Tokens)

	mux.Handle("POST /api/auth/login", rateLimited(http.HandlerFunc(deps.AuthHandler.Login)))
	mux.Handle("POST /api/auth/change_password", bearer(http.HandlerFunc(deps.AuthHandler.ChangePassword)))

	// =========================================================================
	// Dashboard APIs
	// =========================================================================
	mux.Handle("GET /api/dashboard/storage/usage", bearer(http.HandlerFunc(deps.DashboardHandler.StorageUsage)))
	mux.Handle("POST /api/dashboard/storage/empty", bearer(http.HandlerFunc(deps.DashboardHandler.StorageEmpty)))
	mux.Handle("GET /api/settings", bearer(http.HandlerFunc(deps.SettingsHandler.GetSettings)))
	mux.Handle("PUT /api/settings", bearer(http.HandlerFunc(deps.SettingsHandler.UpdateSettings)))

	// =========================================================================
	// Observability and docs
	// =========================================================================
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /swagger/", httpSwagger.Handler())
}
