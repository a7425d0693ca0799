package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hive-corporation/threatdeck/internal/adapter/metrics"
)

// RouterConfig collects what NewRouter wires together.
type RouterConfig struct {
	Rest           *RestHandler
	Hub            *Hub
	Auth           *Authenticator
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewRouter builds the complete HTTP handler: /api routes, /ws, /metrics,
// wrapped in logging, metrics, auth and CORS.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	auth := cfg.Auth
	if auth == nil {
		auth = NewAuthenticator("", "", logger)
	}
	if !auth.Enabled() {
		logger.Warn("⚠️ No auth token or JWT secret configured - auth disabled")
	}
	metrics.Init()

	router := mux.NewRouter()
	router.Use(LoggingMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.Use(auth.Middleware)

	cfg.Rest.Register(router)
	if cfg.Hub != nil {
		router.HandleFunc("/ws", cfg.Hub.ServeWS).Methods(http.MethodGet)
	}

	// Metrics endpoint (requires authentication)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return NewCORS(cfg.AllowedOrigins).Handler(router)
}
