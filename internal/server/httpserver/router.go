package httpserver

import (
	"log/slog"
	"net/http"
)

// DefaultRateLimit is the per-IP request rate of DefaultRouterConfig.
const DefaultRateLimit = 50

// RouterConfig holds configuration for the HTTP router.
type RouterConfig struct {
	// WorkerPath is where Worker is mounted. Default: "/worker".
	WorkerPath string

	// Worker accepts page connections. Nil leaves the path unrouted.
	Worker http.Handler

	// Metrics serves the Prometheus scrape. Nil leaves /metrics unrouted.
	Metrics http.Handler

	// AllowList restricts clients by IP or CIDR (empty = no restriction).
	AllowList []string

	// RateLimit is the per-IP limit in requests/second (0 = unlimited).
	RateLimit int

	Logger *slog.Logger
}

// DefaultRouterConfig returns a config with the default path and rate.
func DefaultRouterConfig() *RouterConfig {
	return &RouterConfig{
		WorkerPath: "/worker",
		RateLimit:  DefaultRateLimit,
	}
}

// NewRouter mounts the configured handlers behind the middleware chain.
func NewRouter(cfg *RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	path := cfg.WorkerPath
	if path == "" {
		path = "/worker"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok\n"))
	})
	if cfg.Worker != nil {
		mux.Handle(path, cfg.Worker)
	}
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	return Chain(mux,
		RequestID(),
		Recover(logger),
		AccessLog(logger),
		NetworkACL(cfg.AllowList, logger),
		RateLimit(cfg.RateLimit),
	)
}
