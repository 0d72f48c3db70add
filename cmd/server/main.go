package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/forgo/trellis/internal/app"
	"github.com/forgo/trellis/internal/config"
	"github.com/forgo/trellis/internal/handler"
	"github.com/forgo/trellis/internal/middleware"
	"github.com/forgo/trellis/internal/model"
	"github.com/forgo/trellis/internal/routing"
	"github.com/forgo/trellis/pkg/jwt"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize structured logging
	slog.SetDefault(newLogger(cfg))

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	application, err := newApp(cfg, prometheus.DefaultRegisterer)
	if err != nil {
		slog.Error("invalid middleware stack", slog.String("error", err.Error()))
		os.Exit(1)
	}
	for _, d := range application.Stack() {
		slog.Debug("middleware", slog.String("layer", d.String()))
	}

	// Build eagerly so a bad stack fails at startup
	var root http.Handler
	if root, err = application.Handler(); err != nil {
		os.Exit(1)
	}
	if cfg.Server.H2C {
		root = h2c.NewHandler(root, &http2.Server{})
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      root,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("starting server",
			slog.String("port", cfg.Server.Port),
			slog.String("env", cfg.Server.Env),
			slog.Bool("h2c", cfg.Server.H2C),
			slog.Int("middleware", len(application.Stack())),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", slog.String("error", err.Error()))
	}

	slog.Info("server exited")
}

// newApp wires the configured middleware stack around the router.
func newApp(cfg *config.Config, reg prometheus.Registerer) (*app.App, error) {
	backend, err := authBackend(cfg.Auth)
	if err != nil {
		return nil, err
	}
	registry := middleware.DefaultRegistry(reg)
	registry.Register("authentication", func(next http.Handler, _ []any, _ middleware.Options) (http.Handler, error) {
		return middleware.Authentication(backend, nil)(next), nil
	})

	specs := cfg.Middleware
	if len(specs) == 0 {
		specs = defaultStack(cfg)
	}
	stack, err := registry.FromConfig(specs)
	if err != nil {
		return nil, err
	}

	return app.New(newRouter(cfg, reg),
		app.WithDebug(cfg.Server.Debug),
		app.WithMiddleware(stack...),
	), nil
}

// authBackend accepts basic credentials and, when a public key is
// configured, bearer tokens.
func authBackend(cfg config.AuthConfig) (middleware.AuthBackend, error) {
	basic := middleware.NewBasicAuthBackend(cfg.BasicUsers)
	if cfg.JWTPublicKeyPath == "" {
		return basic, nil
	}
	tokens, err := jwt.NewService(jwt.Config{
		PublicKeyPath: cfg.JWTPublicKeyPath,
		Issuer:        cfg.JWTIssuer,
		Leeway:        cfg.JWTLeeway,
	})
	if err != nil {
		return nil, err
	}
	bearer := middleware.BearerBackend{Validator: middleware.JWTValidator{Service: tokens}}
	return middleware.FirstOf(bearer, basic), nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Log.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// defaultStack is used when no middleware file is configured. Authentication
// sits outside the rate limiter so clients are keyed by user when known.
func defaultStack(cfg *config.Config) []config.MiddlewareSpec {
	return []config.MiddlewareSpec{
		{Name: "request_id"},
		{Name: "logger"},
		{Name: "metrics"},
		{Name: "cors", Options: map[string]any{"allowed_origins": cfg.Server.AllowedOrigins}},
		{Name: "gzip", Options: map[string]any{
			"minimum_size": cfg.GZip.MinimumSize,
			"level":        cfg.GZip.Level,
		}},
		{Name: "authentication"},
		{Name: "rate_limit", Options: map[string]any{
			"rps":   cfg.RateLimit.RPS,
			"burst": cfg.RateLimit.Burst,
		}},
	}
}

func newRouter(cfg *config.Config, reg prometheus.Registerer) http.Handler {
	router := mux.NewRouter()
	router.Use(middleware.RouteLabel)

	// Health check endpoint
	router.HandleFunc("/healthz", handler.Health).Methods(http.MethodGet)
	router.Handle("/metrics", metricsHandler(reg)).Methods(http.MethodGet)

	// WebSocket echo
	router.Handle("/ws", handler.WebSocket(handler.Echo, handler.WebSocketOptions{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(cfg.Server.AllowedOrigins, origin)
		},
	}))

	// API sub-application
	prefix := cfg.Server.MountPrefix
	api := mux.NewRouter()
	routes := api
	if prefix != "" {
		routes = api.PathPrefix(prefix).Subrouter()
	}
	routes.Use(middleware.RouteLabel)
	requireUser := middleware.Requires([]string{"authenticated"},
		middleware.WithStatus(http.StatusUnauthorized),
		middleware.WithChallenge(`Basic realm="`+cfg.Auth.Realm+`"`),
	)
	routes.Handle("/whoami", requireUser(http.HandlerFunc(handler.WhoAmI))).Methods(http.MethodGet)
	routes.Handle("/messages", requireUser(handler.Func(handler.PostMessage))).Methods(http.MethodPost)
	routes.Handle("/upload", handler.Upload(handler.DefaultMaxMemory)).Methods(http.MethodPost)
	routes.Handle("/slow", handler.Slow(2*time.Second)).Methods(http.MethodGet)
	api.NotFoundHandler = notFound()
	api.MethodNotAllowedHandler = methodNotAllowed()
	router.PathPrefix(prefix + "/").Handler(routing.Mount(prefix, api))

	router.NotFoundHandler = notFound()
	router.MethodNotAllowedHandler = methodNotAllowed()
	return router
}

func notFound() http.Handler {
	return handler.Func(func(w http.ResponseWriter, r *http.Request) error {
		return model.NotFound()
	})
}

func methodNotAllowed() http.Handler {
	return handler.Func(func(w http.ResponseWriter, r *http.Request) error {
		return model.MethodNotAllowed(nil)
	})
}

// metricsHandler serves reg when it can also be gathered.
func metricsHandler(reg prometheus.Registerer) http.Handler {
	if g, ok := reg.(prometheus.Gatherer); ok && reg != prometheus.DefaultRegisterer {
		return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}
