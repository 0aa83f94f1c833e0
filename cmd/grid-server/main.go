package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendant/simple-grid/pkg/simplegrid"
	"github.com/tendant/simple-grid/pkg/simplegrid/api"
	"github.com/tendant/simple-grid/pkg/simplegrid/config"
)

func main() {
	_ = godotenv.Load()

	opts := []config.Option{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		opts = append(opts, config.WithFile(path))
	}
	opts = append(opts, config.WithEnv(""))

	serverConfig, err := config.Load(opts...)
	if err != nil {
		slog.Error("Failed to load server configuration", "err", err)
		os.Exit(1)
	}

	logger := newLogger(serverConfig.Environment)
	slog.SetDefault(logger)

	store := serverConfig.BuildBlobStore()
	defer store.Close()

	svc, err := serverConfig.BuildService(context.Background(), store, logger)
	if err != nil {
		slog.Error("Failed to build service", "err", err)
		os.Exit(1)
	}

	server := NewHTTPServer(serverConfig, store, svc, logger, prometheus.NewRegistry())

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", serverConfig.Port),
		Handler: server.Routes(),
	}

	go func() {
		slog.Info("Simple Grid server starting",
			"port", serverConfig.Port,
			"env", serverConfig.Environment,
			"storage", serverConfig.StorageType,
			"prefix", serverConfig.Prefix,
			"cache_control", serverConfig.CacheControl.Header())

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "err", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "err", err)
	}

	slog.Info("Server exiting")
}

func newLogger(environment string) *slog.Logger {
	if environment == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// requestTimeout bounds health, metrics and documents API requests
var requestTimeout = 60 * time.Second

// HTTPServer wires the gateway and the documents API
type HTTPServer struct {
	config   *config.ServerConfig
	store    *simplegrid.LazyStore
	service  simplegrid.Service
	logger   *slog.Logger
	registry *prometheus.Registry
	gateway  *api.GridHandler
}

// NewHTTPServer creates a new HTTP server wrapper
func NewHTTPServer(cfg *config.ServerConfig, store *simplegrid.LazyStore, service simplegrid.Service, logger *slog.Logger, registry *prometheus.Registry) *HTTPServer {
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	gateway := api.NewGridHandler(store,
		api.WithPrefix(cfg.Prefix),
		api.WithCacheControl(cfg.CacheControl),
		api.WithLogger(logger),
		api.WithMetrics(api.NewMetrics(registry)),
	)

	return &HTTPServer{
		config:   cfg,
		store:    store,
		service:  service,
		logger:   logger,
		registry: registry,
		gateway:  gateway,
	}
}

// Routes sets up the HTTP routes
func (s *HTTPServer) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	// Blob downloads are only bounded by the client connection.
	r.Mount("/"+s.gateway.Prefix(), s.gateway.Routes())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Get("/health", s.handleHealth)
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

		r.Route("/api/v1", func(r chi.Router) {
			r.Mount("/documents", api.NewDocumentsHandler(s.service, s.gateway.Prefix()).Routes())
		})
	})

	return r
}

// handleHealth reports whether the blob store can be reached
func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":      "healthy",
		"environment": s.config.Environment,
		"storage":     s.config.StorageType,
		"kinds":       s.service.Kinds(),
	}

	if _, err := s.store.Connect(r.Context()); err != nil {
		s.logger.Warn("Blob store health check failed", "error", err)
		resp["status"] = "degraded"
		resp["error"] = err.Error()
		render.Status(r, http.StatusServiceUnavailable)
	}

	render.JSON(w, r, resp)
}
