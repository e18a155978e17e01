// Package server exposes the reasoning engine over HTTP, SSE and
// websockets.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/asktra/asktra/internal/audit"
	"github.com/asktra/asktra/internal/dataset"
	"github.com/asktra/asktra/internal/reasoning/engine"
)

// Reasoner is the engine surface the handlers call.
type Reasoner interface {
	Run(ctx context.Context, req engine.Request) (*engine.Result, error)
	Stream(ctx context.Context, req engine.Request) <-chan engine.Event
	EmitDocumentation(ctx context.Context, version string, finding engine.CausalFinding) (string, error)
	EmitReconciliationPatch(ctx context.Context, req engine.PatchRequest) (*engine.PatchResult, error)
	EmitBundle(ctx context.Context, in engine.BundleInput) (*engine.Bundle, error)
	Dataset(ctx context.Context) *dataset.Store
}

// Config represents the server configuration
type Config struct {
	Port int

	// AllowedOrigins is the CORS and websocket origin allow list. ["*"]
	// allows any origin.
	AllowedOrigins []string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration // 0 keeps streams open
	ShutdownTimeout time.Duration

	MetricsEnabled bool
	MetricsPath    string

	// Reported by /health.
	Version     string
	Provider    string
	Model       string
	BundleModel string
	Configured  bool
}

// Server represents the asktra HTTP server
type Server struct {
	config   Config
	reasoner Reasoner
	logger   *zap.Logger
	audit    audit.Logger
	validate *validator.Validate
	upgrader websocket.Upgrader

	handlerOnce sync.Once
	handler     http.Handler
}

// New creates a server. logger and auditLogger may be nil.
func New(cfg Config, reasoner Reasoner, logger *zap.Logger, auditLogger audit.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if auditLogger == nil {
		auditLogger = audit.NewNopLogger()
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		config:   cfg,
		reasoner: reasoner,
		logger:   logger,
		audit:    auditLogger,
		validate: validator.New(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler returns the fully wrapped HTTP handler: tracing, CORS, request
// id, logging and recovery around the router.
func (s *Server) Handler() http.Handler {
	s.handlerOnce.Do(func() {
		router := mux.NewRouter()
		s.registerRoutes(router)

		router.Use(RequestID)
		router.Use(StructuredLog(s.logger))
		router.Use(Recovery(s.logger))
		router.Use(MaxBodySize(DefaultMaxBodyBytes))

		c := cors.New(cors.Options{
			AllowedOrigins:   s.config.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Content-Type", "Authorization", RequestIDHeader, "traceparent"},
			ExposedHeaders:   []string{RequestIDHeader, TraceIDHeader, "Retry-After"},
			AllowCredentials: !allowsAnyOrigin(s.config.AllowedOrigins),
		})
		s.handler = Tracing(c.Handler(router))
	})
	return s.handler
}

// registerRoutes registers HTTP handlers
func (s *Server) registerRoutes(router *mux.Router) {
	router.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	router.HandleFunc("/ask", s.handleAsk).Methods(http.MethodPost)
	router.HandleFunc("/ask-stream", s.handleAskStream).Methods(http.MethodPost)
	router.HandleFunc("/ws/ask", s.handleWSAsk).Methods(http.MethodGet)

	router.HandleFunc("/emit-docs", s.handleEmitDocs).Methods(http.MethodPost)
	router.HandleFunc("/emit-reconciliation-patch", s.handleEmitPatch).Methods(http.MethodPost)
	router.HandleFunc("/reconciliation-bundle", s.handleBundle).Methods(http.MethodPost)

	router.HandleFunc("/dataset", s.handleDataset).Methods(http.MethodGet)

	if s.config.MetricsEnabled {
		router.Handle(s.config.MetricsPath, promhttp.Handler()).Methods(http.MethodGet)
	}
}

// Run serves on the configured port until ctx is done, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", s.config.Port, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.config.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()

	s.logger.Info("HTTP server listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("provider", s.config.Provider),
		zap.String("model", s.config.Model),
		zap.Bool("llm_configured", s.config.Configured),
	)
	_ = s.audit.Log(ctx, audit.NewEvent(audit.EventServerStarted).
		WithDescription("asktra server started").
		WithMetadata("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down HTTP server")
	_ = s.audit.Log(shutdownCtx, audit.NewEvent(audit.EventServerShutdown).
		WithDescription("asktra server shutting down"))

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// checkOrigin enforces the allow list for websocket upgrades. Requests
// without an Origin header are not from a browser and are accepted.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func allowsAnyOrigin(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
