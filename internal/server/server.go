package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/promptlab/internal/app"
	"github.com/ashita-ai/promptlab/internal/model"
	"github.com/ashita-ai/promptlab/internal/ratelimit"
)

// Server is the promptlab HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// MCPServer is optional; nil disables the /mcp endpoint. RunLimiter throttles
// the run endpoints; nil disables throttling.
type ServerConfig struct {
	App        *app.App
	Logger     *slog.Logger
	MCPServer  *mcpserver.MCPServer
	RunLimiter ratelimit.Limiter

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	OpenAPISpec         []byte // Embedded OpenAPI YAML.
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		App:                 cfg.App,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         cfg.OpenAPISpec,
	})

	mux := http.NewServeMux()

	// Enhancer config and its version history.
	mux.HandleFunc("GET /v1/config", h.HandleGetConfig)
	mux.HandleFunc("PUT /v1/config", h.HandleUpdateConfig)
	mux.HandleFunc("GET /v1/config/versions", h.HandleListVersions)
	mux.HandleFunc("GET /v1/config/versions/{version}", h.HandleGetVersion)
	mux.HandleFunc("PATCH /v1/config/versions/{version}", h.HandleRenameVersion)
	mux.HandleFunc("POST /v1/config/versions/{version}/revert", h.HandleRevertVersion)

	// Test cases.
	mux.HandleFunc("GET /v1/test-cases", h.HandleListTestCases)
	mux.HandleFunc("POST /v1/test-cases", h.HandleCreateTestCase)
	mux.HandleFunc("GET /v1/test-cases/deleted", h.HandleListDeletedTestCases)
	mux.HandleFunc("GET /v1/test-cases/{id}", h.HandleGetTestCase)
	mux.HandleFunc("PUT /v1/test-cases/{id}", h.HandleUpdateTestCase)
	mux.HandleFunc("DELETE /v1/test-cases/{id}", h.HandleDeleteTestCase)
	mux.HandleFunc("POST /v1/test-cases/{id}/restore", h.HandleRestoreTestCase)

	// Runs and results. Each run calls the paid provider APIs.
	throttle := ratelimit.Middleware(cfg.RunLimiter, runLimitKey, denyRateLimited, cfg.Logger)
	mux.Handle("POST /v1/test-cases/{id}/run", throttle(http.HandlerFunc(h.HandleRunTest)))
	mux.Handle("POST /v1/run-all", throttle(http.HandlerFunc(h.HandleRunAll)))
	mux.HandleFunc("GET /v1/test-cases/{id}/result", h.HandleLatestResult)
	mux.HandleFunc("GET /v1/test-cases/{id}/results", h.HandleResultHistory)
	mux.HandleFunc("GET /v1/results/{id}", h.HandleGetResult)
	mux.HandleFunc("GET /v1/images/{id}", h.HandleGetImage)

	// Changelog and live updates.
	mux.HandleFunc("GET /v1/changelog", h.HandleChangelog)
	mux.HandleFunc("GET /v1/subscribe", h.HandleSubscribe)

	// MCP StreamableHTTP transport.
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → source → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = sourceMiddleware(handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// runLimitKey buckets run requests by change source and client address.
func runLimitKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return string(SourceFromContext(r.Context())) + ":" + host
}

func denyRateLimited(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusTooManyRequests, model.ErrCodeRateLimited, "too many run requests, retry shortly")
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
