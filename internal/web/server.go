// Package web exposes the application over HTTP: the streamed chat
// endpoint, session CRUD and export, the chart proxy, the email
// side-channel, and health probes.
//
// File structure:
//   - server.go: server setup and lifecycle
//   - middleware.go: recovery, request logging, CORS
//   - response.go: JSON response helpers
//   - chat.go: POST /api/v1/chat/stream (SSE)
//   - sessions.go: session CRUD and export endpoints
//   - plots.go: chart image proxy
//   - email.go: welcome-email endpoint
//   - health.go: liveness and readiness probes
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/surgutroads/roadwatch/internal/artifact"
	"github.com/surgutroads/roadwatch/internal/chat"
	"github.com/surgutroads/roadwatch/internal/export"
	"github.com/surgutroads/roadwatch/internal/log"
	"github.com/surgutroads/roadwatch/internal/notify"
	"github.com/surgutroads/roadwatch/internal/session"
)

const (
	// DefaultAddr is where the server listens when unconfigured.
	DefaultAddr = "127.0.0.1:8080"

	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	idleTimeout       = 120 * time.Second
)

// Config carries the server dependencies.
type Config struct {
	Chat      *chat.Chat
	Store     *session.Store
	Artifacts *artifact.Client
	Exporter  *export.Exporter
	Mailer    *notify.Mailer
	Logger    log.Logger

	CORSOrigins []string // empty means "*"
}

// Server is the HTTP front of the application.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger
	cors   []string
}

// NewServer wires all routes.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	mux := http.NewServeMux()
	s := &Server{mux: mux, logger: logger.With("component", "web"), cors: cfg.CORSOrigins}

	newChatHandler(cfg.Chat, logger).registerRoutes(mux)
	newSessionHandler(cfg.Store, cfg.Exporter, logger).registerRoutes(mux)
	newPlotsHandler(cfg.Artifacts, logger).registerRoutes(mux)
	newEmailHandler(cfg.Mailer, logger).registerRoutes(mux)
	newHealthHandler(cfg.Store, logger).registerRoutes(mux)

	return s
}

// Handler returns the mux with middleware applied.
// Order: recovery, then logging, then CORS, then routes.
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.logger),
		loggingMiddleware(s.logger),
		corsMiddleware(s.cors),
	)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
// WriteTimeout stays disabled: the chat endpoint holds its response
// open for the length of a model stream.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		IdleTimeout:       idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
