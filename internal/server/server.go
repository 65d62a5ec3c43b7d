// Package server exposes the engine over HTTP: read endpoints render the
// market snapshot and stores, action endpoints drive the position
// orchestrator, and /ws streams snapshot updates.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/clearhedge/futuresd/internal/domain"
	"github.com/clearhedge/futuresd/internal/server/handler"
	"github.com/clearhedge/futuresd/internal/server/middleware"
	"github.com/clearhedge/futuresd/internal/server/ws"
)

// rateWindow is the fixed window for the per-client API rate limit.
const rateWindow = time.Minute

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	RateLimit   int    // requests per minute per client; zero disables limiting
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Assets    *handler.AssetHandler
	Positions *handler.PositionHandler
	Actions   *handler.ActionHandler
	Pending   *handler.PendingHandler
	History   *handler.HistoryHandler
	// Archive is nil when no cold-storage bucket is configured.
	Archive *handler.ArchiveHandler
}

// Server is the HTTP + WebSocket API server for the futures engine.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, rate limiting) and attaches
// the WebSocket hub. The limiter may be nil when rate limiting is disabled.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Asset endpoints.
	mux.HandleFunc("GET /api/assets", handlers.Assets.ListAssets)
	mux.HandleFunc("GET /api/assets/{id}", handlers.Assets.GetAsset)

	// Position endpoints.
	mux.HandleFunc("GET /api/positions", handlers.Positions.ListPositions)

	// Action endpoints. Absent when no operator wallet is configured, which
	// leaves the server read-only.
	if handlers.Actions != nil {
		mux.HandleFunc("POST /api/actions/preview", handlers.Actions.Preview)
		mux.HandleFunc("POST /api/actions/adjust", handlers.Actions.Adjust)
		mux.HandleFunc("POST /api/actions/repay-all", handlers.Actions.RepayAll)
		mux.HandleFunc("POST /api/actions/settle", handlers.Actions.Settle)
		mux.HandleFunc("POST /api/actions/close", handlers.Actions.Close)
		mux.HandleFunc("POST /api/actions/redeem", handlers.Actions.Redeem)
	}

	// Pending queue and history.
	mux.HandleFunc("GET /api/pending", handlers.Pending.ListPending)
	mux.HandleFunc("GET /api/history", handlers.History.ListHistory)

	// Cold-storage archive browsing.
	if handlers.Archive != nil {
		mux.HandleFunc("GET /api/archive", handlers.Archive.ListArchives)
		mux.HandleFunc("GET /api/archive/{path...}", handlers.Archive.GetArchive)
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux

	h = middleware.Auth(cfg.APIKey)(h)

	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, rateWindow)(h)
	}

	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
