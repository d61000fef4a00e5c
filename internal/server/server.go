// Package server hosts the HTTP and websocket API of the settlement node.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/v1xingyue/tokenwords/internal/domain"
	"github.com/v1xingyue/tokenwords/internal/server/handler"
	"github.com/v1xingyue/tokenwords/internal/server/middleware"
	"github.com/v1xingyue/tokenwords/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	APIKey          string // empty disables authentication
	RateLimit       int    // submissions per window per client, 0 disables
	RateLimitWindow time.Duration
}

// Handlers aggregates the HTTP handlers registered by NewServer.
type Handlers struct {
	Health       *handler.HealthHandler
	Status       *handler.StatusHandler
	Accounts     *handler.AccountHandler
	Predictions  *handler.PredictionHandler
	Transactions *handler.TransactionHandler
	Oracles      *handler.OracleHandler
	Admin        *handler.AdminHandler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and wraps them in the middleware chain.
// limiter and hub may be nil.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	mux.HandleFunc("POST /api/accounts", handlers.Accounts.Allocate)
	mux.HandleFunc("GET /api/accounts/{key}", handlers.Accounts.GetAccount)

	mux.HandleFunc("GET /api/rooms/{key}", handlers.Predictions.GetRoom)
	mux.HandleFunc("GET /api/predictions", handlers.Predictions.ListPredictions)
	mux.HandleFunc("GET /api/predictions/{key}", handlers.Predictions.GetPrediction)
	mux.HandleFunc("GET /api/settlements", handlers.Predictions.ListSettlements)

	mux.HandleFunc("POST /api/transactions", handlers.Transactions.Submit)
	mux.HandleFunc("GET /api/transactions", handlers.Transactions.ListTransactions)
	mux.HandleFunc("GET /api/transactions/{id}", handlers.Transactions.GetTransaction)

	mux.HandleFunc("GET /api/oracles", handlers.Oracles.ListPrices)
	mux.HandleFunc("GET /api/oracles/{key}", handlers.Oracles.GetOracle)
	if handlers.Oracles.Writable() {
		mux.HandleFunc("PUT /api/oracles/{key}", handlers.Oracles.SetPrice)
	}

	mux.HandleFunc("GET /api/audit", handlers.Admin.ListAudit)
	mux.HandleFunc("GET /api/archives", handlers.Admin.ListArchives)
	mux.HandleFunc("GET /api/archives/{name}", handlers.Admin.GetArchive)

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateLimitWindow
		if window <= 0 {
			window = time.Minute
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window, logger, http.MethodPost, http.MethodPut)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until the server is shut down.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting", slog.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
