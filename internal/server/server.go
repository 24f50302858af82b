// Package server exposes the engine to dashboards over HTTP and WebSocket.
// Handlers are thin: they decode, call one engine operation and map its
// error to a status code.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/papersim/internal/domain"
	"github.com/alanyoungcy/papersim/internal/server/handler"
	"github.com/alanyoungcy/papersim/internal/server/middleware"
	"github.com/alanyoungcy/papersim/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKeyHash is a bcrypt hash; empty disables authentication.
	APIKeyHash string
	// RateLimitPerSecond caps requests per client IP; zero disables it.
	RateLimitPerSecond int
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// History is optional and only present when the recorder is enabled;
// Archives additionally needs object storage.
type Handlers struct {
	Health   *handler.HealthHandler
	Status   *handler.StatusHandler
	Agents   *handler.AgentHandler
	Markets  *handler.MarketHandler
	Orders   *handler.OrderHandler
	Risk     *handler.RiskHandler
	History  *handler.HistoryHandler
	Archives *handler.ArchiveHandler
}

// Server is the HTTP + WebSocket control surface.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on a ServeMux and
// the middleware chain applied. limiter may be nil to disable rate
// limiting; wsHub may be nil to disable /ws.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()
	registerRoutes(mux, handlers)
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKeyHash)(h)
	if limiter != nil && cfg.RateLimitPerSecond > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimitPerSecond, time.Second, logger)(h)
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

func registerRoutes(mux *http.ServeMux, hs Handlers) {
	mux.HandleFunc("GET /api/health", hs.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", hs.Status.GetStatus)
	mux.HandleFunc("GET /api/summary", hs.Status.GetSummary)

	mux.HandleFunc("GET /api/agents", hs.Agents.ListAgents)
	mux.HandleFunc("POST /api/agents", hs.Agents.CreateAgent)
	mux.HandleFunc("GET /api/agents/{id}", hs.Agents.GetAgent)
	mux.HandleFunc("DELETE /api/agents/{id}", hs.Agents.RemoveAgent)
	mux.HandleFunc("GET /api/agents/{id}/portfolio", hs.Agents.GetPortfolio)
	mux.HandleFunc("POST /api/agents/{id}/{action}", hs.Agents.SetStatus)

	mux.HandleFunc("GET /api/prices", hs.Markets.ListPrices)
	mux.HandleFunc("GET /api/prices/{symbol...}", hs.Markets.GetPrice)
	mux.HandleFunc("POST /api/tick", hs.Markets.Tick)

	mux.HandleFunc("POST /api/agents/{id}/orders", hs.Orders.PlaceOrder)
	mux.HandleFunc("GET /api/agents/{id}/orders", hs.Orders.ListAgentOrders)
	mux.HandleFunc("GET /api/orders", hs.Orders.ListOpenOrders)
	mux.HandleFunc("GET /api/orders/{id}", hs.Orders.GetOrder)
	mux.HandleFunc("DELETE /api/orders/{id}", hs.Orders.CancelOrder)

	mux.HandleFunc("POST /api/emergency-stop", hs.Risk.EmergencyStop)
	mux.HandleFunc("POST /api/resume", hs.Risk.Resume)
	mux.HandleFunc("GET /api/risk/alerts", hs.Risk.ListAlerts)
	mux.HandleFunc("GET /api/risk/scenarios", hs.Risk.ListScenarios)
	mux.HandleFunc("POST /api/risk/stress-test", hs.Risk.StressTest)

	if hs.History != nil {
		mux.HandleFunc("GET /api/history/agents/{id}/orders", hs.History.ListOrders)
		mux.HandleFunc("GET /api/history/agents/{id}/fills", hs.History.ListFills)
		mux.HandleFunc("GET /api/history/agents/{id}/equity", hs.History.ListEquity)
		mux.HandleFunc("GET /api/history/orders/{id}", hs.History.GetOrder)
		mux.HandleFunc("GET /api/history/audit", hs.History.ListAudit)
	}
	if hs.Archives != nil {
		mux.HandleFunc("GET /api/history/archives", hs.Archives.ListArchives)
		mux.HandleFunc("GET /api/history/archives/{path...}", hs.Archives.GetArchive)
	}
}

// Handler returns the root handler including middleware.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
