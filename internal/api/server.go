package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"danmaku/internal/config"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
)

// ShutdownTimeout bounds graceful shutdown of the HTTP server.
const ShutdownTimeout = 5 * time.Second

// Server is the HTTP API server with WebSocket support.
// It combines the HTTP router with WebSocket hub for real-time updates.
type Server struct {
	engine  EngineInterface
	router  *chi.Mux
	wsHub   *WebSocketHub
	limiter *ClientLimiter
}

// NewServer creates an API server from the server settings.
//
// IMPORTANT: Background workers do NOT start until Run() is called, apart
// from the client limiter's sweep goroutine which Stop ends.
//
// For testing HTTP endpoints without WebSocket support, use NewRouter() directly.
func NewServer(engine EngineInterface, cfg config.ServerConfig, cellSize float64) *Server {
	auth := NewTokenAuth(cfg.AdminToken)
	if auth.Enabled() {
		log.Println("🔒 Admin token required for commands")
	}

	s := &Server{
		engine: engine,
		limiter: NewClientLimiter(ClientLimits{
			RequestsPerSecond: cfg.RateLimit,
			Burst:             cfg.RateBurst,
			BulletsPerSecond:  cfg.SpawnRate,
			MaxSockets:        MaxWSConnectionsPerIP,
		}),
	}
	s.wsHub = NewWebSocketHub(engine, NewOriginChecker(cfg.AllowedOrigins), auth, s.limiter, cfg.SnapshotHz)

	s.router = NewRouter(RouterConfig{
		Engine:      engine,
		Limiter:     s.limiter,
		CORSOrigins: cfg.AllowedOrigins,
		Auth:        auth,
		CellSize:    cellSize,
	})
	s.router.Get("/ws", s.wsHub.HandleWebSocket)

	return s
}

// Run serves on addr and broadcasts snapshots until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("🌐 API server starting on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		s.wsHub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		log.Println("🛑 API server shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	s.Stop()
	return err
}

// Router returns the HTTP handler for use with httptest.
// Use this in integration tests instead of calling Run().
//
// Example:
//
//	server := api.NewServer(engine, config.DefaultServer(), 32)
//	ts := httptest.NewServer(server.Router())
//	defer ts.Close()
//	resp, _ := http.Get(ts.URL + "/api/stats")
func (s *Server) Router() http.Handler {
	return s.router
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *WebSocketHub {
	return s.wsHub
}

// Stop releases background workers. Run calls it on return.
func (s *Server) Stop() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}
