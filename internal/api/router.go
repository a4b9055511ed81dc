package api

//go:generate go tool mockgen -destination=./mocks/engine_mock.go -package=mocks . EngineInterface

import (
	"net/http"
	"time"

	"danmaku/internal/game"
	"danmaku/internal/game/vmath"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// EngineInterface defines the simulation methods used by the API.
// This interface enables mocking for tests without spinning up the tick loop.
// Keep this minimal - only include methods the API layer actually calls.
type EngineInterface interface {
	// Submit validates a command and queues it for the next tick
	Submit(cmd game.Command) error
	// Snapshot returns the latest lock-free immutable world snapshot
	Snapshot() *game.WorldSnapshot
	// QueryPool returns a style's bullets inside a box
	QueryPool(style string, lo, hi vmath.Vec2) ([]game.BulletSnapshot, error)
	// StyleNames returns the defined style keys
	StyleNames() []string
	// QueueLen returns the number of commands waiting for the next tick
	QueueLen() int
	// Session returns the unique id of this run
	Session() string
	// Seed returns the RNG seed of the running world
	Seed() int64
	// GetEventLogStats returns event log statistics
	GetEventLogStats() game.EventLogStats
}

// RouterConfig contains all dependencies needed to construct the HTTP router.
// This struct is designed for dependency injection and testability.
//
// Example usage in tests:
//
//	cfg := api.RouterConfig{
//	    Engine: mockEngine,
//	    Limits: &api.ClientLimits{
//	        RequestsPerSecond: 1000, // High limit for tests
//	        Burst:             1000,
//	    },
//	}
//	router := api.NewRouter(cfg)
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	// Engine is the simulation engine (required)
	Engine EngineInterface

	// Limiter is an optional pre-configured client limiter.
	// If nil, a new one will be created using Limits.
	Limiter *ClientLimiter

	// Limits is optional configuration for the client limiter.
	// Only used if Limiter is nil. If both are nil, uses DefaultClientLimits.
	Limits *ClientLimits

	// CORSOrigins is an optional list of allowed CORS origins.
	// If nil, localhost on any port is allowed.
	CORSOrigins []string

	// Auth guards the mutating routes. Nil leaves them open.
	Auth *TokenAuth

	// CellSize is the bucket cell size drawn by the overlay. Zero hides the grid.
	CellSize float64

	// DisableLogging disables the request logger middleware (useful for benchmarks).
	DisableLogging bool
}

// routerHandlers holds the handler functions for the router.
type routerHandlers struct {
	engine   EngineInterface
	limiter  *ClientLimiter
	cellSize float64
	started  time.Time
}

// NewRouter constructs the HTTP router with all middleware and routes.
//
// IMPORTANT: This function is PURE apart from the client limiter's sweep
// goroutine (pass Limiter to control it):
//   - No network listeners are opened
//   - The websocket hub is not involved
//
// This makes it safe to use in tests with httptest.NewServer.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware - Order matters!
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	// Rate limiting (BEFORE CORS to reject early and save CPU)
	limiter := cfg.Limiter
	if limiter == nil {
		limits := DefaultClientLimits
		if cfg.Limits != nil {
			limits = *cfg.Limits
		}
		limiter = NewClientLimiter(limits)
	}
	r.Use(limiter.Middleware)

	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = []string{
			"http://localhost:*",
			"http://127.0.0.1:*",
		}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	h := &routerHandlers{
		engine:   cfg.Engine,
		limiter:  limiter,
		cellSize: cfg.CellSize,
		started:  time.Now(),
	}
	auth := cfg.Auth
	if auth == nil {
		auth = NewTokenAuth("")
	}

	r.Get("/health", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		// Read-only views
		r.Get("/stats", h.handleGetStats)
		r.Get("/snapshot", h.handleGetSnapshot)
		r.Get("/styles", h.handleGetStyles)
		r.Get("/pools", h.handleGetPools)
		r.Get("/pools/{style}/query", h.handleQueryPool)
		r.Get("/overlay.png", h.handleOverlay)
		r.Get("/events/stats", h.handleEventStats)

		// Everything that changes the world goes through the command queue
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware)
			r.Use(middleware.AllowContentType("application/json"))
			r.Post("/commands", h.handleSubmitCommands)
		})
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware)
			r.Delete("/pools/{style}", h.handleClearStyle)
			r.Delete("/pools", h.handleClearAll)
		})
	})

	return r
}

// metricsMiddleware records latency per route pattern, never per raw URL.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				endpoint = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		RecordRequest(r.Method, endpoint, status, time.Since(start))
	})
}
