package api

import (
	"errors"
	"net"
	"net/http"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"danmaku/internal/game"

	"golang.org/x/time/rate"
)

// ClientLimits configures the per-client budgets. A client is a remote IP.
type ClientLimits struct {
	RequestsPerSecond float64       // HTTP requests
	Burst             int           // HTTP request burst
	BulletsPerSecond  float64       // bullets spawned through commands; 0 disables
	MaxSockets        int           // concurrent viewer sockets; 0 disables
	IdleAfter         time.Duration // idle clients without sockets are forgotten
}

// DefaultClientLimits returns production-safe defaults
var DefaultClientLimits = ClientLimits{
	RequestsPerSecond: 10,
	Burst:             20,
	BulletsPerSecond:  2000,
	MaxSockets:        MaxWSConnectionsPerIP,
	IdleAfter:         10 * time.Minute,
}

// errSpawnBudget rejects a command whose bullets exceed the client's budget.
var errSpawnBudget = errors.New("spawn budget exhausted")

// LimiterStats counts rejections by budget.
type LimiterStats struct {
	Clients  int    `json:"clients"`
	Requests uint64 `json:"rejectedRequests"`
	Bullets  uint64 `json:"rejectedBullets"`
	Sockets  uint64 `json:"rejectedSockets"`
}

type clientState struct {
	requests *rate.Limiter
	bullets  *rate.Limiter // nil when spawning is unlimited
	sockets  int
	lastSeen time.Time
}

// ClientLimiter enforces request, spawn and socket budgets per client.
type ClientLimiter struct {
	cfg ClientLimits

	mu      sync.Mutex
	clients map[string]*clientState

	stop     chan struct{}
	stopOnce sync.Once

	rejectedRequests atomic.Uint64
	rejectedBullets  atomic.Uint64
	rejectedSockets  atomic.Uint64
}

// NewClientLimiter creates a limiter and starts its idle sweep. Call Stop
// to end it.
func NewClientLimiter(cfg ClientLimits) *ClientLimiter {
	if cfg.IdleAfter <= 0 {
		cfg.IdleAfter = DefaultClientLimits.IdleAfter
	}
	cl := &ClientLimiter{
		cfg:     cfg,
		clients: make(map[string]*clientState),
		stop:    make(chan struct{}),
	}
	go cl.sweepLoop()
	return cl
}

// Stop ends the sweep goroutine.
func (cl *ClientLimiter) Stop() {
	cl.stopOnce.Do(func() { close(cl.stop) })
}

// client returns the state for ip. Caller holds mu.
func (cl *ClientLimiter) client(ip string, now time.Time) *clientState {
	c, ok := cl.clients[ip]
	if !ok {
		c = &clientState{requests: rate.NewLimiter(rate.Limit(cl.cfg.RequestsPerSecond), cl.cfg.Burst)}
		if cl.cfg.BulletsPerSecond > 0 {
			// One second of budget may be spent at once.
			c.bullets = rate.NewLimiter(rate.Limit(cl.cfg.BulletsPerSecond), max(1, int(cl.cfg.BulletsPerSecond)))
		}
		cl.clients[ip] = c
	}
	c.lastSeen = now
	return c
}

// AllowRequest charges one HTTP request.
func (cl *ClientLimiter) AllowRequest(ip string) bool {
	now := time.Now()
	cl.mu.Lock()
	ok := cl.client(ip, now).requests.AllowN(now, 1)
	cl.mu.Unlock()
	if !ok {
		cl.rejectedRequests.Add(1)
	}
	return ok
}

// AdmitCommand charges the bullets a command spawns. Commands that spawn
// nothing are always admitted.
func (cl *ClientLimiter) AdmitCommand(ip string, cmd game.Command) error {
	n := spawnCost(cmd)
	if n == 0 {
		return nil
	}
	now := time.Now()
	cl.mu.Lock()
	c := cl.client(ip, now)
	ok := c.bullets == nil || c.bullets.AllowN(now, n)
	cl.mu.Unlock()
	if !ok {
		cl.rejectedBullets.Add(1)
		return errSpawnBudget
	}
	return nil
}

// AcquireSocket reserves a viewer socket slot.
func (cl *ClientLimiter) AcquireSocket(ip string) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	c := cl.client(ip, time.Now())
	if cl.cfg.MaxSockets > 0 && c.sockets >= cl.cfg.MaxSockets {
		cl.rejectedSockets.Add(1)
		return false
	}
	c.sockets++
	return true
}

// ReleaseSocket frees a slot reserved by AcquireSocket.
func (cl *ClientLimiter) ReleaseSocket(ip string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if c, ok := cl.clients[ip]; ok && c.sockets > 0 {
		c.sockets--
		c.lastSeen = time.Now()
	}
}

// Sockets returns the open viewer sockets of ip.
func (cl *ClientLimiter) Sockets(ip string) int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if c, ok := cl.clients[ip]; ok {
		return c.sockets
	}
	return 0
}

func (cl *ClientLimiter) sweepLoop() {
	ticker := time.NewTicker(cl.cfg.IdleAfter / 2)
	defer ticker.Stop()
	for {
		select {
		case <-cl.stop:
			return
		case now := <-ticker.C:
			cl.sweep(now)
		}
	}
}

// sweep forgets clients idle since before now-IdleAfter that hold no socket.
func (cl *ClientLimiter) sweep(now time.Time) int {
	cutoff := now.Add(-cl.cfg.IdleAfter)
	cl.mu.Lock()
	defer cl.mu.Unlock()
	removed := 0
	for ip, c := range cl.clients {
		if c.sockets == 0 && c.lastSeen.Before(cutoff) {
			delete(cl.clients, ip)
			removed++
		}
	}
	return removed
}

// Stats returns the tracked client count and rejections per budget.
func (cl *ClientLimiter) Stats() LimiterStats {
	cl.mu.Lock()
	n := len(cl.clients)
	cl.mu.Unlock()
	return LimiterStats{
		Clients:  n,
		Requests: cl.rejectedRequests.Load(),
		Bullets:  cl.rejectedBullets.Load(),
		Sockets:  cl.rejectedSockets.Load(),
	}
}

// Middleware rejects requests over the client's request budget.
func (cl *ClientLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !cl.AllowRequest(GetClientIP(r)) {
			RecordConnectionRejected("rate_limit")
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// spawnCost is the number of bullets a command creates.
func spawnCost(cmd game.Command) int {
	switch cmd.Kind {
	case game.CmdSpawn:
		return 1
	case game.CmdRing, game.CmdSpray:
		return max(cmd.Count, 0)
	}
	return 0
}

// GetClientIP extracts the client IP from an HTTP request
// Handles X-Forwarded-For header for proxied requests
func GetClientIP(r *http.Request) string {
	// CAUTION: This can be spoofed if not behind a trusted proxy
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// OriginChecker matches request origins against an allow list. Entries may
// use a "*" wildcard, e.g. "http://localhost:*".
type OriginChecker struct {
	patterns []string
}

// NewOriginChecker creates a checker. An empty list allows localhost only.
func NewOriginChecker(allowed []string) *OriginChecker {
	if len(allowed) == 0 {
		allowed = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	return &OriginChecker{patterns: allowed}
}

// Allowed reports whether origin may connect. Requests without an Origin
// header come from non-browser clients and are allowed.
func (c *OriginChecker) Allowed(origin string) bool {
	if origin == "" {
		return true
	}
	for _, p := range c.patterns {
		if p == "*" || p == origin {
			return true
		}
		if ok, _ := path.Match(p, origin); ok {
			return true
		}
	}
	return false
}
