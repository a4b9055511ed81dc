package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"danmaku/internal/game"
	"danmaku/internal/game/vmath"
	"danmaku/internal/render"

	"github.com/go-chi/chi/v5"
)

const (
	// MaxCommandBody caps the size of a command request
	MaxCommandBody = 64 << 10
	// MaxCommandsPerRequest caps the length of a command batch
	MaxCommandsPerRequest = 64
	// MaxOverlayScale caps the overlay size multiplier
	MaxOverlayScale = 4
)

// Handler methods for routerHandlers

// snapshot returns the latest published snapshot, or an empty one before
// the first tick.
func (h *routerHandlers) snapshot() *game.WorldSnapshot {
	if snap := h.engine.Snapshot(); snap != nil {
		return snap
	}
	return &game.WorldSnapshot{}
}

func (h *routerHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := h.snapshot()
	writeJSON(w, map[string]any{
		"status":  "ok",
		"tick":    snap.Stats.Tick,
		"session": h.engine.Session(),
	})
}

func (h *routerHandlers) handleGetStats(w http.ResponseWriter, r *http.Request) {
	// Lock-free snapshot instead of touching the world
	snap := h.snapshot()
	writeJSON(w, map[string]any{
		"session":  h.engine.Session(),
		"seed":     h.engine.Seed(),
		"sequence": snap.Sequence,
		"stats":    snap.Stats,
		"queued":   h.engine.QueueLen(),
		"actors":   snap.Actors,
		"uptime":   time.Since(h.started).Round(time.Second).String(),
	})
}

func (h *routerHandlers) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.snapshot())
}

func (h *routerHandlers) handleGetStyles(w http.ResponseWriter, r *http.Request) {
	names := h.engine.StyleNames()
	sort.Strings(names)
	writeJSON(w, map[string]any{
		"styles":   names,
		"commands": game.CommandKinds,
	})
}

type poolSummary struct {
	Style     string  `json:"style"`
	Collider  string  `json:"collider"`
	Radius    float32 `json:"radius"`
	Cosmetic  bool    `json:"cosmetic,omitempty"`
	Count     int     `json:"count"`
	Truncated bool    `json:"truncated,omitempty"`
}

func (h *routerHandlers) handleGetPools(w http.ResponseWriter, r *http.Request) {
	snap := h.snapshot()
	out := make([]poolSummary, 0, len(snap.Pools))
	for _, p := range snap.Pools {
		out = append(out, poolSummary{
			Style:     p.Style,
			Collider:  p.Collider,
			Radius:    p.Radius,
			Cosmetic:  p.Cosmetic,
			Count:     p.Count,
			Truncated: p.Truncated,
		})
	}
	writeJSON(w, out)
}

func (h *routerHandlers) handleQueryPool(w http.ResponseWriter, r *http.Request) {
	style := chi.URLParam(r, "style")
	q := r.URL.Query()

	var box [4]float32
	for i, key := range []string{"x0", "y0", "x1", "y1"} {
		v, err := strconv.ParseFloat(q.Get(key), 32)
		if err != nil {
			writeError(w, "Query needs numeric x0, y0, x1, y1", http.StatusBadRequest)
			return
		}
		box[i] = float32(v)
	}
	lo := vmath.V(min(box[0], box[2]), min(box[1], box[3]))
	hi := vmath.V(max(box[0], box[2]), max(box[1], box[3]))
	if !lo.IsFinite() || !hi.IsFinite() {
		writeError(w, "Query box must be finite", http.StatusBadRequest)
		return
	}

	found, err := h.engine.QueryPool(style, lo, hi)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	if found == nil {
		found = []game.BulletSnapshot{}
	}
	writeJSON(w, map[string]any{
		"style":   style,
		"count":   len(found),
		"bullets": found,
	})
}

func (h *routerHandlers) handleOverlay(w http.ResponseWriter, r *http.Request) {
	opts := render.DefaultOptions(h.cellSize)
	q := r.URL.Query()
	if s := q.Get("scale"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || !(v > 0) || v > MaxOverlayScale {
			writeError(w, "scale must be in (0, 4]", http.StatusBadRequest)
			return
		}
		opts.Scale = v
	}
	if q.Get("grid") == "false" {
		opts.CellSize = 0
	}

	start := time.Now()
	var buf bytes.Buffer
	if err := render.WritePNG(&buf, h.snapshot(), opts); err != nil {
		writeError(w, "Render failed", http.StatusInternalServerError)
		return
	}
	RecordRender(time.Since(start))
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}

func (h *routerHandlers) handleEventStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.engine.GetEventLogStats())
}

type commandResult struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// handleSubmitCommands accepts one command object or an array of them.
// Accepted commands run at the start of the next tick.
func (h *routerHandlers) handleSubmitCommands(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxCommandBody))
	if err != nil {
		writeError(w, "Request too large", http.StatusRequestEntityTooLarge)
		return
	}

	cmds, err := decodeCommands(body)
	if err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, errTooManyCommands) {
			code = http.StatusRequestEntityTooLarge
		}
		writeError(w, err.Error(), code)
		return
	}

	ip := GetClientIP(r)
	accepted, failed, firstErr := submitAll(h.engine, cmds, func(c game.Command) error {
		return h.limiter.AdmitCommand(ip, c)
	})
	status := http.StatusAccepted
	if accepted == 0 {
		status = statusFor(firstErr)
	}
	writeJSONStatus(w, status, map[string]any{
		"accepted": accepted,
		"rejected": failed,
	})
}

func (h *routerHandlers) handleClearStyle(w http.ResponseWriter, r *http.Request) {
	style := chi.URLParam(r, "style")
	if err := h.engine.Submit(game.Command{Kind: game.CmdClear, Style: style}); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	recordCommands(1, 0)
	writeJSONStatus(w, http.StatusAccepted, map[string]any{"accepted": 1, "style": style})
}

func (h *routerHandlers) handleClearAll(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Submit(game.Command{Kind: game.CmdClearAll}); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	recordCommands(1, 0)
	writeJSONStatus(w, http.StatusAccepted, map[string]any{"accepted": 1})
}

var (
	errNoCommands      = errors.New("no commands")
	errTooManyCommands = errors.New("too many commands in one request")
)

// decodeCommands parses one command object or an array of them.
func decodeCommands(body []byte) ([]game.Command, error) {
	var cmds []game.Command
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &cmds); err != nil {
			return nil, fmt.Errorf("invalid command batch: %w", err)
		}
	} else {
		var one game.Command
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return nil, fmt.Errorf("invalid command: %w", err)
		}
		cmds = []game.Command{one}
	}
	if len(cmds) == 0 {
		return nil, errNoCommands
	}
	if len(cmds) > MaxCommandsPerRequest {
		return nil, errTooManyCommands
	}
	return cmds, nil
}

// submitAll queues every command independently; one rejection does not
// stop the rest. admit charges the client's spawn budget first.
func submitAll(engine EngineInterface, cmds []game.Command, admit func(game.Command) error) (int, []commandResult, error) {
	accepted := 0
	var failed []commandResult
	var firstErr error
	for i, c := range cmds {
		err := admit(c)
		if err == nil {
			err = engine.Submit(c)
		}
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			failed = append(failed, commandResult{Index: i, Error: err.Error()})
			continue
		}
		accepted++
	}
	recordCommands(accepted, len(failed))
	return accepted, failed, firstErr
}

// statusFor maps simulation errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, game.ErrUnknownStyle):
		return http.StatusNotFound
	case errors.Is(err, game.ErrLimitExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, game.ErrInvalidCommand):
		return http.StatusBadRequest
	case errors.Is(err, errSpawnBudget):
		return http.StatusTooManyRequests
	case errors.Is(err, game.ErrQueueFull), errors.Is(err, game.ErrStopped):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Helper functions (package-level for reuse)

func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

// writeJSONStatus encodes before writing so a slow client never holds a
// snapshot buffer past its reuse.
func writeJSONStatus(w http.ResponseWriter, code int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		http.Error(w, `{"error":"encode failed"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(append(body, '\n'))
}

func writeError(w http.ResponseWriter, message string, code int) {
	writeJSONStatus(w, code, map[string]string{"error": message})
}
