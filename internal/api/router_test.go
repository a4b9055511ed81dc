package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"danmaku/internal/api"
	"danmaku/internal/api/mocks"
	"danmaku/internal/config"
	"danmaku/internal/game"
	"danmaku/internal/game/vmath"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/mock/gomock"
)

// ============================================================================
// Helpers
// ============================================================================

func newTestServer(t *testing.T, engine api.EngineInterface, auth *api.TokenAuth) *httptest.Server {
	t.Helper()
	limiter := api.NewClientLimiter(api.ClientLimits{
		RequestsPerSecond: 1000,
		Burst:             1000,
		IdleAfter:         time.Hour,
	})
	t.Cleanup(limiter.Stop)

	router := api.NewRouter(api.RouterConfig{
		Engine:         engine,
		Limiter:        limiter,
		Auth:           auth,
		CellSize:       32,
		DisableLogging: true,
	})
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return ts
}

func testSnapshot() *game.WorldSnapshot {
	return &game.WorldSnapshot{
		Sequence: 7,
		Width:    100,
		Height:   50,
		Stats:    game.TickStats{Tick: 42, Bullets: 2, Pools: 1},
		Pools: []game.PoolSnapshot{
			{Style: "orb", Collider: "circle", Radius: 4, Count: 2, Bullets: []game.BulletSnapshot{
				{X: 10, Y: 10, DX: 1, Scale: 1},
				{X: 60, Y: 30, DX: 1, Scale: 1},
			}},
		},
	}
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return out
}

func postJSON(t *testing.T, url, body, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	return resp
}

// fakeSubmit rejects commands the way the engine does, keyed by style.
func fakeSubmit(cmd game.Command) error {
	switch cmd.Style {
	case "missing":
		return fmt.Errorf("%w: %q", game.ErrUnknownStyle, cmd.Style)
	case "huge":
		return game.ErrLimitExceeded
	case "busy":
		return game.ErrQueueFull
	case "bad":
		return game.ErrInvalidCommand
	}
	return nil
}

// ============================================================================
// Read-only routes
// ============================================================================

func TestHealth(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockEngineInterface(ctrl)
	engine.EXPECT().Snapshot().Return(testSnapshot())
	engine.EXPECT().Session().Return("session-1")

	ts := newTestServer(t, engine, nil)
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["tick"] != float64(42) {
		t.Errorf("Expected tick 42, got %v", body["tick"])
	}
	if body["session"] != "session-1" {
		t.Errorf("Expected session-1, got %v", body["session"])
	}
}

func TestHealthBeforeFirstSnapshot(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockEngineInterface(ctrl)
	engine.EXPECT().Snapshot().Return(nil)
	engine.EXPECT().Session().Return("s")

	ts := newTestServer(t, engine, nil)
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if body := decodeBody(t, resp); body["tick"] != float64(0) {
		t.Errorf("Expected tick 0, got %v", body["tick"])
	}
}

func TestGetStats(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockEngineInterface(ctrl)
	engine.EXPECT().Snapshot().Return(testSnapshot())
	engine.EXPECT().Session().Return("session-1")
	engine.EXPECT().Seed().Return(int64(1234))
	engine.EXPECT().QueueLen().Return(3)

	ts := newTestServer(t, engine, nil)
	resp, err := http.Get(ts.URL + "/api/stats")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	body := decodeBody(t, resp)
	if body["seed"] != float64(1234) {
		t.Errorf("Expected seed 1234, got %v", body["seed"])
	}
	if body["queued"] != float64(3) {
		t.Errorf("Expected 3 queued, got %v", body["queued"])
	}
	stats, ok := body["stats"].(map[string]any)
	if !ok {
		t.Fatal("Response should contain stats")
	}
	if stats["bullets"] != float64(2) {
		t.Errorf("Expected 2 bullets, got %v", stats["bullets"])
	}
}

func TestGetStylesSorted(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockEngineInterface(ctrl)
	engine.EXPECT().StyleNames().Return([]string{"pellet", "orb", "needle"})

	ts := newTestServer(t, engine, nil)
	resp, err := http.Get(ts.URL + "/api/styles")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Styles   []string `json:"styles"`
		Commands []string `json:"commands"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	want := []string{"needle", "orb", "pellet"}
	for i, name := range want {
		if body.Styles[i] != name {
			t.Errorf("Expected styles %v, got %v", want, body.Styles)
			break
		}
	}
	if len(body.Commands) != len(game.CommandKinds) {
		t.Errorf("Expected %d command kinds, got %d", len(game.CommandKinds), len(body.Commands))
	}
}

func TestGetPools(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockEngineInterface(ctrl)
	engine.EXPECT().Snapshot().Return(testSnapshot())

	ts := newTestServer(t, engine, nil)
	resp, err := http.Get(ts.URL + "/api/pools")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	var pools []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&pools); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(pools) != 1 {
		t.Fatalf("Expected 1 pool, got %d", len(pools))
	}
	if pools[0]["style"] != "orb" || pools[0]["count"] != float64(2) {
		t.Errorf("Unexpected pool summary %v", pools[0])
	}
	if _, ok := pools[0]["bullets"]; ok {
		t.Error("Pool summary should not carry bullets")
	}
}

func TestQueryPool(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockEngineInterface(ctrl)

	// Corners arrive swapped and are normalized before the query
	engine.EXPECT().
		QueryPool("orb", vmath.V(0, 0), vmath.V(200, 100)).
		Return([]game.BulletSnapshot{{X: 10, Y: 10}}, nil)
	engine.EXPECT().
		QueryPool("missing", gomock.Any(), gomock.Any()).
		Return(nil, fmt.Errorf("%w: %q", game.ErrUnknownStyle, "missing"))
	engine.EXPECT().
		QueryPool("shot", gomock.Any(), gomock.Any()).
		Return(nil, nil)

	ts := newTestServer(t, engine, nil)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantCount  float64
	}{
		{"swapped corners", "/api/pools/orb/query?x0=200&y0=100&x1=0&y1=0", http.StatusOK, 1},
		{"unknown style", "/api/pools/missing/query?x0=0&y0=0&x1=1&y1=1", http.StatusNotFound, 0},
		{"no pool yet", "/api/pools/shot/query?x0=0&y0=0&x1=1&y1=1", http.StatusOK, 0},
		{"missing corner", "/api/pools/orb/query?x0=0&y0=0&x1=1", http.StatusBadRequest, 0},
		{"not a number", "/api/pools/orb/query?x0=a&y0=0&x1=1&y1=1", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(ts.URL + tt.path)
			if err != nil {
				t.Fatalf("Request failed: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("Expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			body := decodeBody(t, resp)
			if body["count"] != tt.wantCount {
				t.Errorf("Expected count %v, got %v", tt.wantCount, body["count"])
			}
			if _, ok := body["bullets"].([]any); !ok {
				t.Errorf("Expected a bullets array, got %v", body["bullets"])
			}
		})
	}
}

func TestOverlay(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockEngineInterface(ctrl)
	engine.EXPECT().Snapshot().Return(testSnapshot()).AnyTimes()

	ts := newTestServer(t, engine, nil)

	tests := []struct {
		name       string
		query      string
		wantStatus int
		w, h       int
	}{
		{"native", "", http.StatusOK, 100, 50},
		{"double without grid", "?scale=2&grid=false", http.StatusOK, 200, 100},
		{"scale too large", "?scale=9", http.StatusBadRequest, 0, 0},
		{"scale not a number", "?scale=big", http.StatusBadRequest, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(ts.URL + "/api/overlay.png" + tt.query)
			if err != nil {
				t.Fatalf("Request failed: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("Expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
				t.Errorf("Expected image/png, got %q", ct)
			}
			img, err := png.Decode(resp.Body)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if b := img.Bounds(); b.Dx() != tt.w || b.Dy() != tt.h {
				t.Errorf("Expected %dx%d, got %dx%d", tt.w, tt.h, b.Dx(), b.Dy())
			}
		})
	}
}

func TestEventStats(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockEngineInterface(ctrl)
	engine.EXPECT().GetEventLogStats().Return(game.EventLogStats{
		Running: true,
		Total:   5,
		ByType:  map[string]game.EventTypeStats{"hit": {Emitted: 5}},
	})

	ts := newTestServer(t, engine, nil)
	resp, err := http.Get(ts.URL + "/api/events/stats")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if body := decodeBody(t, resp); body["total"] != float64(5) {
		t.Errorf("Expected total 5, got %v", body["total"])
	}
}

// ============================================================================
// Command routes
// ============================================================================

func TestSubmitCommands(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockEngineInterface(ctrl)
	engine.EXPECT().Submit(gomock.Any()).DoAndReturn(fakeSubmit).AnyTimes()

	ts := newTestServer(t, engine, nil)

	tests := []struct {
		name         string
		body         string
		wantStatus   int
		wantAccepted float64
		wantRejected int
	}{
		{"single", `{"kind":"ring","style":"orb","x":10,"y":10,"count":8}`, http.StatusAccepted, 1, 0},
		{"batch", `[{"kind":"spawn","style":"orb"},{"kind":"spawn","style":"pellet"}]`, http.StatusAccepted, 2, 0},
		{"partial batch", `[{"kind":"spawn","style":"orb"},{"kind":"spawn","style":"missing"}]`, http.StatusAccepted, 1, 1},
		{"unknown style", `{"kind":"spawn","style":"missing"}`, http.StatusNotFound, 0, 1},
		{"over limit", `{"kind":"ring","style":"huge","count":100000}`, http.StatusUnprocessableEntity, 0, 1},
		{"queue full", `{"kind":"spawn","style":"busy"}`, http.StatusServiceUnavailable, 0, 1},
		{"invalid command", `{"kind":"spawn","style":"bad"}`, http.StatusBadRequest, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/api/commands", tt.body, "")
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("Expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
			body := decodeBody(t, resp)
			if body["accepted"] != tt.wantAccepted {
				t.Errorf("Expected %v accepted, got %v", tt.wantAccepted, body["accepted"])
			}
			rejected, _ := body["rejected"].([]any)
			if len(rejected) != tt.wantRejected {
				t.Errorf("Expected %d rejected, got %d", tt.wantRejected, len(rejected))
			}
		})
	}
}

func TestSubmitCommandsMalformed(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockEngineInterface(ctrl)
	// No Submit expectation: malformed requests never reach the engine

	ts := newTestServer(t, engine, nil)

	many := "[" + strings.TrimSuffix(strings.Repeat(`{"kind":"spawn","style":"orb"},`, api.MaxCommandsPerRequest+1), ",") + "]"

	tests := []struct {
		name        string
		body        string
		contentType string
		wantStatus  int
	}{
		{"invalid json", `{invalid}`, "application/json", http.StatusBadRequest},
		{"empty body", ``, "application/json", http.StatusBadRequest},
		{"empty batch", `[]`, "application/json", http.StatusBadRequest},
		{"too many", many, "application/json", http.StatusRequestEntityTooLarge},
		{"wrong content type", `{"kind":"spawn"}`, "text/plain", http.StatusUnsupportedMediaType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/api/commands", tt.contentType, strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("Request failed: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("Expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
		})
	}
}

func TestClearRoutes(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockEngineInterface(ctrl)
	gomock.InOrder(
		engine.EXPECT().Submit(game.Command{Kind: game.CmdClear, Style: "orb"}).Return(nil),
		engine.EXPECT().Submit(game.Command{Kind: game.CmdClearAll}).Return(nil),
	)

	ts := newTestServer(t, engine, nil)

	for _, path := range []string{"/api/pools/orb", "/api/pools"} {
		req, _ := http.NewRequest(http.MethodDelete, ts.URL+path, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			t.Errorf("DELETE %s: expected 202, got %d", path, resp.StatusCode)
		}
	}
}

func TestAdminTokenGuardsMutations(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockEngineInterface(ctrl)
	engine.EXPECT().Submit(gomock.Any()).Return(nil).Times(1)
	engine.EXPECT().StyleNames().Return([]string{"orb"})

	ts := newTestServer(t, engine, api.NewTokenAuth("s3cret"))
	cmd := `{"kind":"spawn","style":"orb"}`

	tests := []struct {
		name       string
		token      string
		wantStatus int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"wrong token", "guess", http.StatusUnauthorized},
		{"right token", "s3cret", http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/api/commands", cmd, tt.token)
			defer resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("Expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
		})
	}

	// Reads stay open
	resp, err := http.Get(ts.URL + "/api/styles")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected reads without a token to succeed, got %d", resp.StatusCode)
	}
}

func TestRateLimiting(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockEngineInterface(ctrl)
	engine.EXPECT().StyleNames().Return([]string{"orb"}).AnyTimes()

	limiter := api.NewClientLimiter(api.ClientLimits{RequestsPerSecond: 0.001, Burst: 2, IdleAfter: time.Hour})
	t.Cleanup(limiter.Stop)
	ts := httptest.NewServer(api.NewRouter(api.RouterConfig{
		Engine:         engine,
		Limiter:        limiter,
		DisableLogging: true,
	}))
	defer ts.Close()

	var codes []int
	for range 3 {
		resp, err := http.Get(ts.URL + "/api/styles")
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("Expected [200 200 429], got %v", codes)
	}
	if stats := limiter.Stats(); stats.Requests != 1 {
		t.Errorf("Expected 1 rejection, got %d", stats.Requests)
	}
}

func TestSpawnBudget(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockEngineInterface(ctrl)
	engine.EXPECT().Submit(gomock.Any()).Return(nil).Times(2)

	limiter := api.NewClientLimiter(api.ClientLimits{
		RequestsPerSecond: 1000,
		Burst:             1000,
		BulletsPerSecond:  10,
		IdleAfter:         time.Hour,
	})
	t.Cleanup(limiter.Stop)
	ts := httptest.NewServer(api.NewRouter(api.RouterConfig{
		Engine:         engine,
		Limiter:        limiter,
		DisableLogging: true,
	}))
	defer ts.Close()

	// 8 bullets fit the budget of 10, the next ring of 8 does not, and a
	// clear costs nothing.
	body := `[{"kind":"ring","style":"orb","count":8},{"kind":"ring","style":"orb","count":8},{"kind":"clear_all"}]`
	resp, err := http.Post(ts.URL+"/api/commands", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("Expected 202, got %d", resp.StatusCode)
	}
	got := decodeBody(t, resp)
	if got["accepted"] != float64(2) {
		t.Errorf("Expected 2 accepted, got %v", got["accepted"])
	}
	rejected, _ := got["rejected"].([]any)
	if len(rejected) != 1 {
		t.Fatalf("Expected 1 rejected command, got %v", got["rejected"])
	}
	if r := rejected[0].(map[string]any); r["index"] != float64(1) {
		t.Errorf("Expected the second ring rejected, got %v", r)
	}
	if stats := limiter.Stats(); stats.Bullets != 1 {
		t.Errorf("Expected 1 spawn rejection, got %d", stats.Bullets)
	}
}

// ============================================================================
// WebSocket
// ============================================================================

// startWSServer runs a full Server router plus its hub until the test ends.
func startWSServer(t *testing.T, engine api.EngineInterface, cfg config.ServerConfig) (*httptest.Server, func()) {
	t.Helper()
	srv := api.NewServer(engine, cfg, 32)
	ts := httptest.NewServer(srv.Router())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Hub().Run(ctx)
		close(done)
	}()
	return ts, func() {
		cancel()
		<-done
		ts.Close()
		srv.Stop()
	}
}

func dialWS(t *testing.T, ts *httptest.Server, query string, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	return conn
}

// readEvent reads frames until one carries the wanted event.
func readEvent(t *testing.T, conn *websocket.Conn, want string, decode func([]byte) (map[string]any, error)) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Waiting for %s: %v", want, err)
		}
		msg, err := decode(data)
		if err != nil {
			t.Fatalf("Decode frame: %v", err)
		}
		if msg["event"] == want {
			return msg
		}
	}
}

func decodeJSONFrame(data []byte) (map[string]any, error) {
	var msg map[string]any
	err := json.Unmarshal(data, &msg)
	return msg, err
}

func decodeMsgpackFrame(data []byte) (map[string]any, error) {
	var msg map[string]any
	err := msgpack.Unmarshal(data, &msg)
	return msg, err
}

func TestWebSocketCommands(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockEngineInterface(ctrl)
	engine.EXPECT().Snapshot().Return(testSnapshot()).AnyTimes()
	engine.EXPECT().Submit(gomock.Any()).DoAndReturn(fakeSubmit).AnyTimes()

	ts, stop := startWSServer(t, engine, config.DefaultServer())
	defer stop()

	conn := dialWS(t, ts, "", nil)
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`[{"kind":"spawn","style":"orb"},{"kind":"spawn","style":"missing"}]`)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	ack := readEvent(t, conn, "commands:ack", decodeJSONFrame)
	data, _ := ack["data"].(map[string]any)
	if data["accepted"] != float64(1) {
		t.Errorf("Expected 1 accepted, got %v", data["accepted"])
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`not json`)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	readEvent(t, conn, "commands:error", decodeJSONFrame)
}

func TestWebSocketMsgpackSnapshots(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockEngineInterface(ctrl)
	engine.EXPECT().Snapshot().Return(testSnapshot()).AnyTimes()

	ts, stop := startWSServer(t, engine, config.DefaultServer())
	defer stop()

	conn := dialWS(t, ts, "?format=msgpack", nil)
	defer conn.Close()

	msg := readEvent(t, conn, "world:snapshot", decodeMsgpackFrame)
	data, ok := msg["data"].(map[string]any)
	if !ok {
		t.Fatalf("Expected snapshot data, got %T", msg["data"])
	}
	pools, _ := data["pools"].([]any)
	if len(pools) != 1 {
		t.Errorf("Expected 1 pool in the snapshot, got %d", len(pools))
	}
}

func TestWebSocketReadOnlyWithoutToken(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockEngineInterface(ctrl)
	engine.EXPECT().Snapshot().Return(testSnapshot()).AnyTimes()
	engine.EXPECT().Submit(gomock.Any()).Return(nil).Times(1)

	cfg := config.DefaultServer()
	cfg.AdminToken = "s3cret"
	ts, stop := startWSServer(t, engine, cfg)
	defer stop()

	cmd := []byte(`{"kind":"spawn","style":"orb"}`)

	viewer := dialWS(t, ts, "", nil)
	defer viewer.Close()
	viewer.WriteMessage(websocket.TextMessage, cmd)
	readEvent(t, viewer, "commands:error", decodeJSONFrame)

	admin := dialWS(t, ts, "?token=s3cret", nil)
	defer admin.Close()
	admin.WriteMessage(websocket.TextMessage, cmd)
	readEvent(t, admin, "commands:ack", decodeJSONFrame)
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockEngineInterface(ctrl)
	engine.EXPECT().Snapshot().Return(testSnapshot()).AnyTimes()

	ts, stop := startWSServer(t, engine, config.DefaultServer())
	defer stop()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	if err == nil {
		t.Fatal("Expected the dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403, got %v", resp)
	}
}

// Sanity check that bodies are encoded before the status line is sent.
func TestJSONResponsesEndWithNewline(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockEngineInterface(ctrl)
	engine.EXPECT().StyleNames().Return(nil)

	ts := newTestServer(t, engine, nil)
	resp, err := http.Get(ts.URL + "/api/styles")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	if !bytes.HasSuffix(buf.Bytes(), []byte("\n")) {
		t.Errorf("Expected a trailing newline, got %q", buf.String())
	}
}
