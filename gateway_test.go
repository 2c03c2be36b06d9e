package b23bot

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockGateway simulates a OneBot v11 WebSocket gateway. By default it
// answers get_login_info, get_group_list and every other action with ok.
type mockGateway struct {
	t        *testing.T
	upgrader websocket.Upgrader
	server   *httptest.Server

	mu       sync.Mutex
	received []outboundFrame
	conn     *websocket.Conn
	dials    int
	auth     string
	self     Identity
	groups   []GroupInfo
	reject   map[string]bool // actions answered with status "failed"
	silent   map[string]bool // actions never answered
	onAction func(f outboundFrame)
}

func newMockGateway(t *testing.T) *mockGateway {
	t.Helper()
	g := &mockGateway{
		t:        t,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		self:     Identity{UserID: 10000, Nickname: "b23"},
		groups: []GroupInfo{
			{GroupID: 200, GroupName: "second", MemberCount: 3},
			{GroupID: 100, GroupName: "first", MemberCount: 5},
		},
		reject: make(map[string]bool),
		silent: make(map[string]bool),
	}
	g.server = httptest.NewServer(http.HandlerFunc(g.handler))
	t.Cleanup(g.server.Close)
	return g
}

func (g *mockGateway) url() string {
	return "ws" + strings.TrimPrefix(g.server.URL, "http")
}

func (g *mockGateway) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	g.mu.Lock()
	g.conn = conn
	g.dials++
	g.auth = r.Header.Get("Authorization")
	g.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f outboundFrame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}

		g.mu.Lock()
		g.received = append(g.received, f)
		hook := g.onAction
		g.mu.Unlock()

		if hook != nil {
			hook(f)
		}
		g.answer(f)
	}
}

func (g *mockGateway) answer(f outboundFrame) {
	g.mu.Lock()
	silent := g.silent[f.Action]
	rejected := g.reject[f.Action]
	self, groups := g.self, g.groups
	g.mu.Unlock()
	if silent {
		return
	}

	reply := map[string]any{"status": "ok", "retcode": 0, "echo": f.Echo}
	switch {
	case rejected:
		reply = map[string]any{"status": "failed", "retcode": 1400, "message": "rejected", "echo": f.Echo}
	case f.Action == "get_login_info":
		reply["data"] = self
	case f.Action == "get_group_list":
		reply["data"] = groups
	default:
		reply["data"] = map[string]any{"message_id": 1}
	}
	g.sendJSON(reply)
}

func (g *mockGateway) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		g.t.Errorf("marshal frame: %v", err)
		return
	}
	g.sendRaw(data)
}

func (g *mockGateway) sendRaw(data []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn != nil {
		g.conn.WriteMessage(websocket.TextMessage, data)
	}
}

// dropConnection closes the socket from the gateway side.
func (g *mockGateway) dropConnection() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn != nil {
		g.conn.Close()
		g.conn = nil
	}
}

func (g *mockGateway) getReceived() []outboundFrame {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := make([]outboundFrame, len(g.received))
	copy(cp, g.received)
	return cp
}

func (g *mockGateway) actions() []string {
	var out []string
	for _, f := range g.getReceived() {
		out = append(out, f.Action)
	}
	return out
}

func (g *mockGateway) dialCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dials
}

func (g *mockGateway) authHeader() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.auth
}

func (g *mockGateway) setSilent(action string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.silent[action] = true
}

func (g *mockGateway) setReject(action string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reject[action] = true
}

func testConfig(url string) Config {
	return Config{
		URL:            url,
		SettleDelay:    time.Second,
		ReconnectDelay: 10 * time.Millisecond,
		RequestTimeout: time.Second,
		SendRate:       1000,
		SendBurst:      1000,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// errorRecorder collects BotErrors reported through WithErrorHandler.
type errorRecorder struct {
	mu   sync.Mutex
	errs []BotError
}

func (r *errorRecorder) handle(e BotError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, e)
}

func (r *errorRecorder) kinds() []ErrorKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ErrorKind, len(r.errs))
	for i, e := range r.errs {
		out[i] = e.Kind
	}
	return out
}

func (r *errorRecorder) all() []BotError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]BotError(nil), r.errs...)
}
