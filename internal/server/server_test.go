package server_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raysh454/pagewatch/internal/browser"
	"github.com/raysh454/pagewatch/internal/netlog"
	"github.com/raysh454/pagewatch/internal/server"
	"github.com/raysh454/pagewatch/internal/session"
	"github.com/raysh454/pagewatch/internal/testutil"
)

// fakeSource is a session stand-in whose state tests can move.
type fakeSource struct {
	mu    sync.Mutex
	state session.State
	rec   *netlog.Recorder
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		state: session.StateMonitoring,
		rec:   netlog.NewRecorder(netlog.Substrings("api"), netlog.Options{}, nil),
	}
}

func (f *fakeSource) Status() session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return session.Status{RunID: "run-1", TargetURL: "https://example.test/", State: f.state, Events: f.rec.Len()}
}

func (f *fakeSource) Recorder() *netlog.Recorder { return f.rec }

func (f *fakeSource) setState(s session.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = s
}

func newTestServer(t *testing.T) (*server.Server, *fakeSource) {
	t.Helper()
	src := newFakeSource()
	s := server.NewServer(server.Config{ListenAddr: "127.0.0.1:0", Logger: &testutil.DummyLogger{}}, src)
	return s, src
}

func doGet(t *testing.T, s http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON response: %v (body: %s)", err, rec.Body.String())
	}
}

// ─── REST ──────────────────────────────────────────────────────────────

func TestServer_CORS_HeaderPresent(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	rec := doGet(t, s, "/healthz")
	if origin := rec.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("expected CORS origin *, got %q", origin)
	}
}

func TestServer_Health(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	rec := doGet(t, s, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	decodeJSON(t, rec, &body)
	if body["status"] != "ok" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestServer_Run(t *testing.T) {
	t.Parallel()
	s, src := newTestServer(t)
	src.rec.ObserveRequest(browser.Request{Method: "GET", URL: "https://example.test/api/a"})

	rec := doGet(t, s, "/run")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var st map[string]any
	decodeJSON(t, rec, &st)
	if st["run_id"] != "run-1" || st["state"] != "monitoring" || st["events"] != float64(1) {
		t.Errorf("unexpected status %v", st)
	}
}

func TestServer_Events_EmptyIsArray(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	rec := doGet(t, s, "/events")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("expected empty array, got %q", rec.Body.String())
	}
}

func TestServer_Events_Snapshot(t *testing.T) {
	t.Parallel()
	s, src := newTestServer(t)
	src.rec.ObserveRequest(browser.Request{Method: "GET", URL: "https://example.test/api/a"})
	src.rec.ObserveRequest(browser.Request{Method: "GET", URL: "https://example.test/logo.png"})
	src.rec.ObserveResponse(browser.Response{Status: 200, URL: "https://example.test/api/a"})

	rec := doGet(t, s, "/events")
	var events []map[string]any
	decodeJSON(t, rec, &events)
	if len(events) != 2 {
		t.Fatalf("expected 2 filtered events, got %d", len(events))
	}
	if events[0]["type"] != "request" || events[1]["type"] != "response" {
		t.Errorf("unexpected order %v", events)
	}
}

func TestServer_UnknownRoute(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	if rec := doGet(t, s, "/projects"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

// ─── WebSocket ─────────────────────────────────────────────────────────

func dialEvents(t *testing.T, baseURL string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev map[string]any
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func TestServer_EventsWS_BacklogLiveAndClose(t *testing.T) {
	t.Parallel()
	s, src := newTestServer(t)
	ts := httptest.NewServer(s)
	defer ts.Close()

	src.rec.ObserveRequest(browser.Request{Method: "GET", URL: "https://example.test/api/before"})
	conn := dialEvents(t, ts.URL)

	if ev := readEvent(t, conn); ev["url"] != "https://example.test/api/before" {
		t.Errorf("expected backlog event first, got %v", ev)
	}

	src.rec.ObserveRequest(browser.Request{Method: "POST", URL: "https://example.test/api/after"})
	if ev := readEvent(t, conn); ev["url"] != "https://example.test/api/after" || ev["method"] != "POST" {
		t.Errorf("expected live event, got %v", ev)
	}

	src.setState(session.StateClosed)
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close once the run closed, got %v", err)
	}
}

func TestServer_Serve_ShutdownClosesStreams(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	conn := dialEvents(t, "http://"+ln.Addr().String())

	cancel()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("expected normal close on shutdown, got %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
