package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/voxlab/botserve/internal/app"
	"github.com/voxlab/botserve/internal/config"
	"github.com/voxlab/botserve/internal/domain"
	"github.com/voxlab/botserve/internal/metrics"
)

type fakeHandle struct {
	pid int

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

func newFakeHandle(pid int) *fakeHandle {
	return &fakeHandle{pid: pid, running: true, done: make(chan struct{})}
}

func (h *fakeHandle) PID() int { return h.pid }

func (h *fakeHandle) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

func (h *fakeHandle) Terminate() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		h.running = false
		close(h.done)
	}
	return nil
}

func (h *fakeHandle) Wait() error {
	<-h.done
	return nil
}

type fakeSpawner struct {
	mu      sync.Mutex
	nextPID int
	err     error
}

func (s *fakeSpawner) Spawn(cred domain.RoomCredential) (app.ProcessHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.nextPID++
	return newFakeHandle(s.nextPID), nil
}

type fakeProvisioner struct {
	mu       sync.Mutex
	rooms    int
	failWith error
}

func (p *fakeProvisioner) Provision(ctx context.Context) (domain.RoomCredential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return domain.RoomCredential{}, p.failWith
	}
	p.rooms++
	return domain.RoomCredential{
		RoomURL: domain.RoomURL(fmt.Sprintf("https://x.daily.co/room-%d", p.rooms)),
		Token:   fmt.Sprintf("token-%d", p.rooms),
	}, nil
}

func (p *fakeProvisioner) MintToken(ctx context.Context, room domain.RoomURL) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return "", p.failWith
	}
	return "token-for-" + string(room), nil
}

type testEnv struct {
	router      *gin.Engine
	registry    *app.Registry
	spawner     *fakeSpawner
	provisioner *fakeProvisioner
}

func newTestEnv(t *testing.T, maxPerRoom int) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	static := t.TempDir()
	for name, body := range map[string]string{
		"index.html":   "<html>choice</html>",
		"control.html": "<html>control</html>",
	} {
		if err := os.WriteFile(filepath.Join(static, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	cfg := &config.Config{
		Mode:       "release",
		Secret:     "test-secret",
		StaticPath: static,
		PingPeriod: time.Minute,
	}

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)
	hub := app.NewHub()
	reg := app.NewRegistry(hub, m)
	spawner := &fakeSpawner{}
	prov := &fakeProvisioner{}
	launcher := app.NewLauncher(reg, spawner, prov, maxPerRoom)
	launcher.Metrics = m

	ctrl := &Controller{
		Cfg:         cfg,
		Launcher:    launcher,
		Registry:    reg,
		Provisioner: prov,
		Hub:         hub,
		Metrics:     m,
		Gatherer:    promReg,
	}
	return &testEnv{
		router:      SetupRouter(context.Background(), ctrl),
		registry:    reg,
		spawner:     spawner,
		provisioner: prov,
	}
}

func (e *testEnv) do(t *testing.T, method, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var body map[string]any
	if ct := w.Header().Get("Content-Type"); strings.HasPrefix(ct, "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode %s %s: %v", method, target, err)
		}
	}
	return w, body
}

func TestConnect(t *testing.T) {
	env := newTestEnv(t, 1)

	w, body := env.do(t, http.MethodPost, "/connect")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body["room_url"] != "https://x.daily.co/room-1" || body["token"] != "token-1" {
		t.Fatalf("body = %v", body)
	}
}

func TestConnectProvisioningFailure(t *testing.T) {
	env := newTestEnv(t, 1)
	env.provisioner.failWith = errors.New("daily is down")

	w, _ := env.do(t, http.MethodPost, "/connect")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}

// Full activate/deactivate cycle against one room with cap 1.
func TestBotLifecycleScenario(t *testing.T) {
	env := newTestEnv(t, 1)

	// Activate with no room: provisions a fresh one.
	w, body := env.do(t, http.MethodGet, "/bot/activate")
	if w.Code != http.StatusOK || body["status"] != "bot_activated" {
		t.Fatalf("activate: code %d body %v", w.Code, body)
	}
	room := body["room_url"].(string)
	pid := int(body["bot_pid"].(float64))
	if room == "" || pid == 0 {
		t.Fatalf("activate returned room %q pid %d", room, pid)
	}

	// Same room again: cap is 1, structured error with the exact message.
	_, body = env.do(t, http.MethodGet, "/bot/activate?room_url="+room)
	if body["status"] != "error" {
		t.Fatalf("over-cap activate: %v", body)
	}
	wantMsg := "Max bot limit reached for room: " + room
	if body["message"] != wantMsg {
		t.Fatalf("message = %q, want %q", body["message"], wantMsg)
	}

	// Deactivate the room: the pid comes back as stopped.
	_, body = env.do(t, http.MethodGet, "/bot/deactivate?room_url="+room)
	if body["status"] != "bot_deactivated" {
		t.Fatalf("deactivate: %v", body)
	}
	stopped := body["stopped_bots"].([]any)
	if len(stopped) != 1 || int(stopped[0].(float64)) != pid {
		t.Fatalf("stopped_bots = %v, want [%d]", stopped, pid)
	}

	// The entry is still probeable and reports finished, not 404.
	w, body = env.do(t, http.MethodGet, fmt.Sprintf("/status/%d", pid))
	if w.Code != http.StatusOK || body["status"] != "finished" {
		t.Fatalf("status after deactivate: code %d body %v", w.Code, body)
	}

	// The slot is free again.
	_, body = env.do(t, http.MethodGet, "/bot/activate?room_url="+room)
	if body["status"] != "bot_activated" {
		t.Fatalf("re-activate: %v", body)
	}
	if newPID := int(body["bot_pid"].(float64)); newPID == pid {
		t.Fatalf("re-activate reused pid %d", newPID)
	}
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t, 1)

	w, _ := env.do(t, http.MethodGet, "/status/12345")
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown pid status = %d, want 404", w.Code)
	}

	w, _ = env.do(t, http.MethodGet, "/status/not-a-pid")
	if w.Code != http.StatusNotFound {
		t.Fatalf("bad pid status = %d, want 404", w.Code)
	}

	_, body := env.do(t, http.MethodGet, "/bot/activate")
	pid := int(body["bot_pid"].(float64))

	w, body = env.do(t, http.MethodGet, fmt.Sprintf("/status/%d", pid))
	if w.Code != http.StatusOK || body["status"] != "running" {
		t.Fatalf("status = %d body %v", w.Code, body)
	}
}

func TestDeactivateWithoutRoomIsNoOp(t *testing.T) {
	env := newTestEnv(t, 1)

	_, body := env.do(t, http.MethodGet, "/bot/activate")
	pid := int(body["bot_pid"].(float64))

	_, body = env.do(t, http.MethodGet, "/bot/deactivate")
	if body["status"] != "bot_deactivated" {
		t.Fatalf("deactivate: %v", body)
	}
	if _, ok := body["stopped_bots"]; ok {
		t.Fatalf("no-op deactivate stopped bots: %v", body)
	}

	// The running bot was not touched.
	_, body = env.do(t, http.MethodGet, fmt.Sprintf("/status/%d", pid))
	if body["status"] != "running" {
		t.Fatalf("bot state after no-op deactivate: %v", body)
	}
}

func TestActivateSpawnFailure(t *testing.T) {
	env := newTestEnv(t, 1)
	env.spawner.err = errors.New("exec format error")

	w, body := env.do(t, http.MethodGet, "/bot/activate")
	if w.Code != http.StatusInternalServerError || body["status"] != "error" {
		t.Fatalf("code %d body %v", w.Code, body)
	}
}

func TestListBots(t *testing.T) {
	env := newTestEnv(t, 2)

	env.do(t, http.MethodGet, "/bot/activate")
	env.do(t, http.MethodGet, "/bot/activate")

	_, body := env.do(t, http.MethodGet, "/bots")
	bots := body["bots"].([]any)
	if len(bots) != 2 {
		t.Fatalf("bots = %v, want 2 entries", bots)
	}
}

func TestLandingPages(t *testing.T) {
	env := newTestEnv(t, 1)

	w, _ := env.do(t, http.MethodGet, "/")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "choice") {
		t.Fatalf("landing: code %d body %q", w.Code, w.Body.String())
	}

	w, _ = env.do(t, http.MethodGet, "/?control=true")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "control") {
		t.Fatalf("control page: code %d body %q", w.Code, w.Body.String())
	}
}

func TestLandingAutobotRedirects(t *testing.T) {
	env := newTestEnv(t, 1)

	w, _ := env.do(t, http.MethodGet, "/?autobot=true")
	if w.Code != http.StatusFound {
		t.Fatalf("autobot: code %d, want 302", w.Code)
	}
	loc := w.Header().Get("Location")
	if loc != "https://x.daily.co/room-1" {
		t.Fatalf("redirect location = %q", loc)
	}
	if got := env.registry.LiveRoomCount(domain.RoomURL(loc)); got != 1 {
		t.Fatalf("live count in new room = %d, want 1", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, 1)
	env.do(t, http.MethodGet, "/bot/activate")

	w, _ := env.do(t, http.MethodGet, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: code %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "botserve_bots_started_total 1") {
		t.Fatal("metrics output missing bot start counter")
	}
}

func TestEventsWebsocket(t *testing.T) {
	env := newTestEnv(t, 1)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the handler a moment to register the subscription.
	time.Sleep(50 * time.Millisecond)

	resp, err := http.Get(srv.URL + "/bot/activate")
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev app.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != app.EventBotStarted || ev.BotPID == 0 {
		t.Fatalf("event = %+v", ev)
	}
}
