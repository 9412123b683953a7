package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/petal-ejector/petal-controller/internal/config"
	"github.com/petal-ejector/petal-controller/internal/device"
	"github.com/petal-ejector/petal-controller/internal/models"
	"github.com/petal-ejector/petal-controller/internal/session"
	"github.com/petal-ejector/petal-controller/pkg/crypto"
)

func newTestServer(t *testing.T, cfg *config.Config) (*httptest.Server, *session.Controller) {
	t.Helper()

	quick := session.Delays{Connect: 2 * time.Millisecond, Activate: time.Millisecond, Reset: time.Millisecond}
	ctrl := session.New(session.Options{
		Factory: session.NewExecutorFactory(func() *device.Client {
			return device.NewClient(http.DefaultClient, device.DefaultPort)
		}, quick, quick),
		PollInterval: time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ctrl.Run(ctx)
	}()

	rest := NewRESTServer(cfg, ctrl)
	ts := httptest.NewServer(rest.Handler())

	t.Cleanup(func() {
		rest.Hub().Close()
		ts.Close()
		cancel()
		<-stopped
	})
	return ts, ctrl
}

func call(t *testing.T, ts *httptest.Server, method, path, token string, body interface{}) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, data
}

func snapshot(t *testing.T, data []byte) models.SessionSnapshot {
	t.Helper()
	var snap models.SessionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("decode snapshot %s: %v", data, err)
	}
	return snap
}

func waitSnapshot(t *testing.T, ts *httptest.Server, what string, cond func(models.SessionSnapshot) bool) models.SessionSnapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		_, data := call(t, ts, http.MethodGet, "/api/v1/session", "", nil)
		if snap := snapshot(t, data); cond(snap) {
			return snap
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
	return models.SessionSnapshot{}
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t, config.Default())

	code, data := call(t, ts, http.MethodGet, "/api/v1/health", "", nil)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if !strings.Contains(string(data), `"healthy"`) {
		t.Fatalf("body = %s", data)
	}
}

func TestSessionInitialSnapshot(t *testing.T) {
	ts, _ := newTestServer(t, config.Default())

	code, data := call(t, ts, http.MethodGet, "/api/v1/session", "", nil)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	snap := snapshot(t, data)
	if snap.Mode != "" || snap.Connection != "disconnected" || snap.Remaining != session.MotorCount {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestSelectModeValidation(t *testing.T) {
	ts, _ := newTestServer(t, config.Default())

	tests := []struct {
		name string
		body interface{}
		code int
	}{
		{"network", map[string]string{"mode": "network"}, http.StatusOK},
		{"unknown", map[string]string{"mode": "telepathy"}, http.StatusBadRequest},
		{"missing", map[string]string{}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, data := call(t, ts, http.MethodPost, "/api/v1/session/mode", "", tt.body)
			if code != tt.code {
				t.Fatalf("status = %d, body = %s", code, data)
			}
		})
	}

	code, _ := call(t, ts, http.MethodPost, "/api/v1/session/mode", "", nil)
	if code != http.StatusBadRequest {
		t.Fatalf("empty body status = %d", code)
	}
}

func TestSimulationCycleOverHTTP(t *testing.T) {
	ts, _ := newTestServer(t, config.Default())

	call(t, ts, http.MethodPost, "/api/v1/session/mode", "", map[string]string{"mode": "network"})
	code, data := call(t, ts, http.MethodPost, "/api/v1/session/connect", "", map[string]string{"address": session.SimulationAddress})
	if code != http.StatusOK {
		t.Fatalf("connect status = %d", code)
	}
	if snap := snapshot(t, data); snap.Connection != "connecting" {
		t.Fatalf("connect snapshot = %+v", snap)
	}

	snap := waitSnapshot(t, ts, "connected", func(s models.SessionSnapshot) bool { return s.Connection == "connected" })
	if !snap.Simulation || snap.Polling {
		t.Fatalf("snapshot = %+v", snap)
	}

	for i := 1; i <= session.MotorCount; i++ {
		call(t, ts, http.MethodPost, "/api/v1/session/activate", "", nil)
		want := i
		waitSnapshot(t, ts, "activation", func(s models.SessionSnapshot) bool { return s.CurrentMotor == want && s.Pending == "" })
	}

	snap = waitSnapshot(t, ts, "cycle complete", func(s models.SessionSnapshot) bool { return s.CanReset })
	if snap.CanActivate || snap.Remaining != 0 {
		t.Fatalf("snapshot = %+v", snap)
	}

	call(t, ts, http.MethodPost, "/api/v1/session/reset", "", nil)
	waitSnapshot(t, ts, "reset", func(s models.SessionSnapshot) bool { return s.CurrentMotor == 0 && s.Pending == "" })

	code, data = call(t, ts, http.MethodPost, "/api/v1/session/connect", "", nil)
	if code != http.StatusOK || snapshot(t, data).Connection != "disconnected" {
		t.Fatalf("disconnect status = %d, body = %s", code, data)
	}
}

func TestKeyboardOverHTTP(t *testing.T) {
	ts, _ := newTestServer(t, config.Default())

	call(t, ts, http.MethodPost, "/api/v1/session/mode", "", map[string]string{"mode": "keyboard"})
	_, data := call(t, ts, http.MethodPost, "/api/v1/session/keyboard", "", nil)
	if snap := snapshot(t, data); !snap.KeyboardActive {
		t.Fatalf("snapshot = %+v", snap)
	}

	code, _ := call(t, ts, http.MethodPost, "/api/v1/session/keys", "", map[string]string{"key": "space"})
	if code != http.StatusOK {
		t.Fatalf("key status = %d", code)
	}
	waitSnapshot(t, ts, "first petal", func(s models.SessionSnapshot) bool { return s.CurrentMotor == 1 && s.Pending == "" })

	code, _ = call(t, ts, http.MethodPost, "/api/v1/session/keys", "", map[string]string{})
	if code != http.StatusBadRequest {
		t.Fatalf("missing key status = %d", code)
	}

	_, data = call(t, ts, http.MethodPost, "/api/v1/session/back", "", nil)
	if snap := snapshot(t, data); snap.Mode != "" || snap.KeyboardActive {
		t.Fatalf("snapshot after back = %+v", snap)
	}
}

func TestLogEndpoints(t *testing.T) {
	ts, ctrl := newTestServer(t, config.Default())
	call(t, ts, http.MethodPost, "/api/v1/session/mode", "", map[string]string{"mode": "network"})

	code, data := call(t, ts, http.MethodGet, "/api/v1/log", "", nil)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var body struct {
		Entries []models.LogEntry `json:"entries"`
		Total   int               `json:"total"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatal(err)
	}
	if body.Total != 4 || body.Entries[2].Message != "Web controller mode selected" {
		t.Fatalf("log = %+v", body)
	}

	_, data = call(t, ts, http.MethodGet, "/api/v1/log?since="+body.Entries[2].ID.String(), "", nil)
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatal(err)
	}
	if body.Total != 1 || body.Entries[0].Message != "Enter the Raspberry Pi IP address to connect" {
		t.Fatalf("since = %+v", body)
	}

	code, _ = call(t, ts, http.MethodGet, "/api/v1/log?since=nope", "", nil)
	if code != http.StatusBadRequest {
		t.Fatalf("bad since status = %d", code)
	}

	_, data = call(t, ts, http.MethodGet, "/api/v1/log?format=text", "", nil)
	if !strings.Contains(string(data), "] Web controller mode selected\n") {
		t.Fatalf("text log = %q", data)
	}

	code, _ = call(t, ts, http.MethodDelete, "/api/v1/log", "", nil)
	if code != http.StatusNoContent {
		t.Fatalf("clear status = %d", code)
	}
	if ctrl.Log().Len() != 0 {
		t.Fatal("log not cleared")
	}
}

func TestAuth(t *testing.T) {
	hash, err := crypto.HashPassword("rose")
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Auth.Secret = "enchanted"
	cfg.Auth.PasswordHash = hash

	ts, _ := newTestServer(t, cfg)

	if code, _ := call(t, ts, http.MethodGet, "/api/v1/session", "", nil); code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d", code)
	}
	if code, _ := call(t, ts, http.MethodGet, "/api/v1/health", "", nil); code != http.StatusOK {
		t.Fatalf("health must stay public, got %d", code)
	}

	code, _ := call(t, ts, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "operator", "password": "thorn"})
	if code != http.StatusUnauthorized {
		t.Fatalf("bad login status = %d", code)
	}

	code, data := call(t, ts, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "operator", "password": "rose"})
	if code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", code, data)
	}
	var login struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatal(err)
	}
	if login.AccessToken == "" || login.TokenType != "Bearer" {
		t.Fatalf("login = %+v", login)
	}

	if code, _ := call(t, ts, http.MethodGet, "/api/v1/session", login.AccessToken, nil); code != http.StatusOK {
		t.Fatalf("bearer status = %d", code)
	}
	if code, _ := call(t, ts, http.MethodGet, "/api/v1/session?token="+login.AccessToken, "", nil); code != http.StatusOK {
		t.Fatalf("query token status = %d", code)
	}
	if code, _ := call(t, ts, http.MethodGet, "/api/v1/session", "forged", nil); code != http.StatusUnauthorized {
		t.Fatalf("forged token status = %d", code)
	}
}

func TestLoginDisabled(t *testing.T) {
	ts, _ := newTestServer(t, config.Default())

	code, _ := call(t, ts, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "operator", "password": "rose"})
	if code != http.StatusNotFound {
		t.Fatalf("status = %d", code)
	}
}

func TestStream(t *testing.T) {
	ts, _ := newTestServer(t, config.Default())

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var hello struct {
		Type string `json:"type"`
		Data Hello  `json:"data"`
	}
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if hello.Type != MessageHello || len(hello.Data.Log) != 2 || hello.Data.Session.Connection != "disconnected" {
		t.Fatalf("hello = %+v", hello)
	}

	call(t, ts, http.MethodPost, "/api/v1/session/mode", "", map[string]string{"mode": "keyboard"})

	seen := map[string]int{}
	for seen[MessageState] == 0 {
		var msg StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v (seen %v)", err, seen)
		}
		seen[msg.Type]++
	}
	if seen[MessageLog] != 3 {
		t.Fatalf("log frames = %d, want 3", seen[MessageLog])
	}

	if err := conn.WriteJSON(map[string]string{"type": "key", "key": "x"}); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestStreamAfterEmptyAddress(t *testing.T) {
	ts, _ := newTestServer(t, config.Default())

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var msg StreamMessage
	conn.ReadJSON(&msg)

	call(t, ts, http.MethodPost, "/api/v1/session/mode", "", map[string]string{"mode": "network"})
	call(t, ts, http.MethodPost, "/api/v1/session/connect", "", map[string]string{"address": "  "})

	for {
		var frame struct {
			Type string              `json:"type"`
			Data models.Notification `json:"data"`
		}
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read: %v", err)
		}
		if frame.Type == MessageNotification {
			if frame.Data.Message != "Please enter an IP address" {
				t.Fatalf("notification = %+v", frame.Data)
			}
			return
		}
	}
}

func TestStreamRejectsForeignOrigin(t *testing.T) {
	cfg := config.Default()
	cfg.API.AllowedOrigins = []string{"http://stage.local"}
	ts, _ := newTestServer(t, cfg)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/stream"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"http://evil.example"}})
	if err == nil {
		t.Fatal("foreign origin accepted")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("response = %+v", resp)
	}
}

func TestWebUI(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>petals</h1>"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Web.StaticDir = dir
	ts, _ := newTestServer(t, cfg)

	for _, path := range []string{"/", "/controller"} {
		code, data := call(t, ts, http.MethodGet, path, "", nil)
		if code != http.StatusOK || string(data) != "<h1>petals</h1>" {
			t.Fatalf("GET %s = %d %q", path, code, data)
		}
	}
	if code, _ := call(t, ts, http.MethodGet, "/api/v1/health", "", nil); code != http.StatusOK {
		t.Fatalf("api behind web ui status = %d", code)
	}
}
