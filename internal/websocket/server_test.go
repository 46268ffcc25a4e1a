package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yegors/atc-scanner/internal/scanner"
	"github.com/yegors/atc-scanner/pkg/logger"
)

type fakeController struct {
	mu       sync.Mutex
	running  bool
	started  []map[string]interface{}
	startErr error
}

func (f *fakeController) Start(_ context.Context, partial map[string]interface{}) (scanner.StartResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return scanner.StartResult{}, f.startErr
	}
	f.started = append(f.started, partial)
	f.running = true
	return scanner.StartResult{Status: scanner.StatusStarted}, nil
}

func (f *fakeController) Stop() scanner.StopResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	return scanner.StopResult{Status: scanner.StatusStopped}
}

func (f *fakeController) Status() scanner.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return scanner.Status{Running: f.running, Settings: map[string]interface{}{}}
}

func (f *fakeController) UpdateSettings(partial map[string]interface{}) (scanner.UpdateResult, error) {
	if _, ok := partial["volume"].(string); ok {
		return scanner.UpdateResult{}, &scanner.SettingsError{Key: "volume", Reason: "must be a number"}
	}
	return scanner.UpdateResult{Status: scanner.StatusUpdated}, nil
}

type frame struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func newTestServer(t *testing.T, ctrl Controller) (*Server, *websocket.Conn) {
	t.Helper()
	srv := NewServer(ctrl, nil, logger.NewNop())
	ts := httptest.NewServer(http.HandlerFunc(srv.HandleWebSocket))
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return srv, conn
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return f
}

func TestServer_SendsStatusOnConnect(t *testing.T) {
	_, conn := newTestServer(t, &fakeController{})

	f := readFrame(t, conn)
	if f.Type != TypeStatusUpdate {
		t.Fatalf("expected status_update, got %q", f.Type)
	}
	var st scanner.Status
	if err := json.Unmarshal(f.Data, &st); err != nil {
		t.Fatalf("bad status payload: %v", err)
	}
	if st.Running {
		t.Error("expected stopped status")
	}
}

func TestServer_Commands(t *testing.T) {
	ctrl := &fakeController{}
	_, conn := newTestServer(t, ctrl)
	readFrame(t, conn)

	if err := conn.WriteJSON(map[string]interface{}{
		"type":     TypeStartScanner,
		"settings": map[string]interface{}{"vfr_only": true},
	}); err != nil {
		t.Fatal(err)
	}
	f := readFrame(t, conn)
	if f.Type != TypeStatusUpdate || !strings.Contains(string(f.Data), `"running":true`) {
		t.Fatalf("expected running status after start, got %s %s", f.Type, f.Data)
	}

	ctrl.mu.Lock()
	if len(ctrl.started) != 1 || ctrl.started[0]["vfr_only"] != true {
		t.Errorf("settings not passed to Start: %v", ctrl.started)
	}
	ctrl.mu.Unlock()

	conn.WriteJSON(map[string]interface{}{"type": TypeStopScanner})
	f = readFrame(t, conn)
	if f.Type != TypeStatusUpdate || !strings.Contains(string(f.Data), `"running":false`) {
		t.Fatalf("expected stopped status, got %s %s", f.Type, f.Data)
	}

	conn.WriteJSON(map[string]interface{}{"type": TypeGetStatus})
	if f = readFrame(t, conn); f.Type != TypeStatusUpdate {
		t.Fatalf("expected status_update, got %q", f.Type)
	}
}

func TestServer_ErrorReplies(t *testing.T) {
	ctrl := &fakeController{startErr: errors.New("bad settings")}
	_, conn := newTestServer(t, ctrl)
	readFrame(t, conn)

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"invalid json", `{not json`, "invalid message"},
		{"unknown type", `{"type":"rewind"}`, "unknown message type"},
		{"start fails", `{"type":"start_scanner"}`, "bad settings"},
		{"bad settings", `{"type":"update_settings","settings":{"volume":"loud"}}`, "volume"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.raw)); err != nil {
				t.Fatal(err)
			}
			f := readFrame(t, conn)
			if f.Type != TypeError || !strings.Contains(f.Message, tt.want) {
				t.Errorf("expected error containing %q, got %+v", tt.want, f)
			}
		})
	}
}

func TestServer_BroadcastsEvents(t *testing.T) {
	srv, conn := newTestServer(t, &fakeController{})
	readFrame(t, conn)

	deadline := time.Now().Add(2 * time.Second)
	for srv.ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	err := srv.Notify(scanner.Event{
		Type: scanner.EventNewTransmission,
		Data: scanner.AudioRecord{ID: 77, Airport: "KPHX"},
	})
	if err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	f := readFrame(t, conn)
	if f.Type != string(scanner.EventNewTransmission) {
		t.Fatalf("expected new_transmission, got %q", f.Type)
	}
	var rec scanner.AudioRecord
	if err := json.Unmarshal(f.Data, &rec); err != nil || rec.ID != 77 {
		t.Errorf("unexpected record %s (%v)", f.Data, err)
	}
}

func TestServer_CloseDisconnectsClients(t *testing.T) {
	srv, conn := newTestServer(t, &fakeController{})
	readFrame(t, conn)

	srv.Close()
	if srv.ClientCount() != 0 {
		t.Errorf("expected no clients, got %d", srv.ClientCount())
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected connection to be closed")
	}
}

func TestOriginAllowed(t *testing.T) {
	tests := []struct {
		origin  string
		allowed []string
		want    bool
	}{
		{"", []string{"http://a"}, true},
		{"http://a", nil, true},
		{"http://a", []string{"http://a"}, true},
		{"http://b", []string{"http://a"}, false},
		{"http://b", []string{"*"}, true},
	}
	for _, tt := range tests {
		if got := OriginAllowed(tt.origin, tt.allowed); got != tt.want {
			t.Errorf("OriginAllowed(%q, %v) = %v, want %v", tt.origin, tt.allowed, got, tt.want)
		}
	}
}
