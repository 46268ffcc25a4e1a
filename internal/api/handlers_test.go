package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/yegors/atc-scanner/internal/config"
	"github.com/yegors/atc-scanner/internal/scanner"
	"github.com/yegors/atc-scanner/internal/storage/sqlite"
	"github.com/yegors/atc-scanner/internal/websocket"
	"github.com/yegors/atc-scanner/pkg/logger"
)

type fakeScanner struct {
	mu      sync.Mutex
	running bool
	partial map[string]interface{}
	queue   []scanner.AudioRecord
}

func (f *fakeScanner) Start(_ context.Context, partial map[string]interface{}) (scanner.StartResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := partial["volume"]; ok {
		if _, isNum := v.(float64); !isNum {
			return scanner.StartResult{}, &scanner.SettingsError{Key: "volume", Reason: "must be a number"}
		}
	}
	if f.running {
		return scanner.StartResult{Status: scanner.StatusAlreadyRunning}, nil
	}
	f.running = true
	f.partial = partial
	return scanner.StartResult{Status: scanner.StatusStarted, Settings: partial}, nil
}

func (f *fakeScanner) Stop() scanner.StopResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return scanner.StopResult{Status: scanner.StatusNotRunning}
	}
	f.running = false
	return scanner.StopResult{Status: scanner.StatusStopped}
}

func (f *fakeScanner) Status() scanner.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return scanner.Status{Running: f.running, QueueSize: len(f.queue)}
}

func (f *fakeScanner) UpdateSettings(partial map[string]interface{}) (scanner.UpdateResult, error) {
	if _, ok := partial["fetch_interval"].(string); ok {
		return scanner.UpdateResult{}, &scanner.SettingsError{Key: "fetch_interval", Reason: "must be a whole number"}
	}
	return scanner.UpdateResult{Status: scanner.StatusUpdated, Settings: partial}, nil
}

func (f *fakeScanner) NextAudio() (scanner.AudioRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return scanner.AudioRecord{}, false
	}
	rec := f.queue[0]
	f.queue = f.queue[1:]
	return rec, true
}

type fakeHistory struct {
	lastLimit   int
	lastAirport string
	err         error
}

func (f *fakeHistory) GetRecentTransmissions(limit int) ([]*sqlite.TransmissionRecord, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return []*sqlite.TransmissionRecord{{TransmissionID: 9, Airport: "KPHX"}}, nil
}

func (f *fakeHistory) GetTransmissionsByAirport(airport string, limit int) ([]*sqlite.TransmissionRecord, error) {
	f.lastAirport = airport
	f.lastLimit = limit
	return []*sqlite.TransmissionRecord{}, nil
}

func (f *fakeHistory) GetRecentSessions(limit int) ([]*sqlite.SessionRecord, error) {
	f.lastLimit = limit
	return []*sqlite.SessionRecord{{ID: 1, TransmissionsCount: 4}}, nil
}

func newTestRouter(svc *fakeScanner, history *fakeHistory) http.Handler {
	cfg := config.Default()
	log := logger.NewNop()
	ws := websocket.NewServer(svc, nil, log)

	var transmissions TransmissionHistory
	var sessions SessionHistory
	if history != nil {
		transmissions, sessions = history, history
	}
	return NewRouter(svc, transmissions, sessions, ws, cfg, log).Routes()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("response is not a JSON object: %v (%s)", err, rr.Body.String())
	}
	return m
}

func TestStartStop(t *testing.T) {
	svc := &fakeScanner{}
	h := newTestRouter(svc, nil)

	rr := do(t, h, http.MethodPost, "/api/v1/scanner/start", `{"vfr_only": true}`)
	if rr.Code != http.StatusOK || decode(t, rr)["status"] != scanner.StatusStarted {
		t.Fatalf("unexpected start response %d %s", rr.Code, rr.Body.String())
	}
	if svc.partial["vfr_only"] != true {
		t.Errorf("settings not forwarded: %v", svc.partial)
	}

	rr = do(t, h, http.MethodPost, "/api/v1/scanner/start", "")
	if decode(t, rr)["status"] != scanner.StatusAlreadyRunning {
		t.Errorf("expected already_running, got %s", rr.Body.String())
	}

	rr = do(t, h, http.MethodPost, "/api/v1/scanner/stop", "")
	if decode(t, rr)["status"] != scanner.StatusStopped {
		t.Errorf("expected stopped, got %s", rr.Body.String())
	}
	rr = do(t, h, http.MethodPost, "/api/v1/scanner/stop", "")
	if decode(t, rr)["status"] != scanner.StatusNotRunning {
		t.Errorf("expected not_running, got %s", rr.Body.String())
	}
}

func TestBadRequests(t *testing.T) {
	h := newTestRouter(&fakeScanner{}, nil)

	tests := []struct {
		name string
		path string
		body string
	}{
		{"malformed start body", "/api/v1/scanner/start", `{"volume":`},
		{"invalid start settings", "/api/v1/scanner/start", `{"volume":"loud"}`},
		{"malformed settings body", "/api/v1/scanner/settings", `[1,2`},
		{"empty settings body", "/api/v1/scanner/settings", ""},
		{"invalid settings", "/api/v1/scanner/settings", `{"fetch_interval":"soon"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, h, http.MethodPost, tt.path, tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
			m := decode(t, rr)
			if m["status"] != "error" || m["message"] == "" {
				t.Errorf("unexpected error body %v", m)
			}
		})
	}
}

func TestUpdateSettings(t *testing.T) {
	h := newTestRouter(&fakeScanner{}, nil)

	rr := do(t, h, http.MethodPost, "/api/v1/scanner/settings", `{"geo_filter": true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	m := decode(t, rr)
	if m["status"] != scanner.StatusUpdated {
		t.Errorf("unexpected body %v", m)
	}
}

func TestNextAudio(t *testing.T) {
	svc := &fakeScanner{queue: []scanner.AudioRecord{{ID: 5, URL: "https://x/5.mp3"}}}
	h := newTestRouter(svc, nil)

	rr := do(t, h, http.MethodGet, "/api/v1/scanner/next", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if m := decode(t, rr); m["id"] != float64(5) {
		t.Errorf("unexpected record %v", m)
	}

	rr = do(t, h, http.MethodGet, "/api/v1/scanner/next", "")
	if rr.Code != http.StatusNoContent {
		t.Errorf("expected 204 on empty queue, got %d", rr.Code)
	}
}

func TestStatusAndHealth(t *testing.T) {
	h := newTestRouter(&fakeScanner{running: true}, nil)

	rr := do(t, h, http.MethodGet, "/api/v1/scanner/status", "")
	if m := decode(t, rr); m["running"] != true {
		t.Errorf("unexpected status %v", m)
	}

	rr = do(t, h, http.MethodGet, "/api/v1/health", "")
	m := decode(t, rr)
	if m["status"] != "ok" || m["scanner_running"] != true || m["storage_enabled"] != false {
		t.Errorf("unexpected health %v", m)
	}
}

func TestTransmissions(t *testing.T) {
	history := &fakeHistory{}
	h := newTestRouter(&fakeScanner{}, history)

	rr := do(t, h, http.MethodGet, "/api/v1/scanner/transmissions", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if history.lastLimit != config.Default().Storage.RecentLimit {
		t.Errorf("expected default limit, got %d", history.lastLimit)
	}
	var list []map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil || len(list) != 1 || list[0]["id"] != float64(9) {
		t.Errorf("unexpected list %s (%v)", rr.Body.String(), err)
	}

	do(t, h, http.MethodGet, "/api/v1/scanner/transmissions?limit=5000&airport=kphx", "")
	if history.lastLimit != maxListLimit || history.lastAirport != "KPHX" {
		t.Errorf("expected capped limit and normalized airport, got %d %q", history.lastLimit, history.lastAirport)
	}

	rr = do(t, h, http.MethodGet, "/api/v1/scanner/transmissions?limit=abc", "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", rr.Code)
	}

	history.err = errors.New("disk full")
	rr = do(t, h, http.MethodGet, "/api/v1/scanner/transmissions", "")
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rr.Code)
	}

	rr = do(t, h, http.MethodGet, "/api/v1/scanner/sessions?limit=3", "")
	if rr.Code != http.StatusOK || history.lastLimit != 3 {
		t.Errorf("unexpected sessions response %d limit=%d", rr.Code, history.lastLimit)
	}
}

func TestHistoryDisabled(t *testing.T) {
	h := newTestRouter(&fakeScanner{}, nil)

	for _, path := range []string{"/api/v1/scanner/transmissions", "/api/v1/scanner/sessions"} {
		rr := do(t, h, http.MethodGet, path, "")
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: expected 503, got %d", path, rr.Code)
		}
	}
}

func TestCORS(t *testing.T) {
	cfg := config.Default()
	cfg.Server.CORSAllowedOrigins = []string{"http://allowed.test"}
	log := logger.NewNop()
	svc := &fakeScanner{}
	h := NewRouter(svc, nil, nil, websocket.NewServer(svc, nil, log), cfg, log).Routes()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/scanner/status", nil)
	req.Header.Set("Origin", "http://allowed.test")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || rr.Header().Get("Access-Control-Allow-Origin") != "http://allowed.test" {
		t.Errorf("preflight failed: %d %v", rr.Code, rr.Header())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/scanner/status", nil)
	req.Header.Set("Origin", "http://other.test")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("disallowed origin should not get CORS headers")
	}
}

func TestCORS_OpenWhenNoOriginsConfigured(t *testing.T) {
	h := newTestRouter(&fakeScanner{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/scanner/status", nil)
	req.Header.Set("Origin", "http://anywhere.test")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Header().Get("Access-Control-Allow-Origin") != "http://anywhere.test" {
		t.Errorf("expected origin echoed, got %q", rr.Header().Get("Access-Control-Allow-Origin"))
	}

	// Same-origin requests carry no Origin header and get no CORS headers
	req = httptest.NewRequest(http.MethodGet, "/api/v1/scanner/status", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if _, ok := rr.Header()["Access-Control-Allow-Origin"]; ok {
		t.Error("no CORS headers expected without an Origin")
	}
}
