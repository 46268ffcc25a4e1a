package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/yegors/atc-scanner/internal/config"
	"github.com/yegors/atc-scanner/internal/scanner"
	"github.com/yegors/atc-scanner/internal/storage/sqlite"
	"github.com/yegors/atc-scanner/internal/websocket"
	"github.com/yegors/atc-scanner/pkg/logger"
)

const (
	maxBodyBytes = 64 * 1024
	maxListLimit = 500
)

// Scanner is the service surface the HTTP API drives
type Scanner interface {
	Start(ctx context.Context, partial map[string]interface{}) (scanner.StartResult, error)
	Stop() scanner.StopResult
	Status() scanner.Status
	UpdateSettings(partial map[string]interface{}) (scanner.UpdateResult, error)
	NextAudio() (scanner.AudioRecord, bool)
}

// TransmissionHistory reads stored transmissions
type TransmissionHistory interface {
	GetRecentTransmissions(limit int) ([]*sqlite.TransmissionRecord, error)
	GetTransmissionsByAirport(airport string, limit int) ([]*sqlite.TransmissionRecord, error)
}

// SessionHistory reads stored scanner sessions
type SessionHistory interface {
	GetRecentSessions(limit int) ([]*sqlite.SessionRecord, error)
}

// Handler contains the HTTP handlers. Histories are nil when storage is disabled.
type Handler struct {
	scanner       Scanner
	transmissions TransmissionHistory
	sessions      SessionHistory
	wsServer      *websocket.Server
	config        *config.Config
	startTime     time.Time
	logger        *logger.Logger
}

// NewHandler creates a new handler
func NewHandler(svc Scanner, transmissions TransmissionHistory, sessions SessionHistory, wsServer *websocket.Server, cfg *config.Config, log *logger.Logger) *Handler {
	return &Handler{
		scanner:       svc,
		transmissions: transmissions,
		sessions:      sessions,
		wsServer:      wsServer,
		config:        cfg,
		startTime:     time.Now(),
		logger:        log.Named("api-handler"),
	}
}

// StartScanner starts the scanner with optional settings in the body
func (h *Handler) StartScanner(w http.ResponseWriter, r *http.Request) {
	partial, err := decodeSettings(r)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	result, err := h.scanner.Start(r.Context(), partial)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// StopScanner stops the scanner
func (h *Handler) StopScanner(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scanner.Stop())
}

// GetStatus returns the scanner status
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scanner.Status())
}

// UpdateSettings merges the body into the live settings
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	partial, err := decodeSettings(r)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if partial == nil {
		h.writeError(w, r, http.StatusBadRequest, errors.New("settings body is required"))
		return
	}

	result, err := h.scanner.UpdateSettings(partial)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetNextAudio dequeues the next accepted transmission
func (h *Handler) GetNextAudio(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.scanner.NextAudio()
	if !ok {
		writeJSON(w, http.StatusNoContent, map[string]string{"status": "no_audio"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetTransmissions lists stored transmissions, newest first
func (h *Handler) GetTransmissions(w http.ResponseWriter, r *http.Request) {
	if h.transmissions == nil {
		h.writeError(w, r, http.StatusServiceUnavailable, errors.New("transmission history is disabled"))
		return
	}

	limit, err := h.parseLimit(r)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	var records []*sqlite.TransmissionRecord
	if airport := strings.TrimSpace(r.URL.Query().Get("airport")); airport != "" {
		records, err = h.transmissions.GetTransmissionsByAirport(strings.ToUpper(airport), limit)
	} else {
		records, err = h.transmissions.GetRecentTransmissions(limit)
	}
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, records)
}

// GetSessions lists scanner sessions, newest first
func (h *Handler) GetSessions(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		h.writeError(w, r, http.StatusServiceUnavailable, errors.New("session history is disabled"))
		return
	}

	limit, err := h.parseLimit(r)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	sessions, err := h.sessions.GetRecentSessions(limit)
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, sessions)
}

// HandleWebSocket hands the request to the websocket relay
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsServer.HandleWebSocket(w, r)
}

// GetHealth reports liveness
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	status := h.scanner.Status()
	resp := map[string]interface{}{
		"status":          "ok",
		"uptime_seconds":  int64(time.Since(h.startTime).Seconds()),
		"scanner_running": status.Running,
		"storage_enabled": h.transmissions != nil,
	}
	if h.wsServer != nil {
		resp["websocket_clients"] = h.wsServer.ClientCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) parseLimit(r *http.Request) (int, error) {
	limit := h.config.Storage.RecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid limit %q", raw)
		}
		limit = n
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, nil
}

// decodeSettings reads a JSON object body. An empty body yields nil.
func decodeSettings(r *http.Request) (map[string]interface{}, error) {
	var partial map[string]interface{}
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&partial)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	return partial, nil
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var settingsErr *scanner.SettingsError
	if errors.As(err, &settingsErr) {
		h.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	h.writeError(w, r, http.StatusInternalServerError, err)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	log := h.logger.WithRequestID(middleware.GetReqID(r.Context()))
	if status >= http.StatusInternalServerError {
		log.Error("Request failed", logger.String("path", r.URL.Path), logger.Error(err))
	} else {
		log.Debug("Request rejected", logger.String("path", r.URL.Path), logger.Error(err))
	}

	writeJSON(w, status, map[string]string{
		"status":  "error",
		"message": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if status == http.StatusNoContent {
		return
	}
	json.NewEncoder(w).Encode(v)
}
