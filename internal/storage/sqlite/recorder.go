package sqlite

import (
	"fmt"
	"sync"

	"github.com/yegors/atc-scanner/internal/scanner"
	"github.com/yegors/atc-scanner/pkg/logger"
)

// Recorder is a scanner listener that keeps transmission history and session
// bookkeeping in SQLite
type Recorder struct {
	transmissions *TransmissionStorage
	sessions      *SessionStorage
	logger        *logger.Logger

	mu        sync.Mutex
	sessionID int64 // 0 when no session is open
}

// NewRecorder creates a recorder. Sessions left open by an earlier process are closed.
func NewRecorder(transmissions *TransmissionStorage, sessions *SessionStorage, log *logger.Logger) *Recorder {
	r := &Recorder{
		transmissions: transmissions,
		sessions:      sessions,
		logger:        log.Named("recorder"),
	}

	if n, err := sessions.CloseStaleSessions(); err != nil {
		r.logger.Error("Failed to close stale sessions", logger.Error(err))
	} else if n > 0 {
		r.logger.Info("Closed stale sessions", logger.Int64("count", n))
	}

	return r
}

// Notify implements scanner.Listener
func (r *Recorder) Notify(event scanner.Event) error {
	switch event.Type {
	case scanner.EventScannerStarted:
		return r.openSession(event.Data)
	case scanner.EventScannerStopped:
		return r.closeSession()
	case scanner.EventNewTransmission:
		rec, ok := event.Data.(scanner.AudioRecord)
		if !ok {
			return fmt.Errorf("unexpected new_transmission payload %T", event.Data)
		}
		return r.store(rec)
	}
	return nil
}

// SessionID returns the open session, or 0
func (r *Recorder) SessionID() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

func (r *Recorder) openSession(data interface{}) error {
	var settings map[string]interface{}
	if m, ok := data.(map[string]interface{}); ok {
		settings, _ = m["settings"].(map[string]interface{})
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessionID != 0 {
		if err := r.sessions.EndSession(r.sessionID); err != nil {
			return err
		}
	}

	id, err := r.sessions.StartSession(settings)
	if err != nil {
		r.sessionID = 0
		return err
	}
	r.sessionID = id

	r.logger.Debug("Session opened", logger.Int64("session_id", id))
	return nil
}

func (r *Recorder) closeSession() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessionID == 0 {
		return nil
	}
	id := r.sessionID
	r.sessionID = 0

	if err := r.sessions.EndSession(id); err != nil {
		return err
	}
	r.logger.Debug("Session closed", logger.Int64("session_id", id))
	return nil
}

// store persists the record and counts it against the open session. Transmissions
// delivered by Start's initial pass arrive before scanner_started and are stored
// without a session.
func (r *Recorder) store(rec scanner.AudioRecord) error {
	inserted, err := r.transmissions.StoreTransmission(rec)
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}

	r.mu.Lock()
	id := r.sessionID
	r.mu.Unlock()

	if id != 0 {
		return r.sessions.IncrementTransmissions(id)
	}
	return nil
}
