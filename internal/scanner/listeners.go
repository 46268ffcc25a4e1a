package scanner

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yegors/atc-scanner/pkg/logger"
)

// EventType names a broadcast event
type EventType string

const (
	EventNewTransmission EventType = "new_transmission"
	EventScannerStarted  EventType = "scanner_started"
	EventScannerStopped  EventType = "scanner_stopped"
	EventSettingsUpdated EventType = "settings_updated"
)

// Event is what listeners receive. Data is an AudioRecord for new_transmission and a
// map for lifecycle events.
type Event struct {
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// Listener receives scanner events. Notify runs on the notifying goroutine and
// should hand off anything slow.
type Listener interface {
	Notify(event Event) error
}

// ListenerFunc adapts a function to Listener
type ListenerFunc func(event Event) error

// Notify calls f
func (f ListenerFunc) Notify(event Event) error {
	return f(event)
}

// ListenerID identifies a registration for removal
type ListenerID string

type listenerEntry struct {
	id       ListenerID
	listener Listener
}

// ListenerRegistry fans events out to registered listeners in registration order
type ListenerRegistry struct {
	mu      sync.RWMutex
	entries []listenerEntry
	logger  *logger.Logger
}

// NewListenerRegistry creates an empty registry
func NewListenerRegistry(logger *logger.Logger) *ListenerRegistry {
	return &ListenerRegistry{
		logger: logger.Named("listeners"),
	}
}

// Add registers l and returns its handle
func (r *ListenerRegistry) Add(l Listener) ListenerID {
	id := ListenerID(uuid.NewString())

	r.mu.Lock()
	r.entries = append(r.entries, listenerEntry{id: id, listener: l})
	r.mu.Unlock()

	return id
}

// Remove unregisters the listener with the given handle
func (r *ListenerRegistry) Remove(id ListenerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if e.id == id {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of registered listeners
func (r *ListenerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Notify delivers an event to every listener synchronously. A listener that returns
// an error or panics is logged and skipped; the rest still receive the event.
func (r *ListenerRegistry) Notify(eventType EventType, data interface{}) {
	r.mu.RLock()
	entries := make([]listenerEntry, len(r.entries))
	copy(entries, r.entries)
	r.mu.RUnlock()

	event := Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	for _, e := range entries {
		if err := r.deliver(e.listener, event); err != nil {
			r.logger.Error("Error notifying listener",
				logger.String("listener_id", string(e.id)),
				logger.String("event", string(eventType)),
				logger.Error(err),
			)
		}
	}
}

func (r *ListenerRegistry) deliver(l Listener, event Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("listener panicked: %v", p)
		}
	}()
	return l.Notify(event)
}
