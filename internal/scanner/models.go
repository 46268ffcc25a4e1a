package scanner

import (
	"time"
)

// AudioRecord is one normalized transmission from the upstream scanner feed
type AudioRecord struct {
	ID          int64    `json:"id"`
	URL         string   `json:"url"`
	WhoFrom     string   `json:"who_from"`
	Frequency   string   `json:"frequency"`
	StationName string   `json:"station_name"`
	Pilot       string   `json:"pilot"` // "[<flight_rules>] <pilot>"
	Airport     string   `json:"airport"`
	Position    string   `json:"position"`
	VoiceName   string   `json:"voice_name"`
	FromUserID  string   `json:"from_userid"`
	FlightRules string   `json:"flight_rules"`
	Lat         *float64 `json:"lat"`
	Lon         *float64 `json:"lon"`
	Stamp       *string  `json:"stamp"`
	Priority    int      `json:"priority"` // Reserved, nothing orders on it yet
}

// HasPosition reports whether both coordinates were supplied upstream
func (r AudioRecord) HasPosition() bool {
	return r.Lat != nil && r.Lon != nil
}

// GeoBounds is the rectangular inclusion region used by the geo filter
type GeoBounds struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

// DefaultGeoBounds covers the Albuquerque ARTCC (ZAB) area
var DefaultGeoBounds = GeoBounds{North: 37.0, South: 31.0, East: -103.0, West: -114.0}

// Contains reports whether the point lies inside the bounds, edges included
func (b GeoBounds) Contains(lat, lon float64) bool {
	return b.South <= lat && lat <= b.North &&
		b.West <= lon && lon <= b.East
}

// Lifecycle and result status values
const (
	StatusStarted        = "started"
	StatusAlreadyRunning = "already_running"
	StatusStopped        = "stopped"
	StatusNotRunning     = "not_running"
	StatusUpdated        = "updated"
)

// StartResult is returned by Service.Start
type StartResult struct {
	Status   string                 `json:"status"`
	Settings map[string]interface{} `json:"settings,omitempty"`
}

// StopResult is returned by Service.Stop
type StopResult struct {
	Status string `json:"status"`
}

// UpdateResult is returned by Service.UpdateSettings
type UpdateResult struct {
	Status   string                 `json:"status"`
	Settings map[string]interface{} `json:"settings"`
}

// Status is a point-in-time snapshot of the service
type Status struct {
	Running      bool                   `json:"running"`
	QueueSize    int                    `json:"queue_size"`
	LastPlayedID int64                  `json:"last_played_id"`
	Settings     map[string]interface{} `json:"settings"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	LastFetchAt  *time.Time             `json:"last_fetch_at,omitempty"`
	Delivered    int64                  `json:"delivered"`
	Listeners    int                    `json:"listeners"`
}
