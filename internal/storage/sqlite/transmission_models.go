package sqlite

import "time"

// TransmissionRecord is a delivered transmission kept for history
type TransmissionRecord struct {
	ID             int64     `json:"-"`
	TransmissionID int64     `json:"id"`
	URL            string    `json:"url"`
	WhoFrom        string    `json:"who_from"`
	Frequency      string    `json:"frequency"`
	StationName    string    `json:"station_name"`
	Pilot          string    `json:"pilot"`
	Airport        string    `json:"airport"`
	Position       string    `json:"position"`
	VoiceName      string    `json:"voice_name"`
	FromUserID     string    `json:"from_userid"`
	FlightRules    string    `json:"flight_rules"`
	Latitude       *float64  `json:"lat,omitempty"`
	Longitude      *float64  `json:"lon,omitempty"`
	Stamp          *string   `json:"stamp,omitempty"` // verbatim upstream value
	Timestamp      time.Time `json:"timestamp"`       // stamp when RFC3339, else receive time
	CreatedAt      time.Time `json:"created_at"`
}

// SessionRecord is one start-to-stop run of the scanner
type SessionRecord struct {
	ID                 int64                  `json:"id"`
	StartedAt          time.Time              `json:"started_at"`
	EndedAt            *time.Time             `json:"ended_at,omitempty"`
	IsActive           bool                   `json:"is_active"`
	TransmissionsCount int64                  `json:"transmissions_count"`
	SettingsSnapshot   map[string]interface{} `json:"settings_snapshot"`
}
