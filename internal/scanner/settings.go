package scanner

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// Known settings keys
const (
	KeyVolume        = "volume"
	KeyFetchInterval = "fetch_interval"
	KeyVFROnly       = "vfr_only"
	KeyGeoFilter     = "geo_filter"
	KeyAirports      = "airports"
)

// DefaultFetchInterval is used when no positive interval is configured
const DefaultFetchInterval = 20 * time.Second

// MaxFetchInterval is the longest accepted fetch_interval, in seconds (one day)
const MaxFetchInterval = 24 * 60 * 60

// Settings holds the user-tunable scanner options. Keys the service does not know
// about are carried in Extra and reported back untouched.
type Settings struct {
	Volume        float64
	FetchInterval int // seconds
	VFROnly       bool
	GeoFilter     bool
	Airports      []string
	Extra         map[string]interface{}
}

// SettingsError reports a settings key whose value could not be applied
type SettingsError struct {
	Key    string
	Reason string
}

func (e *SettingsError) Error() string {
	return fmt.Sprintf("invalid setting %q: %s", e.Key, e.Reason)
}

// NewSettings builds settings from a key/value document such as [default_settings]
func NewSettings(values map[string]interface{}) (Settings, error) {
	s := Settings{
		Volume:        0.7,
		FetchInterval: int(DefaultFetchInterval / time.Second),
	}
	if err := s.Merge(values); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Merge applies partial on top of s. Either every key is applied or none is.
func (s *Settings) Merge(partial map[string]interface{}) error {
	next := s.Clone()

	for key, raw := range partial {
		switch key {
		case KeyVolume:
			v, ok := toFloat(raw)
			if !ok {
				return &SettingsError{Key: key, Reason: fmt.Sprintf("expected a number, got %T", raw)}
			}
			if v < 0 || v > 1 {
				return &SettingsError{Key: key, Reason: "must be between 0.0 and 1.0"}
			}
			next.Volume = v
		case KeyFetchInterval:
			v, ok := toFloat(raw)
			if !ok || v != math.Trunc(v) {
				return &SettingsError{Key: key, Reason: fmt.Sprintf("expected whole seconds, got %v", raw)}
			}
			if v < 1 {
				return &SettingsError{Key: key, Reason: "must be at least 1 second"}
			}
			if v > MaxFetchInterval {
				return &SettingsError{Key: key, Reason: fmt.Sprintf("must be at most %d seconds", MaxFetchInterval)}
			}
			next.FetchInterval = int(v)
		case KeyVFROnly:
			v, ok := raw.(bool)
			if !ok {
				return &SettingsError{Key: key, Reason: fmt.Sprintf("expected a boolean, got %T", raw)}
			}
			next.VFROnly = v
		case KeyGeoFilter:
			v, ok := raw.(bool)
			if !ok {
				return &SettingsError{Key: key, Reason: fmt.Sprintf("expected a boolean, got %T", raw)}
			}
			next.GeoFilter = v
		case KeyAirports:
			v, err := toAirports(raw)
			if err != nil {
				return &SettingsError{Key: key, Reason: err.Error()}
			}
			next.Airports = v
		default:
			if next.Extra == nil {
				next.Extra = make(map[string]interface{})
			}
			next.Extra[key] = raw
		}
	}

	*s = next
	return nil
}

// Clone returns a deep copy of s
func (s Settings) Clone() Settings {
	c := s
	if s.Airports != nil {
		c.Airports = append([]string(nil), s.Airports...)
	}
	if s.Extra != nil {
		c.Extra = make(map[string]interface{}, len(s.Extra))
		for k, v := range s.Extra {
			c.Extra[k] = v
		}
	}
	return c
}

// Interval returns the fetch interval as a duration
func (s Settings) Interval() time.Duration {
	if s.FetchInterval <= 0 || s.FetchInterval > MaxFetchInterval {
		return DefaultFetchInterval
	}
	return time.Duration(s.FetchInterval) * time.Second
}

// HasAirport reports whether code is on the allow-list, ignoring case
func (s Settings) HasAirport(code string) bool {
	for _, a := range s.Airports {
		if strings.EqualFold(a, code) {
			return true
		}
	}
	return false
}

// Map flattens the settings into the key/value form used by status reports and events
func (s Settings) Map() map[string]interface{} {
	m := make(map[string]interface{}, len(s.Extra)+5)
	for k, v := range s.Extra {
		m[k] = v
	}
	airports := s.Airports
	if airports == nil {
		airports = []string{}
	}
	m[KeyVolume] = s.Volume
	m[KeyFetchInterval] = s.FetchInterval
	m[KeyVFROnly] = s.VFROnly
	m[KeyGeoFilter] = s.GeoFilter
	m[KeyAirports] = append([]string(nil), airports...)
	return m
}

func toFloat(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func toAirports(raw interface{}) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return []string{}, nil
	case string:
		return normalizeAirports([]string{v}), nil
	case []string:
		return normalizeAirports(v), nil
	case []interface{}:
		codes := make([]string, 0, len(v))
		for _, item := range v {
			code, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected a list of airport codes, got element %T", item)
			}
			codes = append(codes, code)
		}
		return normalizeAirports(codes), nil
	default:
		return nil, fmt.Errorf("expected a list of airport codes, got %T", raw)
	}
}

// normalizeAirports trims and upper-cases codes and drops blanks
func normalizeAirports(codes []string) []string {
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}
