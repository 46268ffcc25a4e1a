package scanner

import (
	"net/url"
	"strings"
)

// Accept decides whether a record should be delivered. Checks short-circuit in order:
// flight rules, playable URL, then the geographic filter.
//
// With the geo filter on, a record that is not allow-listed and carries no coordinates
// is accepted: the filter cannot evaluate it, so it fails open.
func Accept(record AudioRecord, settings Settings, bounds GeoBounds) bool {
	if settings.VFROnly && record.FlightRules != "VFR" {
		return false
	}

	if !IsPlayableURL(record.URL) {
		return false
	}

	if settings.GeoFilter {
		if settings.HasAirport(record.Airport) {
			return true
		}
		if record.HasPosition() && !bounds.Contains(*record.Lat, *record.Lon) {
			return false
		}
	}

	return true
}

// IsPlayableURL reports whether raw is an absolute http(s) URL with a host
func IsPlayableURL(raw string) bool {
	if raw == "" {
		return false
	}
	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Host != ""
}
