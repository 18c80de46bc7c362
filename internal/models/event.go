package models

import (
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Status is the outcome reported by the login service. Values are case-sensitive.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// Known reports whether the status is one the detectors act on.
func (s Status) Known() bool {
	return s == StatusSuccess || s == StatusFailure
}

// LoginEvent is a single decoded record from the auth-events stream.
type LoginEvent struct {
	IP        string    `json:"ip"`
	Status    Status    `json:"status"`
	Username  string    `json:"username,omitempty"`
	Timestamp EventTime `json:"timestamp"`
	Lat       *float64  `json:"lat,omitempty"`
	Lon       *float64  `json:"lon,omitempty"`
}

// HasCoordinates is true only when both latitude and longitude are present.
func (e *LoginEvent) HasCoordinates() bool {
	return e.Lat != nil && e.Lon != nil
}

// EventTime is the producer-reported timestamp. It is advisory: detection
// windows run on processing time. Producers send either epoch seconds
// (possibly fractional) or an ISO-8601 string.
type EventTime struct {
	time.Time
}

// UnmarshalJSON accepts numbers, numeric strings and RFC3339 strings.
// Anything unparseable leaves the zero time rather than rejecting the event.
func (t *EventTime) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "" || raw == "null" {
		t.Time = time.Time{}
		return nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		t.Time = parseTimestampString(s)
		return nil
	}

	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		t.Time = epochToTime(f)
	}
	return nil
}

// MarshalJSON writes RFC3339Nano, or null for the zero time.
func (t EventTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func parseTimestampString(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return epochToTime(f)
	}
	return time.Time{}
}

// epochToTime treats values above 1e12 as milliseconds.
func epochToTime(f float64) time.Time {
	if f > 1e12 {
		f /= 1000
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}
