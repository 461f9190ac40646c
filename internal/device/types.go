package device

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimestampLayout is the UTC layout used both in storage and on the wire.
// Fixed width keeps lexical order equal to chronological order in SQLite.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Class separates the two monitored fleets. They share the Device shape but
// have separate catalogs, polling cadence and history keyspaces.
type Class string

// Device classes.
const (
	ClassGRD   Class = "grd"
	ClassRelay Class = "rele"
)

// Valid reports whether c is a known device class.
func (c Class) Valid() bool {
	return c == ClassGRD || c == ClassRelay
}

// Period is a history bucket size used for pagination.
type Period string

// History periods.
const (
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// Device is a catalog entry. For relays ID is the modbus unit id.
type Device struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
}

// Sample is one recorded connectivity transition.
type Sample struct {
	DeviceID  int
	Timestamp time.Time
	Connected bool
}

// MarshalJSON renders the sample with an ISO-8601 UTC timestamp.
func (s Sample) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		DeviceID  int    `json:"device_id"`
		Timestamp string `json:"timestamp"`
		Connected bool   `json:"connected"`
	}{
		DeviceID:  s.DeviceID,
		Timestamp: FormatTimestamp(s.Timestamp),
		Connected: s.Connected,
	})
}

// DisconnectedDevice is a device whose latest sample is disconnected.
type DisconnectedDevice struct {
	DeviceID         int       `json:"device_id"`
	Description      string    `json:"description"`
	LastDisconnected time.Time `json:"last_disconnected_timestamp"`
}

// Fault is the decoded fault detail of a relay at a point in time.
// RelayID is the internal relay id, not the modbus unit id.
type Fault struct {
	RelayID   int64     `json:"relay_id"`
	Timestamp time.Time `json:"timestamp"`
	Detail    string    `json:"detail"`
}

// FormatTimestamp formats t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a stored timestamp. Second-precision RFC 3339 is
// accepted for rows written by older tooling.
func ParseTimestamp(value string) (time.Time, error) {
	if ts, err := time.Parse(TimestampLayout, value); err == nil {
		return ts, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", value, err)
	}
	return ts.UTC(), nil
}
