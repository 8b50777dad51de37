package models

import (
	"fmt"
	"strconv"
	"time"
)

// EventType identifies one of the fixed behavioral event categories.
// The set is closed: extending it requires a coordinated change to the
// feature schema in internal/features.
type EventType string

const (
	ProcessStart      EventType = "process_start"
	ProcessEnd        EventType = "process_end"
	NetworkConnection EventType = "network_connection"
	AuthFailure       EventType = "auth_failure"
	SudoCommand       EventType = "sudo_command"
	FileChange        EventType = "file_change"
	Login             EventType = "login"
	Logout            EventType = "logout"
)

// EventTypes lists all known event types in feature-schema order.
var EventTypes = []EventType{
	ProcessStart, ProcessEnd, NetworkConnection, SudoCommand,
	FileChange, Login, Logout, AuthFailure,
}

// Known returns whether t is a member of the closed enumeration.
func (t EventType) Known() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Event is a normalized record of one observed behavior. An event is
// created by exactly one monitor and enriched once on ingestion; after
// that it is never mutated, and scoring results live in ScoredEvent.
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      EventType      `json:"event_type"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
}

// ScoredEvent is an Event enriched with an anomaly verdict.
type ScoredEvent struct {
	Event
	IsAnomaly   bool    `json:"is_anomaly"`
	Confidence  float64 `json:"confidence,omitempty"`
	TrustImpact float64 `json:"trust_impact,omitempty"`
}

// Field returns a metadata value as a string. Every metadata field is
// optional; absent fields read as "".
func (e *Event) Field(name string) string {
	if e == nil || e.Metadata == nil {
		return ""
	}
	v, ok := e.Metadata[name]
	if !ok {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// BoolField returns a metadata value as a bool, false when absent.
func (e *Event) BoolField(name string) bool {
	if e == nil || e.Metadata == nil {
		return false
	}
	switch v := e.Metadata[name].(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(v)
		return err == nil && b
	default:
		return false
	}
}

// FloatField returns a metadata value as a float64, def when absent or
// not numeric.
func (e *Event) FloatField(name string, def float64) float64 {
	if e == nil || e.Metadata == nil {
		return def
	}
	switch v := e.Metadata[name].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case uint32:
		return float64(v)
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return def
		}
		return f
	default:
		return def
	}
}

// ProcessName returns the process_name field.
func (e *Event) ProcessName() string {
	return e.Field("process_name")
}

// Destination returns the destination field, falling back to
// remote_address for network events.
func (e *Event) Destination() string {
	if v := e.Field("destination"); v != "" {
		return v
	}
	return e.Field("remote_address")
}

// UserID returns the user identifier field.
func (e *Event) UserID() string {
	if v := e.Field("user_id"); v != "" {
		return v
	}
	return e.Field("username")
}
