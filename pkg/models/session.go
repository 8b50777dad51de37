package models

import "time"

// SessionMode distinguishes collection-only sessions from scored ones.
type SessionMode string

const (
	ModeTraining SessionMode = "training"
	ModeLive     SessionMode = "live"
)

// Session records one training or live run.
type Session struct {
	ID           string      `json:"id"`
	Mode         SessionMode `json:"mode"`
	StartTime    time.Time   `json:"start_time"`
	EndTime      *time.Time  `json:"end_time,omitempty"`
	IsActive     bool        `json:"is_active"`
	ModelVersion string      `json:"model_version,omitempty"`
	EventCount   int         `json:"event_count,omitempty"`
	FinalScore   *float64    `json:"final_score,omitempty"`
}

// Anomaly records one anomalous verdict awaiting resolution.
type Anomaly struct {
	ID         string     `json:"id"`
	EventID    string     `json:"event_id"`
	SessionID  string     `json:"session_id"`
	EventType  EventType  `json:"event_type"`
	Confidence float64    `json:"confidence"`
	IsResolved bool       `json:"is_resolved"`
	ResolvedBy string     `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// TrustChange is one append-only trust history entry.
type TrustChange struct {
	Timestamp  time.Time `json:"timestamp"`
	Score      float64   `json:"score"`
	Change     float64   `json:"change"`
	Reason     string    `json:"reason"`
	EventID    string    `json:"event_id,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
}
