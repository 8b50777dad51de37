// Package trust maintains the live trust score, its append-only history
// and the pending deductions that make anomaly penalties reversible.
package trust

import (
	"sync"
	"time"

	"trustd/internal/logger"
	"trustd/pkg/models"
)

// Config controls scoring behavior.
type Config struct {
	InitialScore   float64
	AlertThreshold float64
}

// Per-event-type penalty weights. Unknown types take the default.
var weights = map[models.EventType]float64{
	models.AuthFailure:       -25,
	models.SudoCommand:       -20,
	models.NetworkConnection: -15,
	models.FileChange:        -10,
	models.ProcessStart:      -10,
	models.Login:             -5,
	models.Logout:            -5,
	models.ProcessEnd:        -5,
}

const defaultWeight = -5

// Deduction records one unresolved trust penalty.
type Deduction struct {
	Amount     float64          `json:"amount"`
	EventType  models.EventType `json:"event_type"`
	Confidence float64          `json:"confidence"`
	Timestamp  time.Time        `json:"timestamp"`
}

// UpdateResult reports the outcome of one score mutation.
type UpdateResult struct {
	NewScore       float64 `json:"new_score"`
	Change         float64 `json:"change"`
	Deduction      float64 `json:"deduction"`
	Restored       float64 `json:"restored,omitempty"`
	Confidence     float64 `json:"confidence,omitempty"`
	AlertTriggered bool    `json:"alert_triggered"`
}

// Stats summarizes the score history.
type Stats struct {
	CurrentScore    float64 `json:"current_score"`
	TotalChanges    int     `json:"total_changes"`
	MaxScore        float64 `json:"max_score"`
	MinScore        float64 `json:"min_score"`
	AverageScore    float64 `json:"average_score"`
	DurationMinutes float64 `json:"duration_minutes"`
}

// Engine owns the trust score state. All access is serialized by the
// engine's own mutex; callers only ever see point-in-time snapshots.
type Engine struct {
	mu        sync.Mutex
	cfg       Config
	score     float64
	sessionID string
	history   []models.TrustChange
	pending   map[string]Deduction
	now       func() time.Time
}

// NewEngine creates a trust engine at the configured initial score.
func NewEngine(cfg Config) *Engine {
	if cfg.InitialScore <= 0 {
		cfg.InitialScore = 100
	}
	if cfg.AlertThreshold <= 0 {
		cfg.AlertThreshold = 20
	}
	e := &Engine{cfg: cfg, now: time.Now}
	e.resetLocked("reset")
	return e
}

// InitializeSession resets the score for a new live session.
func (e *Engine) InitializeSession(sessionID string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sessionID = sessionID
	e.resetLocked("session_start")

	logger.Infof("Trust score initialized for session %s: %.1f", sessionID, e.score)
	return e.score
}

// UpdateOnAnomaly applies the penalty for an anomalous event. Normal
// verdicts are a zero-effect result. The deduction is the event-type
// weight scaled by confidence and capped at the full weight; the score
// floor is zero.
func (e *Engine) UpdateOnAnomaly(eventID string, eventType models.EventType, confidence float64, isAnomaly bool) UpdateResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !isAnomaly {
		return UpdateResult{NewScore: e.score}
	}

	weight := defaultWeight * -1.0
	if w, ok := weights[eventType]; ok {
		weight = -w
	}
	deduction := weight * confidence
	if deduction > weight {
		deduction = weight
	}

	newScore := e.score - deduction
	if newScore < 0 {
		newScore = 0
	}
	change := newScore - e.score

	e.pending[eventID] = Deduction{
		Amount:     deduction,
		EventType:  eventType,
		Confidence: confidence,
		Timestamp:  e.now(),
	}
	e.history = append(e.history, models.TrustChange{
		Timestamp:  e.now(),
		Score:      newScore,
		Change:     change,
		Reason:     "anomaly_" + string(eventType),
		EventID:    eventID,
		Confidence: confidence,
	})
	e.score = newScore

	alert := newScore < e.cfg.AlertThreshold
	if alert {
		logger.Warnf("Trust score alert triggered: %.1f < %.1f", newScore, e.cfg.AlertThreshold)
	}
	logger.Infof("Trust score updated: %.1f (change %.1f, event %s)", e.score, change, eventID)

	return UpdateResult{
		NewScore:       e.score,
		Change:         change,
		Deduction:      deduction,
		Confidence:     confidence,
		AlertTriggered: alert,
	}
}

// Restore adds back the deduction recorded for eventID. Restoring an
// event with no pending deduction is a legitimate no-op, so a double
// restore can never double-credit the score.
func (e *Engine) Restore(eventID string) UpdateResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.pending[eventID]
	if !ok {
		logger.Warnf("No trust deduction recorded for event %s", eventID)
		return UpdateResult{NewScore: e.score}
	}

	newScore := e.score + entry.Amount
	if newScore > e.cfg.InitialScore {
		newScore = e.cfg.InitialScore
	}
	change := newScore - e.score

	e.history = append(e.history, models.TrustChange{
		Timestamp: e.now(),
		Score:     newScore,
		Change:    change,
		Reason:    "admin_restore",
		EventID:   eventID,
	})
	e.score = newScore
	delete(e.pending, eventID)

	logger.Infof("Trust restored for event %s: +%.1f points", eventID, entry.Amount)

	return UpdateResult{NewScore: e.score, Change: change, Restored: entry.Amount}
}

// Reset reinitializes the score outside of any session.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sessionID = ""
	e.resetLocked("reset")
	logger.Infof("Trust score reset to %.1f", e.score)
}

func (e *Engine) resetLocked(reason string) {
	e.score = e.cfg.InitialScore
	e.history = []models.TrustChange{{
		Timestamp: e.now(),
		Score:     e.score,
		Reason:    reason,
	}}
	e.pending = make(map[string]Deduction)
}

// Score returns the current score.
func (e *Engine) Score() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.score
}

// SessionID returns the session the engine was initialized for.
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

// History returns a copy of the most recent limit entries; limit <= 0
// returns the full history.
func (e *Engine) History(limit int) []models.TrustChange {
	e.mu.Lock()
	defer e.mu.Unlock()

	entries := e.history
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]models.TrustChange, len(entries))
	copy(out, entries)
	return out
}

// PendingCount returns the number of unresolved deductions.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Stats derives summary statistics by scanning the history.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Stats{
		CurrentScore: e.score,
		TotalChanges: len(e.history),
		MaxScore:     e.score,
		MinScore:     e.score,
		AverageScore: e.score,
	}
	if len(e.history) == 0 {
		return st
	}

	sum := 0.0
	st.MaxScore = e.history[0].Score
	st.MinScore = e.history[0].Score
	for _, entry := range e.history {
		if entry.Score > st.MaxScore {
			st.MaxScore = entry.Score
		}
		if entry.Score < st.MinScore {
			st.MinScore = entry.Score
		}
		sum += entry.Score
	}
	st.AverageScore = sum / float64(len(e.history))
	st.DurationMinutes = e.history[len(e.history)-1].Timestamp.Sub(e.history[0].Timestamp).Minutes()
	return st
}
