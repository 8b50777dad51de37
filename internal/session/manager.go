// Package session owns the training/live mode state machine. All mode
// transitions and session pointers go through the Manager's mutex; no
// other component holds session state.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"trustd/internal/logger"
	"trustd/internal/metrics"
	"trustd/internal/store"
	"trustd/internal/trust"
	"trustd/pkg/models"
)

var (
	// ErrTrainingActive rejects a second concurrent training session.
	ErrTrainingActive = errors.New("training session already active")
	// ErrLiveActive rejects a second concurrent live session.
	ErrLiveActive = errors.New("live session already active")
	// ErrNoActiveSession rejects stops with nothing to stop.
	ErrNoActiveSession = errors.New("no active session")
	// ErrStopInProgress rejects a stop racing another stop of the same
	// mode. Stopping performs a one-time side effect, so the loser of
	// the race must see a conflict, not a silent merge.
	ErrStopInProgress = errors.New("stop already in progress")
	// ErrModelNotTrained rejects live mode before training completes.
	ErrModelNotTrained = errors.New("model not trained")
)

// Model is the part of the anomaly detector the manager drives.
type Model interface {
	Train(events []*models.Event) error
	IsTrained() bool
}

// Notifier receives session lifecycle updates for fan-out.
type Notifier interface {
	SessionUpdate(data map[string]any)
}

// Manager is the session-mode state machine.
type Manager struct {
	mu sync.Mutex

	model    Model
	trust    *trust.Engine
	store    store.Store
	notifier Notifier
	now      func() time.Time

	training *models.Session
	live     *models.Session
	corpus   []*models.Event

	stopTrainingInFlight bool
	stopLiveInFlight     bool
}

// NewManager creates an idle manager.
func NewManager(model Model, trustEngine *trust.Engine, st store.Store, notifier Notifier) *Manager {
	return &Manager{
		model:    model,
		trust:    trustEngine,
		store:    st,
		notifier: notifier,
		now:      time.Now,
	}
}

// StartTraining opens a new training session. Subsequent events are
// stored without scoring until StopTraining.
func (m *Manager) StartTraining() (models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.training != nil {
		return models.Session{}, ErrTrainingActive
	}
	if m.live != nil {
		return models.Session{}, ErrLiveActive
	}

	s := &models.Session{
		ID:        uuid.NewString(),
		Mode:      models.ModeTraining,
		StartTime: m.now(),
		IsActive:  true,
	}
	if err := m.store.CreateSession(s); err != nil {
		return models.Session{}, fmt.Errorf("persist training session: %w", err)
	}

	m.training = s
	m.corpus = nil
	metrics.TrainingEvents.Set(0)

	logger.Infof("Training mode started - session %s", s.ID)
	m.notify(map[string]any{
		"mode":       string(models.ModeTraining),
		"status":     "started",
		"session_id": s.ID,
		"start_time": s.StartTime,
	})
	return *s, nil
}

// StopTraining closes the training session and fits the model on the
// accumulated corpus. A training failure aborts the stop: the session
// stays referenced and the error is surfaced to the caller.
func (m *Manager) StopTraining() (models.Session, int, error) {
	m.mu.Lock()
	if m.stopTrainingInFlight {
		m.mu.Unlock()
		return models.Session{}, 0, ErrStopInProgress
	}
	if m.training == nil {
		m.mu.Unlock()
		return models.Session{}, 0, ErrNoActiveSession
	}
	m.stopTrainingInFlight = true
	s := m.training
	corpus := m.corpus
	m.mu.Unlock()

	// Fitting is CPU-bound and can take a while on a large corpus;
	// monitors keep polling on their own goroutines meanwhile. The
	// in-flight flag above keeps a second stop from double-training.
	err := m.model.Train(corpus)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopTrainingInFlight = false

	if err != nil {
		logger.Errorf("Training failed for session %s: %v", s.ID, err)
		return models.Session{}, len(corpus), fmt.Errorf("train model: %w", err)
	}

	end := m.now()
	s.EndTime = &end
	s.IsActive = false
	s.EventCount = len(corpus)
	s.ModelVersion = "model_" + end.Format("20060102_150405")
	if storeErr := m.store.EndSession(s); storeErr != nil {
		logger.Errorf("Failed to persist training session end: %v", storeErr)
	}

	m.training = nil
	m.corpus = nil
	metrics.TrainingRuns.Inc()
	metrics.ModelTrained.Set(1)

	logger.Infof("Training mode stopped - session %s, %d events", s.ID, s.EventCount)
	m.notify(map[string]any{
		"mode":          string(models.ModeTraining),
		"status":        "completed",
		"session_id":    s.ID,
		"end_time":      end,
		"events_count":  s.EventCount,
		"model_trained": true,
	})
	return *s, s.EventCount, nil
}

// StartLive opens a new live session. It requires a trained model and
// resets the trust score for the session.
func (m *Manager) StartLive() (models.Session, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.live != nil {
		return models.Session{}, 0, ErrLiveActive
	}
	if m.training != nil {
		return models.Session{}, 0, ErrTrainingActive
	}
	if !m.model.IsTrained() {
		return models.Session{}, 0, ErrModelNotTrained
	}

	s := &models.Session{
		ID:        uuid.NewString(),
		Mode:      models.ModeLive,
		StartTime: m.now(),
		IsActive:  true,
	}
	if err := m.store.CreateSession(s); err != nil {
		return models.Session{}, 0, fmt.Errorf("persist live session: %w", err)
	}

	m.live = s
	score := m.trust.InitializeSession(s.ID)

	logger.Infof("Live mode started - session %s", s.ID)
	m.notify(map[string]any{
		"mode":        string(models.ModeLive),
		"status":      "started",
		"session_id":  s.ID,
		"start_time":  s.StartTime,
		"trust_score": score,
	})
	return *s, score, nil
}

// StopLive closes the live session, freezing the final trust score.
func (m *Manager) StopLive() (models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopLiveInFlight {
		return models.Session{}, ErrStopInProgress
	}
	if m.live == nil {
		return models.Session{}, ErrNoActiveSession
	}
	m.stopLiveInFlight = true
	defer func() { m.stopLiveInFlight = false }()

	s := m.live
	end := m.now()
	final := m.trust.Score()
	s.EndTime = &end
	s.IsActive = false
	s.FinalScore = &final
	if err := m.store.EndSession(s); err != nil {
		logger.Errorf("Failed to persist live session end: %v", err)
	}

	m.live = nil

	logger.Infof("Live mode stopped - session %s, final score %.1f", s.ID, final)
	m.notify(map[string]any{
		"mode":              string(models.ModeLive),
		"status":            "stopped",
		"session_id":        s.ID,
		"end_time":          end,
		"final_trust_score": final,
	})
	return *s, nil
}

// RecordTrainingEvent appends an event to the training corpus if a
// training session is active, returning its session ID.
func (m *Manager) RecordTrainingEvent(event *models.Event) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.training == nil {
		return "", false
	}
	m.corpus = append(m.corpus, event)
	return m.training.ID, true
}

// Route reports how the pipeline should treat the next event: the
// active mode (or "" when idle) and the owning session ID.
func (m *Manager) Route() (models.SessionMode, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.training != nil {
		return models.ModeTraining, m.training.ID
	}
	if m.live != nil {
		return models.ModeLive, m.live.ID
	}
	return "", ""
}

// TrainingStatus returns a copy of the active training session.
func (m *Manager) TrainingStatus() (models.Session, int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.training == nil {
		return models.Session{}, 0, false
	}
	return *m.training, len(m.corpus), true
}

// LiveStatus returns a copy of the active live session.
func (m *Manager) LiveStatus() (models.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.live == nil {
		return models.Session{}, false
	}
	return *m.live, true
}

func (m *Manager) notify(data map[string]any) {
	if m.notifier == nil {
		return
	}
	m.notifier.SessionUpdate(data)
}
