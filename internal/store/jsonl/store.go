// Package jsonl persists events, anomalies and sessions as append-only
// JSON lines journals. Update commands append a fresh row for the same
// identifier; on replay the latest row wins.
package jsonl

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"trustd/internal/logger"
	"trustd/internal/store"
	"trustd/pkg/models"
)

// Store writes one journal file per record kind under a base directory.
type Store struct {
	mu        sync.Mutex
	events    *journal
	anomalies *journal
	sessions  *journal

	// Unresolved anomalies kept in memory so resolution does not need
	// to re-read the journal.
	open map[string]*models.Anomaly
}

type journal struct {
	file    *os.File
	encoder *json.Encoder
}

type anomalyMark struct {
	EventID     string  `json:"event_id"`
	IsAnomaly   bool    `json:"is_anomaly"`
	TrustImpact float64 `json:"trust_impact"`
	Confidence  float64 `json:"confidence"`
}

// NewStore creates the journal directory and opens the three journals.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		dir = "data"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	s := &Store{open: make(map[string]*models.Anomaly)}
	for _, j := range []struct {
		name string
		dst  **journal
	}{
		{"events.jsonl", &s.events},
		{"anomalies.jsonl", &s.anomalies},
		{"sessions.jsonl", &s.sessions},
	} {
		f, err := os.OpenFile(filepath.Join(dir, j.name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to open %s: %w", j.name, err)
		}
		*j.dst = &journal{file: f, encoder: json.NewEncoder(f)}
	}

	logger.Infof("JSONL store initialized: %s", dir)
	return s, nil
}

// AppendEvent appends one event row.
func (s *Store) AppendEvent(event *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.events.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return nil
}

// MarkAnomalous appends an anomaly mark row for the event.
func (s *Store) MarkAnomalous(eventID string, trustImpact, confidence float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mark := anomalyMark{
		EventID:     eventID,
		IsAnomaly:   true,
		TrustImpact: trustImpact,
		Confidence:  confidence,
	}
	if err := s.events.encoder.Encode(&mark); err != nil {
		return fmt.Errorf("failed to encode anomaly mark: %w", err)
	}
	return nil
}

// CreateAnomaly appends the anomaly record and tracks it as unresolved.
func (s *Store) CreateAnomaly(anomaly *models.Anomaly) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.anomalies.encoder.Encode(anomaly); err != nil {
		return fmt.Errorf("failed to encode anomaly: %w", err)
	}
	copied := *anomaly
	s.open[anomaly.ID] = &copied
	return nil
}

// ResolveAnomaly marks the anomaly resolved and appends the updated
// record. Resolving an unknown or already-resolved anomaly is an error.
func (s *Store) ResolveAnomaly(anomalyID, resolvedBy string) (*models.Anomaly, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	anomaly, ok := s.open[anomalyID]
	if !ok {
		return nil, fmt.Errorf("anomaly %s: %w", anomalyID, store.ErrAnomalyNotFound)
	}

	now := time.Now()
	anomaly.IsResolved = true
	anomaly.ResolvedBy = resolvedBy
	anomaly.ResolvedAt = &now

	if err := s.anomalies.encoder.Encode(anomaly); err != nil {
		return nil, fmt.Errorf("failed to encode resolved anomaly: %w", err)
	}
	delete(s.open, anomalyID)

	resolved := *anomaly
	return &resolved, nil
}

// CreateSession appends the new session row.
func (s *Store) CreateSession(session *models.Session) error {
	return s.appendSession(session)
}

// EndSession appends the finalized session row.
func (s *Store) EndSession(session *models.Session) error {
	return s.appendSession(session)
}

func (s *Store) appendSession(session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.sessions.encoder.Encode(session); err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	return nil
}

// Close closes all journals.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, j := range []*journal{s.events, s.anomalies, s.sessions} {
		if j == nil || j.file == nil {
			continue
		}
		if err := j.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
