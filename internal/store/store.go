// Package store defines the persistence boundary the pipeline writes
// through. The core issues commands and reads nothing back except what
// the session manager keeps in memory.
package store

import (
	"errors"

	"trustd/pkg/models"
)

// ErrAnomalyNotFound reports a resolution request for an anomaly that
// does not exist or was already resolved.
var ErrAnomalyNotFound = errors.New("anomaly not found")

// Store receives persistence commands from the pipeline and the session
// manager. Implementations must be safe for concurrent use.
type Store interface {
	AppendEvent(event *models.Event) error
	MarkAnomalous(eventID string, trustImpact, confidence float64) error
	CreateAnomaly(anomaly *models.Anomaly) error
	ResolveAnomaly(anomalyID, resolvedBy string) (*models.Anomaly, error)
	CreateSession(session *models.Session) error
	EndSession(session *models.Session) error
	Close() error
}
