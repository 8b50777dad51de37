// Package redisstore persists events, anomalies and sessions in Redis
// so an external dashboard or a restarted daemon can read them back.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"trustd/internal/logger"
	"trustd/internal/store"
	"trustd/pkg/models"
)

// Config configures Redis access.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Store writes records under a shared key prefix: events append to a
// list, anomalies and sessions live in per-record keys, and anomaly
// marks update a per-event hash.
type Store struct {
	client *redis.Client
	prefix string
}

const opTimeout = 5 * time.Second

// NewStore constructs a Redis-backed store and verifies connectivity.
func NewStore(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = "trustd"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis store: %w", err)
	}

	logger.Infof("Redis store initialized: %s (prefix %s)", cfg.Addr, cfg.KeyPrefix)
	return &Store{client: client, prefix: strings.TrimSpace(cfg.KeyPrefix)}, nil
}

func (s *Store) key(parts ...string) string {
	return s.prefix + ":" + strings.Join(parts, ":")
}

// AppendEvent pushes the event onto the event list.
func (s *Store) AppendEvent(event *models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := s.client.RPush(ctx, s.key("events"), data).Err(); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// MarkAnomalous records the anomaly verdict for an event.
func (s *Store) MarkAnomalous(eventID string, trustImpact, confidence float64) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	err := s.client.HSet(ctx, s.key("event", eventID),
		"is_anomaly", "true",
		"trust_impact", fmt.Sprintf("%.4f", trustImpact),
		"confidence", fmt.Sprintf("%.4f", confidence),
	).Err()
	if err != nil {
		return fmt.Errorf("mark event %s anomalous: %w", eventID, err)
	}
	return nil
}

// CreateAnomaly stores the anomaly record.
func (s *Store) CreateAnomaly(anomaly *models.Anomaly) error {
	data, err := json.Marshal(anomaly)
	if err != nil {
		return fmt.Errorf("encode anomaly: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.key("anomaly", anomaly.ID), data, 0)
	pipe.SAdd(ctx, s.key("anomalies", "open"), anomaly.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create anomaly %s: %w", anomaly.ID, err)
	}
	return nil
}

// ResolveAnomaly updates the stored record and removes it from the
// open set.
func (s *Store) ResolveAnomaly(anomalyID, resolvedBy string) (*models.Anomaly, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	data, err := s.client.Get(ctx, s.key("anomaly", anomalyID)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("anomaly %s: %w", anomalyID, store.ErrAnomalyNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load anomaly %s: %w", anomalyID, err)
	}

	var anomaly models.Anomaly
	if err := json.Unmarshal(data, &anomaly); err != nil {
		return nil, fmt.Errorf("decode anomaly %s: %w", anomalyID, err)
	}
	if anomaly.IsResolved {
		return nil, fmt.Errorf("anomaly %s already resolved: %w", anomalyID, store.ErrAnomalyNotFound)
	}

	now := time.Now()
	anomaly.IsResolved = true
	anomaly.ResolvedBy = resolvedBy
	anomaly.ResolvedAt = &now

	updated, err := json.Marshal(&anomaly)
	if err != nil {
		return nil, fmt.Errorf("encode anomaly %s: %w", anomalyID, err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.key("anomaly", anomalyID), updated, 0)
	pipe.SRem(ctx, s.key("anomalies", "open"), anomalyID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("resolve anomaly %s: %w", anomalyID, err)
	}
	return &anomaly, nil
}

// CreateSession stores the session record.
func (s *Store) CreateSession(session *models.Session) error {
	return s.writeSession(session)
}

// EndSession stores the finalized session record.
func (s *Store) EndSession(session *models.Session) error {
	return s.writeSession(session)
}

func (s *Store) writeSession(session *models.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := s.client.Set(ctx, s.key("session", session.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("write session %s: %w", session.ID, err)
	}
	return nil
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
