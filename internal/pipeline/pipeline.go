// Package pipeline connects the collectors to scoring, trust updates,
// persistence and broadcast. Events flow through a buffered queue into
// a single processing goroutine; keeping one consumer preserves the
// ordering the trust score history depends on.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"trustd/internal/anomaly"
	"trustd/internal/logger"
	"trustd/internal/metrics"
	"trustd/internal/rules"
	"trustd/internal/session"
	"trustd/internal/store"
	"trustd/internal/trust"
	"trustd/pkg/models"
)

// Broadcaster pushes typed frames to connected clients. A nil
// broadcaster disables fan-out without branching at every call site.
type Broadcaster interface {
	Publish(msgType string, data any)
}

// Message type tags mirrored from the broadcast hub so the pipeline
// does not import it.
const (
	typeEvent       = "event"
	typeAnomaly     = "anomaly"
	typeTrustUpdate = "trust_update"
	typeAlert       = "alert"
)

// Config controls queue sizing.
type Config struct {
	QueueSize int
}

func (c *Config) applyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
}

// Pipeline routes each incoming event by the active session mode.
type Pipeline struct {
	cfg      Config
	sessions *session.Manager
	detector *anomaly.Detector
	trust    *trust.Engine
	store    store.Store
	engine   rules.Engine
	hub      Broadcaster

	queue chan *models.Event
	freq  *freqTracker

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Events behind open anomalies, kept so resolution can feed the
	// model confirmed-normal samples. Bounded; oldest entries fall out.
	recentMu  sync.Mutex
	recent    map[string]*models.Event
	recentIDs []string
}

const recentAnomalyCap = 256

// New wires the pipeline. The rules engine and broadcaster may be nil.
func New(cfg Config, sessions *session.Manager, detector *anomaly.Detector, trustEngine *trust.Engine, st store.Store, engine rules.Engine, hub Broadcaster) *Pipeline {
	cfg.applyDefaults()
	return &Pipeline{
		cfg:      cfg,
		sessions: sessions,
		detector: detector,
		trust:    trustEngine,
		store:    st,
		engine:   engine,
		hub:      hub,
		queue:    make(chan *models.Event, cfg.QueueSize),
		freq:     newFreqTracker(),
		recent:   make(map[string]*models.Event),
	}
}

// Ingest accepts one event from a collector. A full queue drops the
// event; collectors must never block on a slow consumer.
func (p *Pipeline) Ingest(event *models.Event) error {
	select {
	case p.queue <- event:
		return nil
	default:
		logger.Warnf("Event queue full, dropping event %s (%s)", event.ID, event.Type)
		return nil
	}
}

// Start launches the processing goroutine.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.processLoop(runCtx)
	}()
	logger.Infof("Event pipeline started")
}

// Stop drains nothing: in-flight events already queued are abandoned
// with the context, matching the collector's best-effort contract.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
	logger.Infof("Event pipeline stopped")
}

func (p *Pipeline) processLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-p.queue:
			p.process(event)
		}
	}
}

// process enriches one event and routes it by the active mode. Idle
// events are persisted unscored so the journal stays complete.
func (p *Pipeline) process(event *models.Event) {
	metrics.EventsCollected.WithLabelValues(string(event.Type)).Inc()

	f5, f1 := p.freq.observe(event.Type)
	if event.Metadata == nil {
		event.Metadata = make(map[string]any, 2)
	}
	event.Metadata["frequency_5min"] = f5
	event.Metadata["frequency_1min"] = f1

	if p.engine != nil {
		if tags := p.engine.Apply(event); len(tags) > 0 {
			event.Metadata["suspicious"] = true
			names := make([]string, 0, len(tags))
			for _, tag := range tags {
				names = append(names, tag.Name)
			}
			event.Metadata["matched_rules"] = names
		}
	}

	mode, sessionID := p.sessions.Route()
	event.SessionID = sessionID

	switch mode {
	case models.ModeTraining:
		p.processTraining(event)
	case models.ModeLive:
		p.processLive(event)
	default:
		if err := p.store.AppendEvent(event); err != nil {
			logger.Errorf("Failed to persist event %s: %v", event.ID, err)
		}
	}
}

func (p *Pipeline) processTraining(event *models.Event) {
	if _, ok := p.sessions.RecordTrainingEvent(event); !ok {
		// Training stopped between Route and here; store unscored.
		if err := p.store.AppendEvent(event); err != nil {
			logger.Errorf("Failed to persist event %s: %v", event.ID, err)
		}
		return
	}
	metrics.TrainingEvents.Inc()

	if err := p.store.AppendEvent(event); err != nil {
		logger.Errorf("Failed to persist training event %s: %v", event.ID, err)
	}
	p.publish(typeEvent, models.ScoredEvent{Event: *event})
}

func (p *Pipeline) processLive(event *models.Event) {
	isAnomaly, confidence := p.detector.Predict(event)
	metrics.EventsScored.Inc()

	result := p.trust.UpdateOnAnomaly(event.ID, event.Type, confidence, isAnomaly)
	metrics.TrustScore.Set(result.NewScore)

	scored := models.ScoredEvent{
		Event:       *event,
		IsAnomaly:   isAnomaly,
		Confidence:  confidence,
		TrustImpact: result.Change,
	}

	if err := p.store.AppendEvent(event); err != nil {
		logger.Errorf("Failed to persist event %s: %v", event.ID, err)
	}
	p.publish(typeEvent, scored)

	if !isAnomaly {
		return
	}

	metrics.AnomaliesDetected.WithLabelValues(string(event.Type)).Inc()
	if err := p.store.MarkAnomalous(event.ID, result.Change, confidence); err != nil {
		logger.Errorf("Failed to mark event %s anomalous: %v", event.ID, err)
	}

	record := &models.Anomaly{
		ID:         uuid.NewString(),
		EventID:    event.ID,
		SessionID:  event.SessionID,
		EventType:  event.Type,
		Confidence: confidence,
		CreatedAt:  event.Timestamp,
	}
	if err := p.store.CreateAnomaly(record); err != nil {
		logger.Errorf("Failed to persist anomaly for event %s: %v", event.ID, err)
	}
	p.rememberAnomalous(event)

	logger.Warnf("Anomaly detected: %s event %s (confidence %.2f, trust %.1f)",
		event.Type, event.ID, confidence, result.NewScore)

	p.publish(typeAnomaly, record)
	p.publish(typeTrustUpdate, result)

	if result.AlertTriggered {
		metrics.AlertsTriggered.Inc()
		p.publish(typeAlert, map[string]any{
			"trust_score": result.NewScore,
			"event_id":    event.ID,
			"session_id":  event.SessionID,
			"message":     "trust score below alert threshold",
		})
	}
}

// ResolveAnomaly marks an anomaly as operator-confirmed normal. The
// trust deduction is restored, and when the triggering event is still
// cached the model is refit with it as a normal sample.
func (p *Pipeline) ResolveAnomaly(anomalyID, resolvedBy string) (*models.Anomaly, trust.UpdateResult, error) {
	record, err := p.store.ResolveAnomaly(anomalyID, resolvedBy)
	if err != nil {
		return nil, trust.UpdateResult{}, fmt.Errorf("resolve anomaly %s: %w", anomalyID, err)
	}

	result := p.trust.Restore(record.EventID)
	metrics.AnomaliesResolved.Inc()
	metrics.TrustScore.Set(result.NewScore)

	p.publish(typeAnomaly, record)
	p.publish(typeTrustUpdate, result)

	if event := p.takeAnomalous(record.EventID); event != nil {
		go func() {
			if err := p.detector.RetrainIncremental([]*models.Event{event}); err != nil {
				logger.Errorf("Failed to refit model after resolving %s: %v", anomalyID, err)
			}
		}()
	}

	logger.Infof("Anomaly %s resolved by %s", anomalyID, resolvedBy)
	return record, result, nil
}

func (p *Pipeline) rememberAnomalous(event *models.Event) {
	p.recentMu.Lock()
	defer p.recentMu.Unlock()

	if _, ok := p.recent[event.ID]; !ok {
		p.recentIDs = append(p.recentIDs, event.ID)
	}
	p.recent[event.ID] = event

	for len(p.recentIDs) > recentAnomalyCap {
		oldest := p.recentIDs[0]
		p.recentIDs = p.recentIDs[1:]
		delete(p.recent, oldest)
	}
}

func (p *Pipeline) takeAnomalous(eventID string) *models.Event {
	p.recentMu.Lock()
	defer p.recentMu.Unlock()

	event, ok := p.recent[eventID]
	if !ok {
		return nil
	}
	delete(p.recent, eventID)
	for i, id := range p.recentIDs {
		if id == eventID {
			p.recentIDs = append(p.recentIDs[:i], p.recentIDs[i+1:]...)
			break
		}
	}
	return event
}

func (p *Pipeline) publish(msgType string, data any) {
	if p.hub == nil {
		return
	}
	p.hub.Publish(msgType, data)
}
