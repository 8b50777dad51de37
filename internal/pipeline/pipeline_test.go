package pipeline

import (
	"sync"
	"testing"
	"time"

	"trustd/internal/anomaly"
	"trustd/internal/session"
	"trustd/internal/store/jsonl"
	"trustd/internal/trust"
	"trustd/pkg/models"
)

type fakeModel struct {
	trained bool
}

func (m *fakeModel) Train(events []*models.Event) error {
	m.trained = true
	return nil
}

func (m *fakeModel) IsTrained() bool { return m.trained }

type fakeHub struct {
	mu     sync.Mutex
	frames []string
}

func (h *fakeHub) Publish(msgType string, data any) {
	h.mu.Lock()
	h.frames = append(h.frames, msgType)
	h.mu.Unlock()
}

func (h *fakeHub) types() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.frames))
	copy(out, h.frames)
	return out
}

func newTestPipeline(t *testing.T, model session.Model) (*Pipeline, *session.Manager, *trust.Engine, *fakeHub) {
	t.Helper()

	st, err := jsonl.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("store setup failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	trustEngine := trust.NewEngine(trust.Config{})
	sessions := session.NewManager(model, trustEngine, st, nil)
	detector := anomaly.NewDetector(anomaly.Config{FrozenTime: true})
	hub := &fakeHub{}
	p := New(Config{QueueSize: 16}, sessions, detector, trustEngine, st, nil, hub)
	return p, sessions, trustEngine, hub
}

func liveEvent(id string, eventType models.EventType) *models.Event {
	return &models.Event{
		ID:        id,
		Timestamp: time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC),
		Type:      eventType,
		Metadata:  map[string]any{"process_name": "bash"},
	}
}

func TestProcessEnrichesFrequencies(t *testing.T) {
	p, _, _, _ := newTestPipeline(t, &fakeModel{})

	event := liveEvent("evt-1", models.ProcessStart)
	p.process(event)

	if event.Metadata["frequency_5min"] != 1.0 || event.Metadata["frequency_1min"] != 1.0 {
		t.Fatalf("frequencies not stamped: %+v", event.Metadata)
	}
}

func TestProcessRoutesTrainingEvents(t *testing.T) {
	p, sessions, _, hub := newTestPipeline(t, &fakeModel{})

	if _, err := sessions.StartTraining(); err != nil {
		t.Fatalf("start training failed: %v", err)
	}

	event := liveEvent("evt-1", models.Login)
	p.process(event)

	if _, count, _ := sessions.TrainingStatus(); count != 1 {
		t.Fatalf("training corpus = %d events, want 1", count)
	}
	if event.SessionID == "" {
		t.Fatalf("training event must carry the session id")
	}

	frames := hub.types()
	if len(frames) != 1 || frames[0] != typeEvent {
		t.Fatalf("training event should broadcast one event frame, got %v", frames)
	}
}

func TestProcessLiveWithUntrainedDetectorFailsClosed(t *testing.T) {
	model := &fakeModel{trained: true}
	p, sessions, trustEngine, _ := newTestPipeline(t, model)

	if _, _, err := sessions.StartLive(); err != nil {
		t.Fatalf("start live failed: %v", err)
	}

	p.process(liveEvent("evt-1", models.SudoCommand))

	// The detector holds no fitted state, so the event must not score
	// anomalous and the trust score must not move.
	if trustEngine.Score() != 100 {
		t.Fatalf("trust score = %v, want 100", trustEngine.Score())
	}
	if trustEngine.PendingCount() != 0 {
		t.Fatalf("no deduction should be pending")
	}
}

func TestProcessIdleEventsAreStoredOnly(t *testing.T) {
	p, _, trustEngine, hub := newTestPipeline(t, &fakeModel{})

	p.process(liveEvent("evt-1", models.FileChange))

	if trustEngine.Score() != 100 {
		t.Fatalf("idle event must not touch the trust score")
	}
	if len(hub.types()) != 0 {
		t.Fatalf("idle event must not broadcast, got %v", hub.types())
	}
}

func TestResolveAnomalyRestoresTrust(t *testing.T) {
	model := &fakeModel{trained: true}
	p, sessions, trustEngine, hub := newTestPipeline(t, model)

	if _, _, err := sessions.StartLive(); err != nil {
		t.Fatalf("start live failed: %v", err)
	}

	// Seed the store and trust state as the live path would on an
	// anomalous verdict.
	event := liveEvent("evt-1", models.AuthFailure)
	trustEngine.UpdateOnAnomaly(event.ID, event.Type, 1.0, true)
	if trustEngine.Score() != 75 {
		t.Fatalf("setup score = %v, want 75", trustEngine.Score())
	}
	record := &models.Anomaly{
		ID:         "anom-1",
		EventID:    event.ID,
		EventType:  event.Type,
		Confidence: 1.0,
		CreatedAt:  event.Timestamp,
	}
	if err := p.store.CreateAnomaly(record); err != nil {
		t.Fatalf("seed anomaly failed: %v", err)
	}
	p.rememberAnomalous(event)

	resolved, result, err := p.ResolveAnomaly("anom-1", "operator")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if !resolved.IsResolved || resolved.ResolvedBy != "operator" {
		t.Fatalf("resolution fields not set: %+v", resolved)
	}
	if result.Restored != 25 || trustEngine.Score() != 100 {
		t.Fatalf("trust not restored: result=%+v score=%v", result, trustEngine.Score())
	}

	frames := hub.types()
	if len(frames) < 2 {
		t.Fatalf("resolution should broadcast anomaly and trust frames, got %v", frames)
	}
}

func TestResolveUnknownAnomaly(t *testing.T) {
	p, _, _, _ := newTestPipeline(t, &fakeModel{})
	if _, _, err := p.ResolveAnomaly("missing", "operator"); err == nil {
		t.Fatalf("expected error resolving unknown anomaly")
	}
}

func TestRememberAnomalousEvictsOldest(t *testing.T) {
	p, _, _, _ := newTestPipeline(t, &fakeModel{})

	for i := 0; i < recentAnomalyCap+10; i++ {
		p.rememberAnomalous(&models.Event{ID: string(rune('a' + i%26)) + time.Duration(i).String()})
	}
	if len(p.recent) > recentAnomalyCap {
		t.Fatalf("cache size = %d, want <= %d", len(p.recent), recentAnomalyCap)
	}
	if len(p.recentIDs) != len(p.recent) {
		t.Fatalf("index and map out of sync: %d vs %d", len(p.recentIDs), len(p.recent))
	}
}
