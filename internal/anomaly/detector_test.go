package anomaly

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"trustd/pkg/models"
)

func corpusEvent(id string, eventType models.EventType, metadata map[string]any) *models.Event {
	return &models.Event{
		ID:        id,
		Timestamp: time.Date(2026, 4, 7, 9, 0, 0, 0, time.UTC),
		Type:      eventType,
		Metadata:  metadata,
	}
}

// baselineCorpus is ten identical events plus two that differ, enough
// to train with default settings.
func baselineCorpus() []*models.Event {
	var out []*models.Event
	for i := 0; i < 10; i++ {
		out = append(out, corpusEvent("base", models.ProcessStart, map[string]any{
			"process_name": "bash",
			"username":     "alice",
		}))
	}
	out = append(out,
		corpusEvent("odd-1", models.NetworkConnection, map[string]any{
			"process_name": "curl",
			"destination":  "10.0.0.9:443",
		}),
		corpusEvent("odd-2", models.Login, map[string]any{
			"auth_success": true,
			"username":     "alice",
		}),
	)
	return out
}

func TestTrainRejectsSmallCorpus(t *testing.T) {
	d := NewDetector(Config{FrozenTime: true})
	err := d.Train(baselineCorpus()[:9])
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
	if d.IsTrained() {
		t.Fatalf("failed training must not publish a model")
	}
}

func TestTrainPublishesModel(t *testing.T) {
	d := NewDetector(Config{FrozenTime: true})
	if err := d.Train(baselineCorpus()); err != nil {
		t.Fatalf("train failed: %v", err)
	}
	if !d.IsTrained() {
		t.Fatalf("expected trained detector")
	}
}

func TestPredictBeforeTrainFailsClosed(t *testing.T) {
	d := NewDetector(Config{FrozenTime: true})
	isAnomaly, confidence := d.Predict(corpusEvent("x", models.ProcessStart, nil))
	if isAnomaly || confidence != 0 {
		t.Fatalf("untrained detector must predict (false, 0), got (%v, %v)", isAnomaly, confidence)
	}
}

func TestPredictBatchBeforeTrainFailsLoudly(t *testing.T) {
	d := NewDetector(Config{FrozenTime: true})
	if _, err := d.PredictBatch(baselineCorpus()); !errors.Is(err, ErrNotTrained) {
		t.Fatalf("expected ErrNotTrained, got %v", err)
	}
}

// An event identical to the dominant training pattern can never land
// above the contamination-quantile threshold.
func TestPredictMajorityPatternIsNormal(t *testing.T) {
	d := NewDetector(Config{FrozenTime: true})
	if err := d.Train(baselineCorpus()); err != nil {
		t.Fatalf("train failed: %v", err)
	}

	isAnomaly, confidence := d.Predict(corpusEvent("probe", models.ProcessStart, map[string]any{
		"process_name": "bash",
		"username":     "alice",
	}))
	if isAnomaly {
		t.Fatalf("majority pattern flagged anomalous (confidence %v)", confidence)
	}
	if confidence <= 0 {
		t.Fatalf("confidence must be positive after training, got %v", confidence)
	}
}

func TestPredictConfidenceStaysInBand(t *testing.T) {
	cfg := Config{FrozenTime: true}
	d := NewDetector(cfg)
	if err := d.Train(baselineCorpus()); err != nil {
		t.Fatalf("train failed: %v", err)
	}

	verdicts, err := d.PredictBatch(baselineCorpus())
	if err != nil {
		t.Fatalf("batch predict failed: %v", err)
	}
	for i, v := range verdicts {
		if v.Confidence < d.cfg.MinConfidence || v.Confidence > d.cfg.MaxConfidence {
			t.Fatalf("verdict %d confidence %v outside [%v, %v]", i, v.Confidence, d.cfg.MinConfidence, d.cfg.MaxConfidence)
		}
	}
}

func TestEstimateContamination(t *testing.T) {
	d := NewDetector(Config{FrozenTime: true})

	var events []*models.Event
	for i := 0; i < 200; i++ {
		events = append(events, corpusEvent("n", models.ProcessStart, nil))
	}
	for i := 0; i < 50; i++ {
		events = append(events, corpusEvent("a", models.NetworkConnection, map[string]any{
			"is_anomaly": true,
		}))
	}

	got := d.estimateContamination(events)
	want := 50.0 / 250.0
	if got != want {
		t.Fatalf("contamination = %v, want %v", got, want)
	}
}

func TestEstimateContaminationDefaultsAndClamps(t *testing.T) {
	d := NewDetector(Config{FrozenTime: true})

	// No labels at all: default.
	events := []*models.Event{corpusEvent("n", models.ProcessStart, nil)}
	if got := d.estimateContamination(events); got != d.cfg.DefaultContamination {
		t.Fatalf("unlabeled contamination = %v, want default %v", got, d.cfg.DefaultContamination)
	}

	// Everything suspicious: clamped at the maximum.
	events = nil
	for i := 0; i < 20; i++ {
		events = append(events, corpusEvent("s", models.ProcessStart, map[string]any{
			"suspicious": true,
		}))
	}
	if got := d.estimateContamination(events); got != d.cfg.MaxContamination {
		t.Fatalf("all-suspicious contamination = %v, want max %v", got, d.cfg.MaxContamination)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")

	d := NewDetector(Config{Path: path, FrozenTime: true})
	if err := d.Train(baselineCorpus()); err != nil {
		t.Fatalf("train failed: %v", err)
	}

	restored := NewDetector(Config{Path: path, FrozenTime: true})
	found, err := restored.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !found {
		t.Fatalf("expected artifact to be found")
	}
	if !restored.IsTrained() {
		t.Fatalf("restored detector should be trained")
	}

	probe := corpusEvent("probe", models.ProcessStart, map[string]any{
		"process_name": "bash",
		"username":     "alice",
	})
	wantAnomaly, wantConf := d.Predict(probe)
	gotAnomaly, gotConf := restored.Predict(probe)
	if wantAnomaly != gotAnomaly || wantConf != gotConf {
		t.Fatalf("restored verdict (%v, %v) differs from original (%v, %v)",
			gotAnomaly, gotConf, wantAnomaly, wantConf)
	}
}

func TestLoadMissingArtifact(t *testing.T) {
	d := NewDetector(Config{Path: filepath.Join(t.TempDir(), "missing.json"), FrozenTime: true})
	found, err := d.Load()
	if err != nil {
		t.Fatalf("missing artifact must not error, got %v", err)
	}
	if found || d.IsTrained() {
		t.Fatalf("missing artifact must leave the detector cold")
	}
}

func TestRetrainIncremental(t *testing.T) {
	d := NewDetector(Config{FrozenTime: true})

	extra := []*models.Event{corpusEvent("new", models.Logout, map[string]any{"username": "alice"})}
	if err := d.RetrainIncremental(extra); !errors.Is(err, ErrNotTrained) {
		t.Fatalf("retrain before train should fail with ErrNotTrained, got %v", err)
	}

	if err := d.Train(baselineCorpus()); err != nil {
		t.Fatalf("train failed: %v", err)
	}
	before := len(d.state.Corpus)

	if err := d.RetrainIncremental(extra); err != nil {
		t.Fatalf("retrain failed: %v", err)
	}
	if !d.IsTrained() {
		t.Fatalf("detector must stay trained after refit")
	}
	if got := len(d.state.Corpus); got != before+1 {
		t.Fatalf("corpus size = %d after refit, want %d", got, before+1)
	}
}
