// Package anomaly fits an unsupervised outlier model over event feature
// vectors and scores live events against it.
//
// Decision polarity, fixed across training and prediction: the forest
// emits a score in [0, 1] where higher is more anomalous; training
// derives a threshold from the contamination quantile of its own
// scores, and the decision value is threshold minus score. Positive
// decisions are normal. An event is classified anomalous only when the
// decision falls below the negative margin, which biases the detector
// toward fewer false positives.
package anomaly

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"trustd/internal/features"
	"trustd/internal/logger"
	"trustd/pkg/models"
)

var (
	// ErrInsufficientData rejects training corpora that are too small
	// to say anything about "normal".
	ErrInsufficientData = errors.New("insufficient training data")
	// ErrNotTrained rejects operations that require a fitted model.
	ErrNotTrained = errors.New("model not trained")
)

// Config controls detector behavior. Zero values fall back to the
// defaults below.
type Config struct {
	Path                 string
	MinTrainingEvents    int
	Trees                int
	SampleSize           int
	DefaultContamination float64
	MinContamination     float64
	MaxContamination     float64
	DecisionMargin       float64
	MinConfidence        float64
	MaxConfidence        float64
	Seed                 int64
	FrozenTime           bool
}

func (c *Config) applyDefaults() {
	if c.MinTrainingEvents <= 0 {
		c.MinTrainingEvents = 10
	}
	if c.Trees <= 0 {
		c.Trees = 100
	}
	if c.SampleSize <= 0 {
		c.SampleSize = 256
	}
	if c.DefaultContamination <= 0 {
		c.DefaultContamination = 0.15
	}
	if c.MinContamination <= 0 {
		c.MinContamination = 0.05
	}
	if c.MaxContamination <= 0 {
		c.MaxContamination = 0.3
	}
	if c.DecisionMargin <= 0 {
		c.DecisionMargin = 0.05
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = 0.15
	}
	if c.MaxConfidence <= 0 {
		c.MaxConfidence = 0.95
	}
	if c.Seed == 0 {
		c.Seed = 42
	}
}

// Verdict is one scoring outcome.
type Verdict struct {
	IsAnomaly  bool
	Confidence float64
	Decision   float64
}

// fittedState is everything prediction needs, built off to the side
// during training and published atomically so concurrent Predict calls
// never observe a half-updated model.
type fittedState struct {
	Scaler        *RobustScaler `json:"scaler"`
	Forest        *Forest       `json:"forest"`
	Threshold     float64       `json:"threshold"`
	Contamination float64       `json:"contamination"`
	Corpus        [][]float64   `json:"corpus"`
	TrainedAt     time.Time     `json:"trained_at"`
}

// Detector is the trainable outlier scorer.
type Detector struct {
	cfg       Config
	extractor *features.Extractor

	mu    sync.RWMutex
	state *fittedState
}

// NewDetector creates an untrained detector.
func NewDetector(cfg Config) *Detector {
	cfg.applyDefaults()
	return &Detector{
		cfg:       cfg,
		extractor: &features.Extractor{Frozen: cfg.FrozenTime},
	}
}

// IsTrained reports whether a fitted model is published.
func (d *Detector) IsTrained() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state != nil
}

// Train fits the scaler and forest on the event corpus and publishes
// the result. At least MinTrainingEvents events are required.
func (d *Detector) Train(events []*models.Event) error {
	if len(events) < d.cfg.MinTrainingEvents {
		return fmt.Errorf("%w: have %d events, need %d", ErrInsufficientData, len(events), d.cfg.MinTrainingEvents)
	}

	vectors := d.extractor.Extract(events)
	sanitize(vectors)

	contamination := d.estimateContamination(events)
	state, err := fit(vectors, contamination, d.cfg)
	if err != nil {
		return fmt.Errorf("fit model: %w", err)
	}

	d.mu.Lock()
	d.state = state
	d.mu.Unlock()

	logger.Infof("Model trained on %d events (contamination=%.3f threshold=%.4f)",
		len(events), contamination, state.Threshold)

	if d.cfg.Path != "" {
		if err := d.Save(); err != nil {
			logger.Errorf("Failed to save model artifact: %v", err)
		}
	}
	return nil
}

// fit builds a complete fitted state without touching the detector, so
// retraining can never expose partial results.
func fit(vectors [][]float64, contamination float64, cfg Config) (*fittedState, error) {
	scaler := &RobustScaler{}
	if err := scaler.Fit(vectors); err != nil {
		return nil, err
	}
	scaled, err := scaler.Transform(vectors)
	if err != nil {
		return nil, err
	}

	forest := NewForest(cfg.Trees, cfg.SampleSize)
	forest.Fit(scaled, rand.New(rand.NewSource(cfg.Seed)))

	scores := make([]float64, len(scaled))
	for i, row := range scaled {
		scores[i] = forest.Score(row)
	}
	sort.Float64s(scores)
	threshold := percentile(scores, 1-contamination)

	return &fittedState{
		Scaler:        scaler,
		Forest:        forest,
		Threshold:     threshold,
		Contamination: contamination,
		Corpus:        vectors,
		TrainedAt:     time.Now(),
	}, nil
}

// estimateContamination reads ground-truth anomaly flags out of event
// metadata when present and falls back to the configured default. The
// result is clamped to the configured band either way.
func (d *Detector) estimateContamination(events []*models.Event) float64 {
	flagged := 0
	labeled := 0
	for _, e := range events {
		if e.Metadata == nil {
			continue
		}
		if _, ok := e.Metadata["is_anomaly"]; ok {
			labeled++
			if e.BoolField("is_anomaly") {
				flagged++
			}
			continue
		}
		if e.BoolField("suspicious") || e.BoolField("unauthorized") {
			labeled++
			flagged++
		}
	}

	estimate := d.cfg.DefaultContamination
	if labeled > 0 && flagged > 0 {
		estimate = float64(flagged) / float64(len(events))
	}
	return clamp(estimate, d.cfg.MinContamination, d.cfg.MaxContamination)
}

// Predict scores one event. An untrained detector fails closed: not
// anomalous, zero confidence. A transient model problem must never
// itself lock out a live session.
func (d *Detector) Predict(event *models.Event) (bool, float64) {
	d.mu.RLock()
	state := d.state
	d.mu.RUnlock()

	if state == nil {
		return false, 0
	}

	verdict, err := score(state, d.extractor, event, d.cfg)
	if err != nil {
		logger.Warnf("Prediction failed for event %s: %v", event.ID, err)
		return false, 0
	}
	return verdict.IsAnomaly, verdict.Confidence
}

// PredictBatch scores many events at once. Unlike Predict it fails
// loudly when the model is untrained: batch scoring is used for offline
// evaluation, where a silent all-normal fallback would hide mistakes.
func (d *Detector) PredictBatch(events []*models.Event) ([]Verdict, error) {
	d.mu.RLock()
	state := d.state
	d.mu.RUnlock()

	if state == nil {
		return nil, ErrNotTrained
	}

	out := make([]Verdict, 0, len(events))
	for _, e := range events {
		verdict, err := score(state, d.extractor, e, d.cfg)
		if err != nil {
			return nil, fmt.Errorf("score event %s: %w", e.ID, err)
		}
		out = append(out, verdict)
	}
	return out, nil
}

func score(state *fittedState, extractor *features.Extractor, event *models.Event, cfg Config) (Verdict, error) {
	vec := extractor.ExtractOne(event)
	rows := [][]float64{vec}
	sanitize(rows)
	scaled, err := state.Scaler.Transform(rows)
	if err != nil {
		return Verdict{}, err
	}

	decision := state.Threshold - state.Forest.Score(scaled[0])
	isAnomaly := decision < -cfg.DecisionMargin

	// Confidence grows with distance from the margin and never reaches
	// the degenerate endpoints 0 or 1.
	distance := decision + cfg.DecisionMargin
	if distance < 0 {
		distance = -distance
	}
	confidence := clamp(distance/0.5, cfg.MinConfidence, cfg.MaxConfidence)

	return Verdict{IsAnomaly: isAnomaly, Confidence: confidence, Decision: decision}, nil
}

// RetrainIncremental refits the model over the retained corpus plus the
// newly confirmed-normal events. It fails if the model was never
// initially trained.
func (d *Detector) RetrainIncremental(newNormal []*models.Event) error {
	d.mu.RLock()
	state := d.state
	d.mu.RUnlock()

	if state == nil {
		return ErrNotTrained
	}

	vectors := d.extractor.Extract(newNormal)
	sanitize(vectors)
	corpus := make([][]float64, 0, len(state.Corpus)+len(vectors))
	corpus = append(corpus, state.Corpus...)
	corpus = append(corpus, vectors...)

	next, err := fit(corpus, state.Contamination, d.cfg)
	if err != nil {
		return fmt.Errorf("refit model: %w", err)
	}

	d.mu.Lock()
	d.state = next
	d.mu.Unlock()

	logger.Infof("Model refit with %d confirmed-normal events (corpus=%d)", len(newNormal), len(corpus))

	if d.cfg.Path != "" {
		if err := d.Save(); err != nil {
			logger.Errorf("Failed to save model artifact: %v", err)
		}
	}
	return nil
}

type artifact struct {
	Version int          `json:"version"`
	Trained bool         `json:"trained"`
	State   *fittedState `json:"state"`
}

// Save writes the scaler, forest, threshold and trained flag as a
// single artifact. The write goes through a temp file and rename so a
// crash mid-write never leaves a torn artifact behind.
func (d *Detector) Save() error {
	d.mu.RLock()
	state := d.state
	d.mu.RUnlock()

	if state == nil {
		return ErrNotTrained
	}
	if d.cfg.Path == "" {
		return fmt.Errorf("no model path configured")
	}

	data, err := json.Marshal(artifact{Version: 1, Trained: true, State: state})
	if err != nil {
		return fmt.Errorf("encode model artifact: %w", err)
	}

	dir := filepath.Dir(d.cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create model directory: %w", err)
		}
	}

	tmp := d.cfg.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write model artifact: %w", err)
	}
	if err := os.Rename(tmp, d.cfg.Path); err != nil {
		return fmt.Errorf("publish model artifact: %w", err)
	}

	logger.Infof("Model artifact saved to %s", d.cfg.Path)
	return nil
}

// Load restores a saved artifact. A missing file is not an error; it
// returns found=false so callers can start cold.
func (d *Detector) Load() (bool, error) {
	if d.cfg.Path == "" {
		return false, nil
	}
	data, err := os.ReadFile(d.cfg.Path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read model artifact: %w", err)
	}

	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return false, fmt.Errorf("decode model artifact: %w", err)
	}
	if !a.Trained || a.State == nil || a.State.Forest == nil || a.State.Scaler == nil {
		return false, fmt.Errorf("model artifact at %s is incomplete", d.cfg.Path)
	}

	d.mu.Lock()
	d.state = a.State
	d.mu.Unlock()

	logger.Infof("Model artifact loaded from %s (trained at %s)", d.cfg.Path, a.State.TrainedAt.Format(time.RFC3339))
	return true, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
