package collector

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"trustd/pkg/models"
)

func TestCollectorStartStopIdempotent(t *testing.T) {
	dir := t.TempDir()

	var mu sync.Mutex
	var received []*models.Event
	sink := func(event *models.Event) error {
		mu.Lock()
		received = append(received, event)
		mu.Unlock()
		return nil
	}

	c := New(Config{
		ProcessInterval: 50 * time.Millisecond,
		NetworkInterval: 50 * time.Millisecond,
		AuthLogInterval: 50 * time.Millisecond,
		AuthLogPath:     filepath.Join(dir, "missing-auth.log"),
		WatchRoots:      []string{dir},
	}, sink)

	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	// Second start must be a logged no-op, not an error.
	if err := c.Start(ctx); err != nil {
		t.Fatalf("second start failed: %v", err)
	}

	c.Stop()
	// Second stop must return immediately.
	c.Stop()
}

func TestEmitFillsEventFields(t *testing.T) {
	var got *models.Event
	c := New(Config{}, func(event *models.Event) error {
		got = event
		return nil
	})

	before := time.Now()
	c.emit(models.ProcessStart, map[string]any{"pid": 42})

	if got == nil {
		t.Fatalf("sink did not receive the event")
	}
	if got.ID == "" {
		t.Fatalf("emitted event must carry an id")
	}
	if got.Type != models.ProcessStart {
		t.Fatalf("type = %s, want process_start", got.Type)
	}
	if got.Timestamp.Before(before) {
		t.Fatalf("timestamp should be set at emission")
	}
	if got.Metadata["pid"] != 42 {
		t.Fatalf("metadata not carried through: %+v", got.Metadata)
	}
}

func TestEmitWithoutSink(t *testing.T) {
	c := New(Config{}, nil)
	// Must not panic.
	c.emit(models.Login, nil)
}

func TestProcessMonitorEmitsStartAndEnd(t *testing.T) {
	m := newProcessMonitor()

	// First poll over the real process table emits a start per process.
	var events []capturedEvent
	if err := m.poll(capture(&events)); err != nil {
		t.Skipf("process table unavailable: %v", err)
	}
	if len(events) == 0 {
		t.Fatalf("first poll should see at least this test process")
	}
	for _, e := range events {
		if e.eventType != models.ProcessStart {
			t.Fatalf("first poll emitted %s, want only process_start", e.eventType)
		}
		if e.metadata["process_name"] == "" {
			t.Fatalf("process event missing process_name: %+v", e.metadata)
		}
	}

	// A vanished pid emits an end event built from the cached metadata.
	m.previous[999999999] = struct{}{}
	m.cache[999999999] = procMeta{name: "ghost", username: "nobody"}

	events = nil
	if err := m.poll(capture(&events)); err != nil {
		t.Fatalf("second poll failed: %v", err)
	}
	var foundEnd bool
	for _, e := range events {
		if e.eventType == models.ProcessEnd && e.metadata["process_name"] == "ghost" {
			foundEnd = true
		}
	}
	if !foundEnd {
		t.Fatalf("expected a process_end for the vanished pid")
	}
}
