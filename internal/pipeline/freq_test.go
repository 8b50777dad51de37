package pipeline

import (
	"testing"
	"time"

	"trustd/pkg/models"
)

func TestFreqTrackerCountsWindows(t *testing.T) {
	f := newFreqTracker()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return now }

	c5, c1 := f.observe(models.ProcessStart)
	if c5 != 1 || c1 != 1 {
		t.Fatalf("first observation = (%v, %v), want (1, 1)", c5, c1)
	}

	// 30 seconds later: both windows still cover the first event.
	now = now.Add(30 * time.Second)
	c5, c1 = f.observe(models.ProcessStart)
	if c5 != 2 || c1 != 2 {
		t.Fatalf("after 30s = (%v, %v), want (2, 2)", c5, c1)
	}

	// 2 minutes later: the 1-minute window has emptied.
	now = now.Add(2 * time.Minute)
	c5, c1 = f.observe(models.ProcessStart)
	if c5 != 3 || c1 != 1 {
		t.Fatalf("after 2m30s = (%v, %v), want (3, 1)", c5, c1)
	}

	// 10 minutes later: everything expired but the new event.
	now = now.Add(10 * time.Minute)
	c5, c1 = f.observe(models.ProcessStart)
	if c5 != 1 || c1 != 1 {
		t.Fatalf("after expiry = (%v, %v), want (1, 1)", c5, c1)
	}
}

func TestFreqTrackerIsPerType(t *testing.T) {
	f := newFreqTracker()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return now }

	f.observe(models.ProcessStart)
	c5, _ := f.observe(models.Login)
	if c5 != 1 {
		t.Fatalf("login count = %v, want 1 (types must not share windows)", c5)
	}
}
