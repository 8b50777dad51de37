package features

import (
	"testing"
	"time"

	"trustd/pkg/models"
)

func testEvent(eventType models.EventType, metadata map[string]any) *models.Event {
	return &models.Event{
		ID:        "evt-1",
		Timestamp: time.Date(2026, 3, 9, 14, 30, 0, 0, time.UTC),
		Type:      eventType,
		Metadata:  metadata,
	}
}

func TestExtractOneVectorSize(t *testing.T) {
	x := &Extractor{Frozen: true}
	for _, eventType := range models.EventTypes {
		vec := x.ExtractOne(testEvent(eventType, nil))
		if len(vec) != VectorSize {
			t.Fatalf("%s: expected %d columns, got %d", eventType, VectorSize, len(vec))
		}
	}
}

func TestExtractOneIsDeterministic(t *testing.T) {
	x := &Extractor{Frozen: true}
	e := testEvent(models.NetworkConnection, map[string]any{
		"process_name": "curl",
		"destination":  "10.0.0.5:443",
		"username":     "alice",
		"port":         443,
	})

	a := x.ExtractOne(e)
	b := x.ExtractOne(e)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("column %d differs between extractions: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestFrozenTimeFields(t *testing.T) {
	x := &Extractor{Frozen: true}
	vec := x.ExtractOne(testEvent(models.ProcessStart, nil))
	if vec[0] != frozenHour || vec[1] != frozenWeekday {
		t.Fatalf("expected frozen time fields (%d, %d), got (%v, %v)", frozenHour, frozenWeekday, vec[0], vec[1])
	}

	live := &Extractor{}
	vec = live.ExtractOne(testEvent(models.ProcessStart, nil))
	if vec[0] != 14 {
		t.Fatalf("expected hour 14 from timestamp, got %v", vec[0])
	}
}

func TestOneHotEventType(t *testing.T) {
	x := &Extractor{Frozen: true}
	for i, eventType := range models.EventTypes {
		vec := x.ExtractOne(testEvent(eventType, nil))
		oneHot := vec[2 : 2+len(models.EventTypes)]
		for j, v := range oneHot {
			want := 0.0
			if j == i {
				want = 1.0
			}
			if v != want {
				t.Fatalf("%s: one-hot column %d = %v, want %v", eventType, j, v, want)
			}
		}
	}
}

func TestUnknownEventTypeHasZeroOneHot(t *testing.T) {
	x := &Extractor{Frozen: true}
	vec := x.ExtractOne(testEvent(models.EventType("mystery"), nil))
	for j, v := range vec[2 : 2+len(models.EventTypes)] {
		if v != 0 {
			t.Fatalf("one-hot column %d = %v for unknown type, want 0", j, v)
		}
	}
}

func TestHashStringEmptyIsZero(t *testing.T) {
	if hashString("") != 0 {
		t.Fatalf("empty string should hash to 0")
	}
	if hashString("bash") == 0 {
		t.Fatalf("non-empty string should not hash to 0")
	}
	if hashString("bash") != hashString("bash") {
		t.Fatalf("hash should be stable")
	}
	if hashString("bash") == hashString("zsh") {
		t.Fatalf("distinct strings should hash apart")
	}
}

func TestIndicatorFlags(t *testing.T) {
	x := &Extractor{Frozen: true}
	flagStart := VectorSize - 7

	vec := x.ExtractOne(testEvent(models.NetworkConnection, map[string]any{
		"port":      4444,
		"source_ip": "8.8.8.8",
	}))
	flags := vec[flagStart:]
	if flags[4] != 1 {
		t.Fatalf("port 4444 should set the high-risk port flag")
	}
	if flags[6] != 1 {
		t.Fatalf("8.8.8.8 should set the public source flag")
	}

	vec = x.ExtractOne(testEvent(models.FileChange, map[string]any{
		"file_path": "/etc/shadow",
	}))
	if vec[flagStart+5] != 1 {
		t.Fatalf("/etc/shadow should set the sensitive path flag")
	}

	vec = x.ExtractOne(testEvent(models.ProcessStart, map[string]any{
		"process_name": "reverse_shell.sh",
	}))
	if vec[flagStart+3] != 1 {
		t.Fatalf("attack keyword should set the keyword flag")
	}

	vec = x.ExtractOne(testEvent(models.Login, map[string]any{
		"auth_success": true,
	}))
	if vec[flagStart] != 1 {
		t.Fatalf("auth_success should set the first flag")
	}
}

func TestIndicatorFlagDefaults(t *testing.T) {
	x := &Extractor{Frozen: true}
	flagStart := VectorSize - 7

	// No metadata at all: port defaults to 443 (not risky), source is
	// treated as private.
	vec := x.ExtractOne(testEvent(models.NetworkConnection, nil))
	for i, v := range vec[flagStart:] {
		if v != 0 {
			t.Fatalf("flag %d should default to 0, got %v", i, v)
		}
	}

	vec = x.ExtractOne(testEvent(models.NetworkConnection, map[string]any{
		"source_ip": "192.168.1.10",
	}))
	if vec[flagStart+6] != 0 {
		t.Fatalf("private source should not set the public source flag")
	}
	vec = x.ExtractOne(testEvent(models.NetworkConnection, map[string]any{
		"source_ip": "not-an-ip",
	}))
	if vec[flagStart+6] != 0 {
		t.Fatalf("unparsable source should not set the public source flag")
	}
}

func TestFrequencyColumns(t *testing.T) {
	x := &Extractor{Frozen: true}
	vec := x.ExtractOne(testEvent(models.ProcessStart, map[string]any{
		"frequency_5min": 12.0,
		"frequency_1min": 3.0,
	}))
	freqStart := 2 + len(models.EventTypes) + 3
	if vec[freqStart] != 12 || vec[freqStart+1] != 3 {
		t.Fatalf("frequency columns = (%v, %v), want (12, 3)", vec[freqStart], vec[freqStart+1])
	}
}

func TestIsSensitivePath(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{"/etc/passwd", true},
		{"/etc/ssh/sshd_config", true},
		{"/home/alice/.bashrc", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsSensitivePath(tc.path); got != tc.want {
			t.Fatalf("IsSensitivePath(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}
