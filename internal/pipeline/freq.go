package pipeline

import (
	"time"

	"trustd/pkg/models"
)

const (
	longWindow  = 5 * time.Minute
	shortWindow = 1 * time.Minute
)

// freqTracker counts recent events per type over two sliding windows.
// It is only touched by the single processing goroutine, so it carries
// no lock.
type freqTracker struct {
	seen map[models.EventType][]time.Time
	now  func() time.Time
}

func newFreqTracker() *freqTracker {
	return &freqTracker{
		seen: make(map[models.EventType][]time.Time),
		now:  time.Now,
	}
}

// observe records one event and returns the 5-minute and 1-minute
// counts for its type, including the event itself.
func (f *freqTracker) observe(eventType models.EventType) (count5m, count1m float64) {
	now := f.now()
	cutoff := now.Add(-longWindow)

	times := f.seen[eventType]
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	times = append(times[start:], now)
	f.seen[eventType] = times

	shortCutoff := now.Add(-shortWindow)
	for _, t := range times {
		if !t.Before(shortCutoff) {
			count1m++
		}
	}
	return float64(len(times)), count1m
}
