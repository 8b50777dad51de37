// Package features maps behavioral events onto fixed-length numeric
// vectors. The column order is part of the model contract: a vector
// extracted at training time and one extracted at prediction time must
// agree byte for byte, so any schema change invalidates saved models.
package features

import (
	"crypto/md5"
	"encoding/hex"
	"net"
	"strconv"
	"strings"
	"time"

	"trustd/pkg/models"
)

// VectorSize is the number of columns in every feature vector:
// hour, weekday, 8-way event type one-hot, 3 identity hashes,
// 2 frequency counters, 7 indicator flags.
const VectorSize = 22

// Frozen time values used in test mode so synthetic corpora do not pick
// up time-of-day anomalies from when the tests happen to run.
const (
	frozenHour    = 12
	frozenWeekday = 2 // Tuesday
)

var attackKeywords = []string{
	"attack", "exploit", "malware", "backdoor", "payload", "reverse_shell",
}

// Ports with well-known malware/backdoor associations.
var highRiskPorts = map[int]struct{}{
	1337:  {},
	4444:  {},
	6667:  {},
	9001:  {},
	12345: {},
	27374: {},
	31337: {},
	54321: {},
}

var sensitivePaths = []string{
	"/etc/passwd", "/etc/shadow", "/etc/sudoers", "/etc/ssh",
}

// Extractor converts events to feature vectors. The zero value uses
// wall-clock time fields; set Frozen for deterministic test vectors.
type Extractor struct {
	Frozen bool
}

// Extract maps a batch of events to feature vectors, one row per event.
func (x *Extractor) Extract(events []*models.Event) [][]float64 {
	out := make([][]float64, 0, len(events))
	for _, e := range events {
		out = append(out, x.ExtractOne(e))
	}
	return out
}

// ExtractOne maps a single event to its feature vector.
func (x *Extractor) ExtractOne(e *models.Event) []float64 {
	vec := make([]float64, 0, VectorSize)

	hour, weekday := x.timeFields(e.Timestamp)
	vec = append(vec, hour, weekday)
	vec = append(vec, oneHotEventType(e.Type)...)
	vec = append(vec,
		hashString(e.ProcessName()),
		hashString(e.Destination()),
		hashString(e.UserID()),
		e.FloatField("frequency_5min", 0),
		e.FloatField("frequency_1min", 0),
	)
	vec = append(vec, indicatorFlags(e)...)
	return vec
}

func (x *Extractor) timeFields(ts time.Time) (float64, float64) {
	if x.Frozen {
		return frozenHour, frozenWeekday
	}
	return float64(ts.Hour()), float64(ts.Weekday())
}

func oneHotEventType(t models.EventType) []float64 {
	enc := make([]float64, len(models.EventTypes))
	for i, known := range models.EventTypes {
		if t == known {
			enc[i] = 1
			break
		}
	}
	// Unknown types stay all-zero.
	return enc
}

// hashString folds a string into a small stable float. The empty string
// hashes to 0 so absent metadata is a fixed point of the schema.
func hashString(s string) float64 {
	if s == "" {
		return 0
	}
	sum := md5.Sum([]byte(s))
	v, err := strconv.ParseUint(hex.EncodeToString(sum[:4]), 16, 64)
	if err != nil {
		return 0
	}
	return float64(v) / 1e8
}

// indicatorFlags derives the seven 0/1 risk flags. Any panic while
// reading malformed metadata degrades to all-zero flags for this event
// instead of aborting batch extraction.
func indicatorFlags(e *models.Event) (flags []float64) {
	defer func() {
		if r := recover(); r != nil {
			flags = make([]float64, 7)
		}
	}()

	flags = []float64{
		boolToFloat(e.BoolField("auth_success")),
		boolToFloat(e.BoolField("suspicious")),
		boolToFloat(e.BoolField("unauthorized")),
		boolToFloat(hasAttackKeyword(e)),
		boolToFloat(isHighRiskPort(e)),
		boolToFloat(isSensitivePath(e.Field("file_path"))),
		boolToFloat(isPublicSource(e.Field("source_ip"))),
	}
	return flags
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func hasAttackKeyword(e *models.Event) bool {
	for _, v := range e.Metadata {
		s, ok := v.(string)
		if !ok {
			continue
		}
		lower := strings.ToLower(s)
		for _, kw := range attackKeywords {
			if strings.Contains(lower, kw) {
				return true
			}
		}
	}
	return false
}

func isHighRiskPort(e *models.Event) bool {
	// Absent port defaults to 443, which is never high-risk.
	port := int(e.FloatField("port", 443))
	_, risky := highRiskPorts[port]
	return risky
}

// IsSensitivePath reports whether path falls under one of the watched
// credential/SSH configuration locations.
func IsSensitivePath(path string) bool {
	return isSensitivePath(path)
}

func isSensitivePath(path string) bool {
	if path == "" {
		return false
	}
	for _, p := range sensitivePaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// isPublicSource reports whether source_ip parses to a routable
// non-private address. Absent or unparsable addresses are treated as
// private so local-only events carry no extra weight.
func isPublicSource(ip string) bool {
	if ip == "" {
		return false
	}
	addr := net.ParseIP(ip)
	if addr == nil {
		return false
	}
	return !addr.IsPrivate() && !addr.IsLoopback() && !addr.IsLinkLocalUnicast() && !addr.IsUnspecified()
}
