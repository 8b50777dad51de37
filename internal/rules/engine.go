package rules

import "trustd/pkg/models"

// Tag is a matched rule label attached to an event before scoring.
type Tag struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Severity string `json:"severity"`
}

// Engine applies detection rules to events.
type Engine interface {
	Apply(event *models.Event) []Tag
}

// NoopEngine returns no tags.
type NoopEngine struct{}

// Apply returns an empty tag list.
func (n *NoopEngine) Apply(event *models.Event) []Tag {
	return nil
}
