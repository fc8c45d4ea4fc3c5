// Package analysis holds the per-message analyzers and the collaborator
// that reconciles their assessments into one decision.
package analysis

import (
	"context"

	"mailmind/core/domain"
)

// Analyzer names, also the keys of the collaborator weight table.
const (
	NameStrategic    = "strategic"
	NameRelationship = "relationship"
	NameThread       = "thread"
	NameTriage       = "triage"
	NameSpamFilter   = "spam_filter"
)

// Analyzer produces one independent assessment of a message. Analyzers
// never fail the pipeline: index misses and LLM errors degrade to a
// low-confidence assessment.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, m *domain.Message) *domain.Assessment
}

// urgencyForScore bands a priority score into an urgency.
func urgencyForScore(score float64) domain.Urgency {
	switch {
	case score >= 0.85:
		return domain.UrgencyCritical
	case score >= 0.65:
		return domain.UrgencyHigh
	case score >= 0.40:
		return domain.UrgencyMedium
	default:
		return domain.UrgencyLow
	}
}
