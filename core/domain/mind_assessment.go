package domain

import "strings"

// =============================================================================
// Urgency & Confidence
// =============================================================================

// Urgency is the analyzer-visible urgency scale.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// Rank orders urgencies; higher wins ties in the consensus vote.
func (u Urgency) Rank() int {
	switch u {
	case UrgencyCritical:
		return 3
	case UrgencyHigh:
		return 2
	case UrgencyMedium:
		return 1
	default:
		return 0
	}
}

// Valid reports whether u is a known urgency.
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyCritical:
		return true
	}
	return false
}

// ParseUrgency parses an urgency string (case-insensitive).
func ParseUrgency(s string) (Urgency, bool) {
	u := Urgency(strings.ToLower(strings.TrimSpace(s)))
	return u, u.Valid()
}

// AgentConfidence is the banded confidence an analyzer reports.
type AgentConfidence string

const (
	ConfidenceLow      AgentConfidence = "low"
	ConfidenceMedium   AgentConfidence = "medium"
	ConfidenceHigh     AgentConfidence = "high"
	ConfidenceVeryHigh AgentConfidence = "very_high"
)

// Score maps the band to a numeric confidence in [0,1].
func (c AgentConfidence) Score() float64 {
	switch c {
	case ConfidenceVeryHigh:
		return 0.95
	case ConfidenceHigh:
		return 0.80
	case ConfidenceMedium:
		return 0.55
	default:
		return 0.30
	}
}

// =============================================================================
// Assessment
// =============================================================================

// Assessment is one analyzer's opinion about a single message.
// It lives only within a decision cycle and is never persisted on its own.
type Assessment struct {
	AnalyzerName    string   `json:"analyzer_name"`
	PriorityScore   float64  `json:"priority_score"` // 0.0 - 1.0
	Confidence      float64  `json:"confidence"`     // 0.0 - 1.0
	Urgency         Urgency  `json:"urgency"`
	SuggestedLabels []string `json:"suggested_labels,omitempty"`
	Risks           []string `json:"risks,omitempty"`
	Opportunities   []string `json:"opportunities,omitempty"`
	Rationale       string   `json:"rationale"`

	// SpamVeto forces SPAM_FOLDER regardless of other assessments.
	SpamVeto bool `json:"spam_veto,omitempty"`
}

// Clamp bounds score and confidence into [0,1].
func (a *Assessment) Clamp() {
	a.PriorityScore = clamp01(a.PriorityScore)
	a.Confidence = clamp01(a.Confidence)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
