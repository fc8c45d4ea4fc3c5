package domain

import "time"

// =============================================================================
// Sender Profile (derived, recomputed by the intelligence index)
// =============================================================================

// RelationshipClass classifies who a sender is to the user.
type RelationshipClass string

const (
	RelationFounder         RelationshipClass = "founder"
	RelationBoard           RelationshipClass = "board"
	RelationInvestor        RelationshipClass = "investor"
	RelationInternal        RelationshipClass = "internal"
	RelationCustomer        RelationshipClass = "customer"
	RelationTeam            RelationshipClass = "team"
	RelationAdvisor         RelationshipClass = "advisor"
	RelationVendorCritical  RelationshipClass = "vendor_critical"
	RelationVendorImportant RelationshipClass = "vendor_important"
	RelationVendor          RelationshipClass = "vendor"
	RelationUnknown         RelationshipClass = "unknown"
)

// StrategicClass bands the importance score.
type StrategicClass string

const (
	StrategicCritical StrategicClass = "critical"
	StrategicHigh     StrategicClass = "high"
	StrategicMedium   StrategicClass = "medium"
	StrategicLow      StrategicClass = "low"
)

// SenderProfile aggregates everything known about one sender address.
type SenderProfile struct {
	Address        string            `json:"address"`
	DisplayName    string            `json:"display_name,omitempty"`
	TotalMessages  int               `json:"total_messages"`
	RecentMessages int               `json:"recent_messages"` // last 30 days
	Relationship   RelationshipClass `json:"relationship_class"`
	ImportanceScore float64          `json:"importance_score"` // 0 - 100
	Strategic      StrategicClass    `json:"strategic_class"`
	FirstSeen      time.Time         `json:"first_seen"`
	LastSeen       time.Time         `json:"last_seen"`
	TopKeywords    []string          `json:"top_keywords,omitempty"`
	IsVIP          bool              `json:"is_vip"`
}

// relationshipBonus feeds the importance score formula.
var relationshipBonus = map[RelationshipClass]float64{
	RelationFounder:         45,
	RelationBoard:           40,
	RelationInvestor:        35,
	RelationVendorCritical:  30,
	RelationCustomer:        25,
	RelationTeam:            20,
	RelationVendorImportant: 15,
}

// ComputeImportance recalculates ImportanceScore and Strategic from the
// counters. Keeps StrategicClass monotone-consistent with the score bands.
func (p *SenderProfile) ComputeImportance() {
	score := 2*float64(p.TotalMessages) + 5*float64(p.RecentMessages)
	score += relationshipBonus[p.Relationship]
	if p.IsVIP {
		score += 20
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	p.ImportanceScore = score
	p.Strategic = strategicClassFor(score, p.Relationship)
}

func strategicClassFor(score float64, rel RelationshipClass) StrategicClass {
	switch {
	case score >= 80 || rel == RelationFounder || rel == RelationBoard:
		return StrategicCritical
	case score >= 60 || rel == RelationInvestor || rel == RelationVendorCritical:
		return StrategicHigh
	case score >= 30 || rel == RelationCustomer || rel == RelationTeam:
		return StrategicMedium
	default:
		return StrategicLow
	}
}

// RelationshipWeight maps the class to a triage score contribution.
// Fixed table; unknown senders sit mid-low rather than zero.
func (c RelationshipClass) RelationshipWeight() float64 {
	switch c {
	case RelationFounder:
		return 0.98
	case RelationInternal:
		return 0.95
	case RelationBoard:
		return 0.95
	case RelationInvestor:
		return 0.90
	case RelationAdvisor:
		return 0.75
	case RelationVendorCritical:
		return 0.70
	case RelationCustomer:
		return 0.60
	case RelationTeam:
		return 0.55
	case RelationVendorImportant:
		return 0.45
	case RelationVendor:
		return 0.30
	default:
		return 0.40
	}
}
