package analysis

import (
	"context"
	"fmt"

	"mailmind/core/domain"
	"mailmind/core/service/intelligence"
)

// =============================================================================
// Relationship Analyzer
// =============================================================================

// RelationshipAnalyzer scores purely from who the sender is: the
// relationship class table, with contact-graph strength informing
// confidence.
type RelationshipAnalyzer struct {
	index *intelligence.Index
}

func NewRelationshipAnalyzer(index *intelligence.Index) *RelationshipAnalyzer {
	return &RelationshipAnalyzer{index: index}
}

func (a *RelationshipAnalyzer) Name() string { return NameRelationship }

func (a *RelationshipAnalyzer) Analyze(_ context.Context, m *domain.Message) *domain.Assessment {
	// RelationshipFor falls back to domain classification for unknown
	// senders, so the fixed table always applies.
	class := a.index.RelationshipFor(m.Sender.Address)
	strength := a.index.Contact(m.Sender.Address)

	as := &domain.Assessment{
		AnalyzerName:  a.Name(),
		PriorityScore: class.RelationshipWeight(),
		Confidence:    relationshipConfidence(class, strength).Score(),
		Rationale:     fmt.Sprintf("sender relationship %s, contact strength %s", class, strength),
	}
	as.Urgency = urgencyForScore(as.PriorityScore)

	switch class {
	case domain.RelationFounder, domain.RelationBoard:
		as.SuggestedLabels = append(as.SuggestedLabels, "leadership")
	case domain.RelationInvestor:
		as.SuggestedLabels = append(as.SuggestedLabels, "investor")
	case domain.RelationVendorCritical:
		as.SuggestedLabels = append(as.SuggestedLabels, "critical-vendor")
	}

	as.Clamp()
	return as
}

func relationshipConfidence(class domain.RelationshipClass, strength intelligence.ContactStrength) domain.AgentConfidence {
	if class == domain.RelationUnknown {
		return domain.ConfidenceLow
	}
	switch strength {
	case intelligence.StrengthStrong:
		return domain.ConfidenceVeryHigh
	case intelligence.StrengthModerate:
		return domain.ConfidenceHigh
	case intelligence.StrengthWeak:
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceMedium
	}
}
