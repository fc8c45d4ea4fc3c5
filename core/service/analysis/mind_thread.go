package analysis

import (
	"context"
	"fmt"

	"mailmind/core/domain"
	"mailmind/core/service/intelligence"
)

// =============================================================================
// Thread Analyzer
// =============================================================================

// ThreadAnalyzer scores from the conversation the message belongs to.
type ThreadAnalyzer struct {
	index *intelligence.Index
}

func NewThreadAnalyzer(index *intelligence.Index) *ThreadAnalyzer {
	return &ThreadAnalyzer{index: index}
}

func (a *ThreadAnalyzer) Name() string { return NameThread }

func (a *ThreadAnalyzer) Analyze(_ context.Context, m *domain.Message) *domain.Assessment {
	as := &domain.Assessment{AnalyzerName: a.Name()}

	tp := a.index.Thread(m.ThreadID)
	if m.ThreadID == "" || tp == nil {
		as.PriorityScore = 0.4
		as.Confidence = domain.ConfidenceLow.Score()
		as.Urgency = domain.UrgencyLow
		as.Rationale = "no thread context"
		as.Clamp()
		return as
	}

	as.PriorityScore = tp.Type.BaseScore() * tp.Status.Multiplier()
	as.Confidence = threadConfidence(tp).Score()
	as.Urgency = urgencyForScore(as.PriorityScore)
	as.Rationale = fmt.Sprintf("%s thread (%s, %d messages)", tp.Type, tp.Status, tp.MessageCount)

	if tp.Type == domain.ThreadDecision && tp.Status == domain.ThreadStalled {
		as.Risks = append(as.Risks, "decision thread without outcome")
		if as.Urgency.Rank() < domain.UrgencyHigh.Rank() {
			as.Urgency = domain.UrgencyHigh
		}
	}
	if tp.Status == domain.ThreadEscalated {
		as.Risks = append(as.Risks, "thread has been escalated")
	}
	if tp.Rhythm == domain.RhythmStalled && tp.Status == domain.ThreadActive {
		as.Risks = append(as.Risks, "response rhythm has slowed")
	}

	as.Clamp()
	return as
}

func threadConfidence(tp *domain.ThreadProfile) domain.AgentConfidence {
	switch {
	case tp.MessageCount >= 5:
		return domain.ConfidenceHigh
	case tp.MessageCount >= 2:
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceLow
	}
}
