package analysis

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"mailmind/core/domain"
)

// =============================================================================
// Collaborator
// =============================================================================

// analyzerWeight is the fixed reconciliation weight per analyzer; the
// spam filter contributes only its veto, never a weighted score.
var analyzerWeight = map[string]float64{
	NameStrategic:    0.35,
	NameRelationship: 0.25,
	NameThread:       0.20,
	NameTriage:       0.20,
}

const maxLabels = 4

// Thresholds parameterize bucket routing and escalation.
type Thresholds struct {
	Priority   float64 // >= routes to the priority inbox
	Archive    float64 // <= (with archivable category) routes to auto-archive
	Escalation float64
}

// autoArchiveSet lists the categories eligible for auto-archive.
var autoArchiveSet = map[domain.EmailCategory]bool{
	domain.CategoryPromotions: true,
	domain.CategorySocial:     true,
	domain.CategoryUpdates:    true,
	domain.CategoryForums:     true,
}

// Collaborator reconciles analyzer assessments into one decision.
type Collaborator struct {
	thresholds    Thresholds
	policyVersion int
	now           func() time.Time
}

func NewCollaborator(t Thresholds, policyVersion int) *Collaborator {
	return &Collaborator{thresholds: t, policyVersion: policyVersion, now: time.Now}
}

// Decide reconciles the assessments. With no assessments at all, the
// message lands in the regular inbox at floor confidence.
func (c *Collaborator) Decide(m *domain.Message, assessments []*domain.Assessment) *domain.Decision {
	d := &domain.Decision{
		MessageID:     m.ID,
		PolicyVersion: c.policyVersion,
		Bucket:        domain.BucketRegularInbox,
		Confidence:    0.1,
		Urgency:       domain.UrgencyLow,
		Rationale:     "limited confidence consensus",
		DecidedAt:     c.now(),
	}
	if len(assessments) == 0 {
		return d
	}

	// Hard veto first.
	for _, a := range assessments {
		if a.SpamVeto {
			d.Bucket = domain.BucketSpamFolder
			d.Confidence = a.Confidence
			d.Rationale = a.Rationale
			d.FollowUps = collectFollowUps(assessments)
			return d
		}
	}

	d.Conflicts = detectConflicts(assessments)
	d.FinalScore = consensusScore(assessments)
	d.Urgency = consensusUrgency(assessments)
	d.Confidence = consensusConfidence(assessments, len(d.Conflicts))
	d.AppliedLabels = mergeLabels(assessments)
	d.Rationale = composeRationale(assessments)
	d.FollowUps = collectFollowUps(assessments)

	switch {
	case d.FinalScore >= c.thresholds.Priority:
		d.Bucket = domain.BucketPriorityInbox
	case d.FinalScore <= c.thresholds.Archive && autoArchiveSet[m.Category]:
		d.Bucket = domain.BucketAutoArchive
	default:
		d.Bucket = domain.BucketRegularInbox
	}

	d.ShouldEscalate = (d.FinalScore > c.thresholds.Escalation && d.Confidence > 0.6) ||
		len(d.Conflicts) > 2 ||
		d.Urgency == domain.UrgencyCritical
	return d
}

// detectConflicts flags (a) score spread >0.3, (b) more than two distinct
// urgencies, (c) two confident assessments >0.2 apart.
func detectConflicts(assessments []*domain.Assessment) []string {
	var conflicts []string

	minScore, maxScore := 1.0, 0.0
	urgencies := make(map[domain.Urgency]bool)
	for _, a := range assessments {
		if a.PriorityScore < minScore {
			minScore = a.PriorityScore
		}
		if a.PriorityScore > maxScore {
			maxScore = a.PriorityScore
		}
		urgencies[a.Urgency] = true
	}
	if maxScore-minScore > 0.3 {
		conflicts = append(conflicts,
			fmt.Sprintf("score spread %.2f exceeds 0.3", maxScore-minScore))
	}
	if len(urgencies) > 2 {
		conflicts = append(conflicts,
			fmt.Sprintf("%d distinct urgency readings", len(urgencies)))
	}

	for i := 0; i < len(assessments); i++ {
		for j := i + 1; j < len(assessments); j++ {
			ai, aj := assessments[i], assessments[j]
			if ai.Confidence >= 0.8 && aj.Confidence >= 0.8 &&
				abs(ai.PriorityScore-aj.PriorityScore) > 0.2 {
				conflicts = append(conflicts, fmt.Sprintf(
					"%s and %s disagree while both confident", ai.AnalyzerName, aj.AnalyzerName))
			}
		}
	}
	return conflicts
}

// consensusScore is the weighted mean of priority scores using
// weight x confidence, renormalized over the analyzers present.
func consensusScore(assessments []*domain.Assessment) float64 {
	var sum, totalWeight float64
	for _, a := range assessments {
		w, ok := analyzerWeight[a.AnalyzerName]
		if !ok {
			continue
		}
		w *= a.Confidence
		sum += w * a.PriorityScore
		totalWeight += w
	}
	if totalWeight == 0 {
		return 0
	}
	return sum / totalWeight
}

// consensusUrgency is a confidence-weighted vote; ties go to the higher
// urgency.
func consensusUrgency(assessments []*domain.Assessment) domain.Urgency {
	votes := make(map[domain.Urgency]float64)
	for _, a := range assessments {
		if _, scored := analyzerWeight[a.AnalyzerName]; scored {
			votes[a.Urgency] += a.Confidence
		}
	}
	winner := domain.UrgencyLow
	best := -1.0
	for u, v := range votes {
		if v > best || (v == best && u.Rank() > winner.Rank()) {
			winner, best = u, v
		}
	}
	return winner
}

func consensusConfidence(assessments []*domain.Assessment, conflictCount int) float64 {
	var sum float64
	n := 0
	for _, a := range assessments {
		if _, scored := analyzerWeight[a.AnalyzerName]; scored {
			sum += a.Confidence
			n++
		}
	}
	if n == 0 {
		return 0.1
	}
	conf := (sum / float64(n)) * (1 - 0.1*float64(conflictCount))
	if conf < 0.1 {
		conf = 0.1
	}
	return conf
}

// mergeLabels unions suggested labels preserving first-seen order,
// capped at maxLabels. Analyzer order is fixed by the weight-table keys
// so the union is deterministic.
func mergeLabels(assessments []*domain.Assessment) []string {
	ordered := append([]*domain.Assessment(nil), assessments...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return analyzerWeight[ordered[i].AnalyzerName] > analyzerWeight[ordered[j].AnalyzerName]
	})

	seen := make(map[string]bool)
	var out []string
	for _, a := range ordered {
		for _, l := range a.SuggestedLabels {
			if l == "" || seen[l] {
				continue
			}
			seen[l] = true
			out = append(out, l)
			if len(out) == maxLabels {
				return out
			}
		}
	}
	return out
}

func composeRationale(assessments []*domain.Assessment) string {
	var parts []string
	for _, a := range assessments {
		if a.Confidence >= 0.6 && a.Rationale != "" {
			parts = append(parts, a.Rationale)
		}
	}
	if len(parts) == 0 {
		return "limited confidence consensus"
	}
	return strings.Join(parts, "; ")
}

func collectFollowUps(assessments []*domain.Assessment) []string {
	var out []string
	for _, a := range assessments {
		out = append(out, a.Risks...)
	}
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
