package analysis

import (
	"testing"
	"time"

	"mailmind/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultThresholds() Thresholds {
	return Thresholds{Priority: 0.7, Archive: 0.4, Escalation: 0.7}
}

func assessment(name string, score, conf float64, urgency domain.Urgency) *domain.Assessment {
	return &domain.Assessment{
		AnalyzerName:  name,
		PriorityScore: score,
		Confidence:    conf,
		Urgency:       urgency,
		Rationale:     name + " rationale",
	}
}

func TestCollaboratorBounds(t *testing.T) {
	c := NewCollaborator(defaultThresholds(), 1)
	m := &domain.Message{ID: "m1", Category: domain.CategoryPrimary}

	cases := [][]*domain.Assessment{
		{assessment(NameStrategic, 0, 0, domain.UrgencyLow)},
		{assessment(NameStrategic, 1, 1, domain.UrgencyCritical)},
		{
			assessment(NameStrategic, 0.9, 0.1, domain.UrgencyHigh),
			assessment(NameRelationship, 0.1, 0.9, domain.UrgencyLow),
			assessment(NameThread, 0.5, 0.5, domain.UrgencyMedium),
			assessment(NameTriage, 0.3, 0.2, domain.UrgencyCritical),
		},
	}
	for _, as := range cases {
		d := c.Decide(m, as)
		assert.GreaterOrEqual(t, d.FinalScore, 0.0)
		assert.LessOrEqual(t, d.FinalScore, 1.0)
		assert.GreaterOrEqual(t, d.Confidence, 0.1)
		assert.LessOrEqual(t, d.Confidence, 1.0)
	}
}

func TestSpamVetoOverridesEverything(t *testing.T) {
	c := NewCollaborator(defaultThresholds(), 1)
	m := &domain.Message{ID: "m1", Category: domain.CategoryPrimary}

	veto := &domain.Assessment{
		AnalyzerName: NameSpamFilter,
		Confidence:   0.95,
		Rationale:    "spam veto: indicators matched",
		SpamVeto:     true,
	}
	d := c.Decide(m, []*domain.Assessment{
		assessment(NameStrategic, 0.99, 0.99, domain.UrgencyCritical),
		assessment(NameRelationship, 0.98, 0.95, domain.UrgencyCritical),
		veto,
	})
	assert.Equal(t, domain.BucketSpamFolder, d.Bucket)
}

func TestEscalationMonotone(t *testing.T) {
	// Raising one analyzer's score never lowers the final score.
	c := NewCollaborator(defaultThresholds(), 1)
	m := &domain.Message{ID: "m1", Category: domain.CategoryPrimary}

	base := func(strategicScore float64) float64 {
		d := c.Decide(m, []*domain.Assessment{
			assessment(NameStrategic, strategicScore, 0.8, domain.UrgencyMedium),
			assessment(NameRelationship, 0.5, 0.7, domain.UrgencyMedium),
			assessment(NameTriage, 0.4, 0.8, domain.UrgencyMedium),
		})
		return d.FinalScore
	}

	prev := base(0.0)
	for s := 0.1; s <= 1.0; s += 0.1 {
		cur := base(s)
		assert.GreaterOrEqual(t, cur, prev, "score %.1f", s)
		prev = cur
	}
}

func TestConflictDetection(t *testing.T) {
	c := NewCollaborator(defaultThresholds(), 1)
	m := &domain.Message{ID: "m1", Category: domain.CategoryPrimary}

	d := c.Decide(m, []*domain.Assessment{
		assessment(NameStrategic, 0.95, 0.85, domain.UrgencyCritical),
		assessment(NameRelationship, 0.30, 0.85, domain.UrgencyLow),
		assessment(NameThread, 0.60, 0.5, domain.UrgencyMedium),
	})

	// Spread > 0.3, three urgencies, and two confident analyzers far apart.
	require.Len(t, d.Conflicts, 3)
	assert.Less(t, d.Confidence, 0.85)
}

func TestConsensusUrgencyTieGoesHigher(t *testing.T) {
	c := NewCollaborator(defaultThresholds(), 1)
	m := &domain.Message{ID: "m1", Category: domain.CategoryPrimary}

	d := c.Decide(m, []*domain.Assessment{
		assessment(NameStrategic, 0.5, 0.8, domain.UrgencyHigh),
		assessment(NameRelationship, 0.5, 0.8, domain.UrgencyLow),
	})
	assert.Equal(t, domain.UrgencyHigh, d.Urgency)
}

func TestMissingAnalyzersRenormalize(t *testing.T) {
	c := NewCollaborator(defaultThresholds(), 1)
	m := &domain.Message{ID: "m1", Category: domain.CategoryPrimary}

	// A single analyzer at 0.9 should dominate rather than be diluted
	// by absent analyzers.
	d := c.Decide(m, []*domain.Assessment{
		assessment(NameStrategic, 0.9, 0.9, domain.UrgencyHigh),
	})
	assert.InDelta(t, 0.9, d.FinalScore, 0.001)
}

func TestAutoArchiveNeedsArchivableCategory(t *testing.T) {
	c := NewCollaborator(defaultThresholds(), 1)

	low := []*domain.Assessment{
		assessment(NameStrategic, 0.2, 0.8, domain.UrgencyLow),
		assessment(NameTriage, 0.2, 0.8, domain.UrgencyLow),
	}

	promo := &domain.Message{ID: "m1", Category: domain.CategoryPromotions}
	d := c.Decide(promo, low)
	assert.Equal(t, domain.BucketAutoArchive, d.Bucket)

	// A PRIMARY message with the same low score stays in the inbox.
	primary := &domain.Message{ID: "m2", Category: domain.CategoryPrimary}
	d = c.Decide(primary, low)
	assert.Equal(t, domain.BucketRegularInbox, d.Bucket)
}

func TestLabelsCappedPreservingOrder(t *testing.T) {
	c := NewCollaborator(defaultThresholds(), 1)
	m := &domain.Message{ID: "m1", Category: domain.CategoryPrimary}

	strat := assessment(NameStrategic, 0.8, 0.9, domain.UrgencyHigh)
	strat.SuggestedLabels = []string{"one", "two", "three"}
	rel := assessment(NameRelationship, 0.8, 0.9, domain.UrgencyHigh)
	rel.SuggestedLabels = []string{"two", "four", "five"}

	d := c.Decide(m, []*domain.Assessment{rel, strat})
	assert.Equal(t, []string{"one", "two", "three", "four"}, d.AppliedLabels)
}

func TestRationaleFallsBackWhenUnconfident(t *testing.T) {
	c := NewCollaborator(defaultThresholds(), 1)
	m := &domain.Message{ID: "m1", Category: domain.CategoryPrimary}

	d := c.Decide(m, []*domain.Assessment{
		assessment(NameStrategic, 0.5, 0.3, domain.UrgencyLow),
		assessment(NameTriage, 0.5, 0.4, domain.UrgencyLow),
	})
	assert.Equal(t, "limited confidence consensus", d.Rationale)
}

func TestNoAssessmentsFloorsConfidence(t *testing.T) {
	c := NewCollaborator(defaultThresholds(), 1)
	m := &domain.Message{ID: "m1", Category: domain.CategoryPrimary}

	d := c.Decide(m, nil)
	assert.Equal(t, domain.BucketRegularInbox, d.Bucket)
	assert.InDelta(t, 0.1, d.Confidence, 0.001)
	assert.True(t, d.Degraded())
	assert.WithinDuration(t, time.Now(), d.DecidedAt, time.Minute)
}
