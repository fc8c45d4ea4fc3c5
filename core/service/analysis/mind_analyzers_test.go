package analysis

import (
	"context"
	"testing"
	"time"

	"mailmind/core/domain"
	"mailmind/core/port/out"
	"mailmind/core/service/intelligence"
	"mailmind/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test doubles
// =============================================================================

type stubProfiles struct {
	senders []*domain.SenderProfile
	threads []*domain.ThreadProfile
}

func (s *stubProfiles) PutSenderProfiles(_ context.Context, ps []*domain.SenderProfile) error {
	s.senders = append(s.senders, ps...)
	return nil
}
func (s *stubProfiles) ListSenderProfiles(_ context.Context) ([]*domain.SenderProfile, error) {
	return s.senders, nil
}
func (s *stubProfiles) PutThreadProfiles(_ context.Context, ps []*domain.ThreadProfile) error {
	s.threads = append(s.threads, ps...)
	return nil
}
func (s *stubProfiles) ListThreadProfiles(_ context.Context) ([]*domain.ThreadProfile, error) {
	return s.threads, nil
}

type stubLLM struct {
	response []byte
	err      error
	calls    int
}

func (s *stubLLM) Analyze(_ context.Context, _ *out.AnalyzeRequest) ([]byte, error) {
	s.calls++
	return s.response, s.err
}

func indexWith(t *testing.T, senders []*domain.SenderProfile, threads []*domain.ThreadProfile) *intelligence.Index {
	t.Helper()
	idx := intelligence.New(intelligence.Config{}, &stubProfiles{senders: senders, threads: threads}, logger.Default())
	require.NoError(t, idx.Load(context.Background()))
	return idx
}

func founderProfile() *domain.SenderProfile {
	p := &domain.SenderProfile{
		Address:       "founder@haas.holdings",
		TotalMessages: 25,
		Relationship:  domain.RelationFounder,
	}
	p.ComputeImportance()
	return p
}

// =============================================================================
// Scenario A: urgent subject from a CRITICAL sender
// =============================================================================

func TestScenarioUrgentFounderMail(t *testing.T) {
	idx := indexWith(t, []*domain.SenderProfile{founderProfile()}, nil)
	llm := &stubLLM{response: []byte(`{
		"labels": ["DecisionRequired", "SignatureRequired"],
		"strategicImportance": "critical",
		"requiresAction": true,
		"estMinutesToHandle": 10,
		"keyInsight": "contract needs signature today",
		"decisionPoints": ["sign or renegotiate"],
		"sentiment": "urgent"
	}`)}

	m := &domain.Message{
		ID:         "msg-a",
		Sender:     domain.Address{Address: "founder@haas.holdings"},
		Subject:    "Urgent: sign contract",
		BodyText:   "Please approve by EOD",
		ReceivedAt: time.Now().Add(-30 * time.Minute),
	}
	m.Normalize()

	ctx := context.Background()
	assessments := []*domain.Assessment{
		NewStrategicAnalyzer(idx, llm, nil, time.Hour, logger.Default()).Analyze(ctx, m),
		NewRelationshipAnalyzer(idx).Analyze(ctx, m),
		NewThreadAnalyzer(idx).Analyze(ctx, m),
		NewTriageAnalyzer(idx, nil, nil, logger.Default()).Analyze(ctx, m),
		NewSpamFilter(idx).Analyze(ctx, m),
	}

	d := NewCollaborator(defaultThresholds(), 1).Decide(m, assessments)

	assert.Equal(t, domain.BucketPriorityInbox, d.Bucket)
	assert.Equal(t, domain.UrgencyCritical, d.Urgency)
	assert.True(t, d.ShouldEscalate)
	assert.Contains(t, d.AppliedLabels, "DecisionRequired")
	assert.Contains(t, d.AppliedLabels, "SignatureRequired")
}

// =============================================================================
// Scenario B: promotional mail auto-archives
// =============================================================================

func TestScenarioPromotionAutoArchives(t *testing.T) {
	idx := indexWith(t, nil, nil)

	m := &domain.Message{
		ID:         "msg-b",
		Sender:     domain.Address{Address: "deals@shop.example"},
		Subject:    "50% OFF this weekend only!",
		BodyText:   "Shop the sale before it ends.",
		Category:   domain.CategoryPromotions,
		ReceivedAt: time.Now().Add(-10 * time.Minute),
	}
	m.Normalize()

	ctx := context.Background()
	assessments := []*domain.Assessment{
		NewStrategicAnalyzer(idx, nil, nil, time.Hour, logger.Default()).Analyze(ctx, m),
		NewRelationshipAnalyzer(idx).Analyze(ctx, m),
		NewThreadAnalyzer(idx).Analyze(ctx, m),
		NewTriageAnalyzer(idx, nil, nil, logger.Default()).Analyze(ctx, m),
		NewSpamFilter(idx).Analyze(ctx, m),
	}

	d := NewCollaborator(defaultThresholds(), 1).Decide(m, assessments)
	assert.Equal(t, domain.BucketAutoArchive, d.Bucket)
}

// =============================================================================
// Scenario C: spam indicators veto
// =============================================================================

func TestScenarioSpamVeto(t *testing.T) {
	idx := indexWith(t, nil, nil)

	m := &domain.Message{
		ID:         "msg-c",
		Sender:     domain.Address{Address: "winner@lottery-prize.example"},
		Subject:    "CONGRATULATIONS you have WON",
		BodyText:   "claim now! limited time! click here immediately",
		ReceivedAt: time.Now(),
	}
	m.Normalize()

	as := NewSpamFilter(idx).Analyze(context.Background(), m)
	require.True(t, as.SpamVeto)

	d := NewCollaborator(defaultThresholds(), 1).Decide(m, []*domain.Assessment{
		assessment(NameStrategic, 0.9, 0.9, domain.UrgencyHigh),
		as,
	})
	assert.Equal(t, domain.BucketSpamFolder, d.Bucket)
}

func TestSpamVetoSparesStrategicSenders(t *testing.T) {
	investor := &domain.SenderProfile{
		Address:       "partner@sequoiacap.com",
		TotalMessages: 12,
		Relationship:  domain.RelationInvestor,
	}
	investor.ComputeImportance()
	idx := indexWith(t, []*domain.SenderProfile{investor}, nil)

	m := &domain.Message{
		ID:       "msg-c2",
		Sender:   domain.Address{Address: "partner@sequoiacap.com"},
		Subject:  "Congratulations on the round! Limited time to sign",
		BodyText: "claim your allocation, click here",
	}
	m.Normalize()

	as := NewSpamFilter(idx).Analyze(context.Background(), m)
	assert.False(t, as.SpamVeto)
}

// =============================================================================
// Scenario D: stalled decision thread
// =============================================================================

func TestScenarioStalledDecisionThread(t *testing.T) {
	tp := &domain.ThreadProfile{
		ThreadID:       "t-dec",
		MessageCount:   6,
		Type:           domain.ThreadDecision,
		Status:         domain.ThreadStalled,
		FirstMessageAt: time.Now().Add(-10 * 24 * time.Hour),
		LastMessageAt:  time.Now().Add(-5 * 24 * time.Hour),
	}
	founder := founderProfile()
	idx := indexWith(t, []*domain.SenderProfile{founder}, []*domain.ThreadProfile{tp})

	m := &domain.Message{
		ID:         "msg-d",
		ThreadID:   "t-dec",
		Sender:     domain.Address{Address: "founder@haas.holdings"},
		Subject:    "Re: decision needed: vendor contract",
		BodyText:   "still waiting on a call here",
		ReceivedAt: time.Now().Add(-5 * 24 * time.Hour),
	}
	m.Normalize()

	ctx := context.Background()
	threadAs := NewThreadAnalyzer(idx).Analyze(ctx, m)
	assert.Contains(t, threadAs.Risks, "decision thread without outcome")
	// decision 0.80 x stalled 1.2
	assert.InDelta(t, 0.96, threadAs.PriorityScore, 0.001)

	assessments := []*domain.Assessment{
		NewStrategicAnalyzer(idx, nil, nil, time.Hour, logger.Default()).Analyze(ctx, m),
		NewRelationshipAnalyzer(idx).Analyze(ctx, m),
		threadAs,
		NewTriageAnalyzer(idx, nil, nil, logger.Default()).Analyze(ctx, m),
	}
	d := NewCollaborator(defaultThresholds(), 1).Decide(m, assessments)

	assert.Equal(t, domain.BucketPriorityInbox, d.Bucket)
	assert.True(t, d.ShouldEscalate)
	assert.Contains(t, d.FollowUps, "decision thread without outcome")
}

// =============================================================================
// Analyzer unit behavior
// =============================================================================

func TestStrategicDegradesOnLLMError(t *testing.T) {
	idx := indexWith(t, []*domain.SenderProfile{founderProfile()}, nil)
	llm := &stubLLM{err: context.DeadlineExceeded}

	a := NewStrategicAnalyzer(idx, llm, nil, time.Hour, logger.Default())
	as := a.Analyze(context.Background(), &domain.Message{
		ID:     "m",
		Sender: domain.Address{Address: "founder@haas.holdings"},
	})

	// Heuristic score survives; only the LLM enrichment is missing.
	assert.Greater(t, as.PriorityScore, 0.9)
	assert.Empty(t, as.SuggestedLabels)
}

func TestStrategicMalformedLLMOutputIgnored(t *testing.T) {
	idx := indexWith(t, []*domain.SenderProfile{founderProfile()}, nil)
	llm := &stubLLM{response: []byte(`certainly! here is my analysis:`)}

	a := NewStrategicAnalyzer(idx, llm, nil, time.Hour, logger.Default())
	as := a.Analyze(context.Background(), &domain.Message{
		ID:     "m",
		Sender: domain.Address{Address: "founder@haas.holdings"},
	})
	assert.Empty(t, as.SuggestedLabels)
}

func TestStrategicUnknownSenderLowConfidence(t *testing.T) {
	idx := indexWith(t, nil, nil)
	a := NewStrategicAnalyzer(idx, nil, nil, time.Hour, logger.Default())

	as := a.Analyze(context.Background(), &domain.Message{
		ID:     "m",
		Sender: domain.Address{Address: "nobody@nowhere.example"},
	})
	assert.InDelta(t, 0.4, as.PriorityScore, 0.001)
	assert.InDelta(t, domain.ConfidenceLow.Score(), as.Confidence, 0.001)
}

func TestRelationshipWeightTable(t *testing.T) {
	idx := indexWith(t, []*domain.SenderProfile{founderProfile()}, nil)
	a := NewRelationshipAnalyzer(idx)

	as := a.Analyze(context.Background(), &domain.Message{
		Sender: domain.Address{Address: "founder@haas.holdings"},
	})
	assert.InDelta(t, 0.98, as.PriorityScore, 0.001)

	unknown := a.Analyze(context.Background(), &domain.Message{
		Sender: domain.Address{Address: "stranger@elsewhere.example"},
	})
	assert.InDelta(t, 0.40, unknown.PriorityScore, 0.001)
}

func TestTriageRecencyBands(t *testing.T) {
	assert.InDelta(t, 1.0, recencyFactor(30*time.Minute), 0.001)
	assert.InDelta(t, 0.8, recencyFactor(2*time.Hour), 0.001)
	assert.InDelta(t, 0.6, recencyFactor(12*time.Hour), 0.001)
	assert.InDelta(t, 0.4, recencyFactor(2*24*time.Hour), 0.001)
	assert.InDelta(t, 0.2, recencyFactor(5*24*time.Hour), 0.001)
	assert.InDelta(t, 0.1, recencyFactor(30*24*time.Hour), 0.001)
}

func TestTriageUrgencyProbeOnlyWhenInconclusive(t *testing.T) {
	idx := indexWith(t, nil, nil)
	llm := &stubLLM{response: []byte(`{"score": 0.75}`)}
	a := NewTriageAnalyzer(idx, llm, nil, logger.Default())

	// Clear keyword: no probe.
	m := &domain.Message{Subject: "URGENT: prod down", ReceivedAt: time.Now()}
	m.Normalize()
	a.Analyze(context.Background(), m)
	assert.Equal(t, 0, llm.calls)

	// No keywords: probe fires.
	m2 := &domain.Message{Subject: "lunch on thursday?", ReceivedAt: time.Now()}
	m2.Normalize()
	a.Analyze(context.Background(), m2)
	assert.Equal(t, 1, llm.calls)
}
