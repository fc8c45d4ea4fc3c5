package learning

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailmind/core/domain"
	"mailmind/core/port/out"
	"mailmind/core/service/intelligence"
	"mailmind/pkg/logger"
)

// =============================================================================
// In-memory store double
// =============================================================================

type memStore struct {
	messages  map[string]*domain.Message
	rules     map[string]*domain.Rule
	decisions map[string]*domain.Decision
	feedback  []*domain.Feedback
	patterns  map[string]*domain.LearnedPattern
	state     map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{
		messages:  make(map[string]*domain.Message),
		rules:     make(map[string]*domain.Rule),
		decisions: make(map[string]*domain.Decision),
		patterns:  make(map[string]*domain.LearnedPattern),
		state:     make(map[string][]byte),
	}
}

func (s *memStore) Messages() out.MessageRepository   { return (*memMessages)(s) }
func (s *memStore) Rules() out.RuleRepository         { return (*memRules)(s) }
func (s *memStore) Decisions() out.DecisionRepository { return (*memDecisions)(s) }
func (s *memStore) Feedback() out.FeedbackRepository  { return (*memFeedback)(s) }
func (s *memStore) Patterns() out.PatternRepository   { return (*memPatterns)(s) }
func (s *memStore) Briefs() out.BriefRepository       { return nil }
func (s *memStore) Profiles() out.ProfileRepository   { return nil }
func (s *memStore) State() out.StateRepository        { return (*memState)(s) }
func (s *memStore) Errors() out.ErrorLogRepository    { return nil }
func (s *memStore) Stats(context.Context) (*domain.Stats, error) {
	return &domain.Stats{}, nil
}
func (s *memStore) Close() error { return nil }

type memMessages memStore

func (s *memMessages) Upsert(_ context.Context, m *domain.Message) error {
	s.messages[m.ID] = m
	return nil
}
func (s *memMessages) GetByID(_ context.Context, id string) (*domain.Message, error) {
	return s.messages[id], nil
}
func (s *memMessages) GetByExternalID(_ context.Context, ext string) (*domain.Message, error) {
	for _, m := range s.messages {
		if m.ExternalID == ext {
			return m, nil
		}
	}
	return nil, nil
}
func (s *memMessages) Query(_ context.Context, f *out.MessageFilter) ([]*domain.Message, int, error) {
	var all []*domain.Message
	for _, m := range s.messages {
		if f.Since != nil && m.ReceivedAt.Before(*f.Since) {
			continue
		}
		all = append(all, m)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].SentAt.Equal(all[j].SentAt) {
			return all[i].SentAt.After(all[j].SentAt)
		}
		return all[i].ID < all[j].ID
	})
	total := len(all)
	if f.Offset >= len(all) {
		return nil, total, nil
	}
	all = all[f.Offset:]
	if f.Limit > 0 && len(all) > f.Limit {
		all = all[:f.Limit]
	}
	return all, total, nil
}
func (s *memMessages) ListByThread(context.Context, string) ([]*domain.Message, error) {
	return nil, nil
}
func (s *memMessages) ListMissingStamp(context.Context, domain.ProcessingStage, int) ([]*domain.Message, error) {
	return nil, nil
}
func (s *memMessages) Update(_ context.Context, m *domain.Message) error {
	s.messages[m.ID] = m
	return nil
}
func (s *memMessages) Stamp(_ context.Context, id string, stage domain.ProcessingStage) error {
	if m := s.messages[id]; m != nil {
		m.Stamps = m.Stamps.Add(stage)
	}
	return nil
}
func (s *memMessages) ListByDateUTC(context.Context, string) ([]*domain.Message, error) {
	return nil, nil
}

type memRules memStore

func (s *memRules) Put(_ context.Context, r *domain.Rule) error {
	s.rules[r.ID] = r
	return nil
}
func (s *memRules) Get(_ context.Context, id string) (*domain.Rule, error) {
	return s.rules[id], nil
}
func (s *memRules) Delete(_ context.Context, id string) error {
	delete(s.rules, id)
	return nil
}
func (s *memRules) List(_ context.Context, enabledOnly bool) ([]*domain.Rule, error) {
	var all []*domain.Rule
	for _, r := range s.rules {
		if enabledOnly && !r.Enabled {
			continue
		}
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Priority < all[j].Priority })
	return all, nil
}
func (s *memRules) RecordHit(context.Context, string, time.Time) error { return nil }

type memDecisions memStore

func (s *memDecisions) Put(_ context.Context, d *domain.Decision) error {
	s.decisions[d.MessageID] = d
	return nil
}
func (s *memDecisions) Get(_ context.Context, id string) (*domain.Decision, error) {
	return s.decisions[id], nil
}

type memFeedback memStore

func (s *memFeedback) Record(_ context.Context, f *domain.Feedback) error {
	f.ID = int64(len(s.feedback) + 1)
	s.feedback = append(s.feedback, f)
	return nil
}
func (s *memFeedback) List(_ context.Context, since time.Time) ([]*domain.Feedback, error) {
	var outf []*domain.Feedback
	for _, f := range s.feedback {
		if f.StampedAt.Before(since) {
			continue
		}
		outf = append(outf, f)
	}
	return outf, nil
}

type memPatterns memStore

func (s *memPatterns) Put(_ context.Context, p *domain.LearnedPattern) error {
	s.patterns[string(p.Kind)+"|"+p.Key+"|"+p.PredictedAttribute] = p
	return nil
}
func (s *memPatterns) List(_ context.Context, kind domain.PatternKind) ([]*domain.LearnedPattern, error) {
	var outp []*domain.LearnedPattern
	for _, p := range s.patterns {
		if p.Kind == kind {
			outp = append(outp, p)
		}
	}
	return outp, nil
}

type memState memStore

func (s *memState) GetWatermark(context.Context, string) (time.Time, error) {
	return time.Time{}, nil
}
func (s *memState) SetWatermark(context.Context, string, time.Time) error { return nil }
func (s *memState) GetState(_ context.Context, key string, dest any) (bool, error) {
	raw, ok := s.state[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}
func (s *memState) PutState(_ context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.state[key] = raw
	return nil
}

// =============================================================================
// Fixtures
// =============================================================================

func learnerFixture(t *testing.T) (*FeedbackLearner, *memStore, *intelligence.Index) {
	t.Helper()
	store := newMemStore()
	idx := intelligence.New(intelligence.Config{}, &noopProfiles{}, logger.Default())
	l := NewFeedbackLearner(store, idx, logger.Default())
	require.NoError(t, l.Load(context.Background()))
	return l, store, idx
}

type noopProfiles struct{}

func (noopProfiles) PutSenderProfiles(context.Context, []*domain.SenderProfile) error { return nil }
func (noopProfiles) ListSenderProfiles(context.Context) ([]*domain.SenderProfile, error) {
	return nil, nil
}
func (noopProfiles) PutThreadProfiles(context.Context, []*domain.ThreadProfile) error { return nil }
func (noopProfiles) ListThreadProfiles(context.Context) ([]*domain.ThreadProfile, error) {
	return nil, nil
}

func seedMessage(store *memStore, id, sender, subject, body string) *domain.Message {
	m := &domain.Message{
		ID:         id,
		ExternalID: "ext-" + id,
		Sender:     domain.Address{Address: sender},
		Subject:    subject,
		BodyText:   body,
		SentAt:     time.Now().Add(-time.Hour),
		ReceivedAt: time.Now().Add(-time.Hour),
	}
	m.Normalize()
	store.messages[id] = m
	return m
}

// =============================================================================
// Tests
// =============================================================================

func TestFeedbackAdjustsSenderWeight(t *testing.T) {
	l, store, idx := learnerFixture(t)
	ctx := context.Background()

	// Baseline importance 0.30 for this sender.
	idx.SetLearnedWeights(map[string]float64{"alerts@saas.example": 0.30})
	seedMessage(store, "m1", "alerts@saas.example", "Build failed", "see logs")

	require.NoError(t, l.Submit(ctx, &domain.Feedback{
		MessageID:       "m1",
		OriginalBucket:  domain.BucketRegularInbox,
		CorrectedBucket: domain.BucketAutoArchive,
	}))
	w, ok := l.SenderWeight("alerts@saas.example")
	require.True(t, ok)
	assert.InDelta(t, 0.28, w, 0.0001)

	// Two more of the same correction.
	for i := 0; i < 2; i++ {
		require.NoError(t, l.Submit(ctx, &domain.Feedback{
			MessageID:       "m1",
			CorrectedBucket: domain.BucketAutoArchive,
		}))
	}
	w, _ = l.SenderWeight("alerts@saas.example")
	assert.InDelta(t, 0.24, w, 0.0001)

	// The index sees the learned weight.
	assert.InDelta(t, 0.24, idx.SenderImportance("alerts@saas.example"), 0.0001)
}

func TestFeedbackMonotonicity(t *testing.T) {
	l, store, _ := learnerFixture(t)
	ctx := context.Background()
	seedMessage(store, "m1", "person@corp.example", "Weekly sync", "agenda attached")

	var prev float64 = -1
	for i := 0; i < 8; i++ {
		require.NoError(t, l.Submit(ctx, &domain.Feedback{
			MessageID:       "m1",
			CorrectedBucket: domain.BucketPriorityInbox,
		}))
		w, _ := l.SenderWeight("person@corp.example")
		assert.GreaterOrEqual(t, w, prev, "priority feedback never decreases weight")
		assert.LessOrEqual(t, w, 1.0)
		prev = w
	}
}

func TestSpamFeedbackDropsWeightFaster(t *testing.T) {
	l, store, idx := learnerFixture(t)
	ctx := context.Background()

	idx.SetLearnedWeights(map[string]float64{"shady@offers.example": 0.5})
	seedMessage(store, "m1", "shady@offers.example", "Great offer", "buy now")

	require.NoError(t, l.Submit(ctx, &domain.Feedback{
		MessageID:       "m1",
		CorrectedBucket: domain.BucketSpamFolder,
	}))
	w, _ := l.SenderWeight("shady@offers.example")
	assert.InDelta(t, 0.44, w, 0.0001) // 0.5 - 0.3*0.2
}

func TestPriorityFeedbackLearnsBodyTokens(t *testing.T) {
	l, store, _ := learnerFixture(t)
	ctx := context.Background()
	seedMessage(store, "m1", "boss@corp.example", "contract", "renewal blocking launch")

	require.NoError(t, l.Submit(ctx, &domain.Feedback{
		MessageID:       "m1",
		CorrectedBucket: domain.BucketPriorityInbox,
	}))
	assert.InDelta(t, 0.05, l.LearnedUrgency("renewal"), 0.0001)
	assert.InDelta(t, 0.05, l.LearnedUrgency("blocking"), 0.0001)
	assert.Zero(t, l.LearnedUrgency("shipping")) // not in the body
}

func TestArchiveFeedbackMarksFalsePositives(t *testing.T) {
	l, store, _ := learnerFixture(t)
	ctx := context.Background()
	seedMessage(store, "m1", "promo@shop.example", "URGENT: last chance sale", "deadline tonight")

	require.NoError(t, l.Submit(ctx, &domain.Feedback{
		MessageID:       "m1",
		CorrectedBucket: domain.BucketAutoArchive,
	}))
	assert.True(t, l.IsFalsePositive("urgent"))
	assert.True(t, l.IsFalsePositive("deadline"))
	assert.False(t, l.IsFalsePositive("asap"))
}

func TestLearnerStateSurvivesReload(t *testing.T) {
	l, store, idx := learnerFixture(t)
	ctx := context.Background()
	seedMessage(store, "m1", "person@corp.example", "hello", "world data")

	require.NoError(t, l.Submit(ctx, &domain.Feedback{
		MessageID:       "m1",
		CorrectedBucket: domain.BucketPriorityInbox,
	}))
	want, _ := l.SenderWeight("person@corp.example")

	l2 := NewFeedbackLearner(store, idx, logger.Default())
	require.NoError(t, l2.Load(ctx))
	got, ok := l2.SenderWeight("person@corp.example")
	require.True(t, ok)
	assert.InDelta(t, want, got, 0.0001)
}

func TestLearnerRebuildsFromFeedbackLog(t *testing.T) {
	l, store, _ := learnerFixture(t)
	ctx := context.Background()
	seedMessage(store, "m1", "person@corp.example", "hello", "world data")

	require.NoError(t, l.Submit(ctx, &domain.Feedback{
		MessageID:       "m1",
		CorrectedBucket: domain.BucketPriorityInbox,
	}))
	want, _ := l.SenderWeight("person@corp.example")

	// Drop the derived blob; the append-only log rebuilds it.
	delete(store.state, stateKey)
	idx2 := intelligence.New(intelligence.Config{}, &noopProfiles{}, logger.Default())
	l2 := NewFeedbackLearner(store, idx2, logger.Default())
	require.NoError(t, l2.Load(ctx))
	got, ok := l2.SenderWeight("person@corp.example")
	require.True(t, ok)
	assert.InDelta(t, want, got, 0.0001)
}

func TestSubmitValidation(t *testing.T) {
	l, _, _ := learnerFixture(t)
	ctx := context.Background()

	err := l.Submit(ctx, &domain.Feedback{CorrectedBucket: domain.BucketSpamFolder})
	assert.Error(t, err)

	err = l.Submit(ctx, &domain.Feedback{MessageID: "m1", CorrectedBucket: "sideways"})
	assert.Error(t, err)
}

func TestRuleSuggestions(t *testing.T) {
	l, store, _ := learnerFixture(t)
	ctx := context.Background()

	store.rules["r-bad"] = &domain.Rule{ID: "r-bad", Enabled: true, Priority: 10}
	store.rules["r-sleeper"] = &domain.Rule{ID: "r-sleeper", Enabled: false, Priority: 20}

	for i := 0; i < 10; i++ {
		require.NoError(t, l.RecordRuleOutcome(ctx, "r-bad", i < 4))      // 40%
		require.NoError(t, l.RecordRuleOutcome(ctx, "r-sleeper", i < 10)) // 100%
	}

	sugs, err := l.RuleSuggestions(ctx)
	require.NoError(t, err)
	require.Len(t, sugs, 2)

	byID := make(map[string]RuleSuggestion)
	for _, s := range sugs {
		byID[s.RuleID] = s
	}
	assert.False(t, byID["r-bad"].Enable)
	assert.True(t, byID["r-sleeper"].Enable)
}

func TestSynthesisPromotesStableSenderPattern(t *testing.T) {
	_, store, _ := learnerFixture(t)
	ctx := context.Background()

	// Six messages from one sender, all promotions.
	for i := 0; i < 6; i++ {
		m := seedMessage(store, fmt.Sprintf("m%d", i), "deals@shop.example",
			fmt.Sprintf("Sale update %d", i), "discounts inside")
		m.Category = domain.CategoryPromotions
		m.CategoryInferred = false
	}

	syn := NewSynthesizer(store, 0.7)
	patterns, err := syn.Synthesize(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, patterns)

	var senderPattern *domain.LearnedPattern
	for _, p := range patterns {
		if p.Kind == domain.PatternSenderCategory && p.PredictedAttribute == "category" {
			senderPattern = p
		}
	}
	require.NotNil(t, senderPattern)
	assert.Equal(t, "deals@shop.example", senderPattern.Key)
	assert.Equal(t, string(domain.CategoryPromotions), senderPattern.PredictedValue)
	assert.GreaterOrEqual(t, senderPattern.Confidence, 0.9)

	// Confidence 1.0 promotes and auto-enables a rule at priority 100.
	rule := store.rules["learned:sender_category:deals@shop.example:category"]
	require.NotNil(t, rule)
	assert.True(t, rule.Enabled)
	assert.True(t, rule.AutoGenerated)
	assert.Equal(t, senderRulePriority, rule.Priority)
	require.NotNil(t, rule.Actions.SetCategory)
	assert.Equal(t, domain.CategoryPromotions, *rule.Actions.SetCategory)
}

func TestSynthesisIgnoresDefaultedCategories(t *testing.T) {
	_, store, _ := learnerFixture(t)
	ctx := context.Background()

	// Normalize defaults uncategorized mail to primary with the
	// inferred flag set; that default must never become a pattern.
	for i := 0; i < 6; i++ {
		seedMessage(store, fmt.Sprintf("m%d", i), "noreply@misc.example",
			fmt.Sprintf("Notification %d", i), "nothing to see")
	}

	syn := NewSynthesizer(store, 0.7)
	patterns, err := syn.Synthesize(ctx, 30*24*time.Hour)
	require.NoError(t, err)

	for _, p := range patterns {
		assert.NotEqual(t, domain.PatternSenderCategory, p.Kind,
			"defaulted categories must not produce sender patterns")
	}
	assert.Nil(t, store.rules["learned:sender_category:noreply@misc.example:category"])
}

func TestSynthesisRespectsSampleMinimum(t *testing.T) {
	_, store, _ := learnerFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m := seedMessage(store, fmt.Sprintf("m%d", i), "rare@sender.example",
			"occasional note", "hello")
		m.Category = domain.CategoryUpdates
	}

	syn := NewSynthesizer(store, 0.7)
	patterns, err := syn.Synthesize(ctx, 30*24*time.Hour)
	require.NoError(t, err)

	for _, p := range patterns {
		assert.NotEqual(t, "rare@sender.example", p.Key, "below sender sample minimum")
	}
}
