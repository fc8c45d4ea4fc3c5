package persistence

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailmind/core/domain"
	"mailmind/core/port/out"
	"mailmind/pkg/logger"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), logger.Default())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testMessage(externalID string, receivedAt time.Time) *domain.Message {
	m := &domain.Message{
		ExternalID: externalID,
		ThreadID:   "t-1",
		Sender:     domain.Address{Address: "alice@corp.example", DisplayName: "Alice"},
		Recipients: []domain.Address{{Address: "me@corp.example"}},
		Subject:    "Quarterly numbers",
		BodyText:   "please review before friday",
		SentAt:     receivedAt,
		ReceivedAt: receivedAt,
	}
	m.Normalize()
	return m
}

// =============================================================================
// Messages
// =============================================================================

func TestUpsertIsIdempotentOnExternalID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		m := testMessage("ext-1", at)
		m.Subject = fmt.Sprintf("Quarterly numbers v%d", i)
		require.NoError(t, s.Messages().Upsert(ctx, m))
	}

	_, total, err := s.Messages().Query(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	got, err := s.Messages().GetByExternalID(ctx, "ext-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	// Latest copy wins.
	assert.Equal(t, "Quarterly numbers v2", got.Subject)
	assert.NotEmpty(t, got.ID)
}

func TestUpsertPreservesStampsAndUserCategory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	m := testMessage("ext-1", at)
	require.NoError(t, s.Messages().Upsert(ctx, m))

	stored, err := s.Messages().GetByExternalID(ctx, "ext-1")
	require.NoError(t, err)
	require.NoError(t, s.Messages().Stamp(ctx, stored.ID, domain.StageAnalyzed))

	// Re-pull of the same message must not erase the stamp.
	again := testMessage("ext-1", at)
	require.NoError(t, s.Messages().Upsert(ctx, again))

	got, err := s.Messages().GetByID(ctx, stored.ID)
	require.NoError(t, err)
	assert.True(t, got.Stamps.Has(domain.StageAnalyzed))

	// A user-set category survives a connector re-pull too.
	got.Category = domain.CategoryUpdates
	got.CategoryInferred = false
	require.NoError(t, s.Messages().Update(ctx, got))

	require.NoError(t, s.Messages().Upsert(ctx, testMessage("ext-1", at)))
	got, err = s.Messages().GetByID(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryUpdates, got.Category)
	assert.False(t, got.CategoryInferred)
}

func TestQueryOrderingAndTotal(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 20, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		m := testMessage(fmt.Sprintf("ext-%d", i), base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, s.Messages().Upsert(ctx, m))
	}

	msgs, total, err := s.Messages().Query(ctx, &out.MessageFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, msgs, 2)
	// Newest first.
	assert.Equal(t, "ext-4", msgs[0].ExternalID)
	assert.Equal(t, "ext-3", msgs[1].ExternalID)

	page2, _, err := s.Messages().Query(ctx, &out.MessageFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Equal(t, "ext-2", page2[0].ExternalID)
}

func TestQueryFilters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 20, 8, 0, 0, 0, time.UTC)

	promo := testMessage("ext-promo", base)
	promo.Sender = domain.Address{Address: "deals@shop.example"}
	promo.Category = domain.CategoryPromotions
	promo.CategoryInferred = false
	promo.IsRead = true
	require.NoError(t, s.Messages().Upsert(ctx, promo))

	primary := testMessage("ext-primary", base.Add(time.Hour))
	require.NoError(t, s.Messages().Upsert(ctx, primary))

	cat := domain.CategoryPromotions
	msgs, total, err := s.Messages().Query(ctx, &out.MessageFilter{Category: &cat})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, msgs, 1)
	assert.Equal(t, "ext-promo", msgs[0].ExternalID)

	unread := true
	msgs, _, err = s.Messages().Query(ctx, &out.MessageFilter{Unread: &unread})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "ext-primary", msgs[0].ExternalID)

	msgs, _, err = s.Messages().Query(ctx, &out.MessageFilter{SenderContains: "shop"})
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	msgs, _, err = s.Messages().Query(ctx, &out.MessageFilter{Search: "friday"})
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestListMissingStampAndStampMonotonic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 20, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Messages().Upsert(ctx,
			testMessage(fmt.Sprintf("ext-%d", i), base.Add(time.Duration(i)*time.Minute))))
	}

	pending, err := s.Messages().ListMissingStamp(ctx, domain.StageAnalyzed, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	// Oldest first.
	assert.Equal(t, "ext-0", pending[0].ExternalID)

	require.NoError(t, s.Messages().Stamp(ctx, pending[0].ID, domain.StageAnalyzed))
	// Stamping twice is a no-op, not an error.
	require.NoError(t, s.Messages().Stamp(ctx, pending[0].ID, domain.StageAnalyzed))

	pending, err = s.Messages().ListMissingStamp(ctx, domain.StageAnalyzed, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestListByDateUTC(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Messages().Upsert(ctx,
		testMessage("ext-a", time.Date(2026, 8, 20, 23, 30, 0, 0, time.UTC))))
	require.NoError(t, s.Messages().Upsert(ctx,
		testMessage("ext-b", time.Date(2026, 8, 21, 0, 30, 0, 0, time.UTC))))

	msgs, err := s.Messages().ListByDateUTC(ctx, "2026-08-20")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "ext-a", msgs[0].ExternalID)
}

// =============================================================================
// Rules
// =============================================================================

func TestRuleRoundTripAndOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cat := domain.CategoryUpdates
	later := &domain.Rule{
		ID: "r-later", Name: "later", Enabled: true, Priority: 50,
		Conditions: []domain.RuleCondition{{Field: domain.FieldSubject, Operator: domain.OpContains, Value: "digest"}},
		Actions:    domain.RuleActions{SetCategory: &cat},
	}
	first := &domain.Rule{
		ID: "r-first", Name: "first", Enabled: true, Priority: 10,
		Conditions: []domain.RuleCondition{{Field: domain.FieldSenderDomain, Operator: domain.OpEquals, Value: "corp.example"}},
	}
	disabled := &domain.Rule{
		ID: "r-off", Name: "off", Enabled: false, Priority: 5,
		Conditions: []domain.RuleCondition{{Field: domain.FieldSubject, Operator: domain.OpContains, Value: "x"}},
	}
	for _, r := range []*domain.Rule{later, first, disabled} {
		require.NoError(t, s.Rules().Put(ctx, r))
	}

	all, err := s.Rules().List(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "r-off", all[0].ID)

	enabled, err := s.Rules().List(ctx, true)
	require.NoError(t, err)
	require.Len(t, enabled, 2)
	assert.Equal(t, "r-first", enabled[0].ID)
	assert.Equal(t, "r-later", enabled[1].ID)
	require.NotNil(t, enabled[1].Actions.SetCategory)
	assert.Equal(t, domain.CategoryUpdates, *enabled[1].Actions.SetCategory)

	at := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Rules().RecordHit(ctx, "r-first", at))
	got, err := s.Rules().Get(ctx, "r-first")
	require.NoError(t, err)
	assert.Equal(t, 1, got.HitCount)
	require.NotNil(t, got.LastHitAt)

	require.NoError(t, s.Rules().Delete(ctx, "r-off"))
	missing, err := s.Rules().Get(ctx, "r-off")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

// =============================================================================
// Decisions, Feedback, Patterns
// =============================================================================

func TestDecisionLatestPolicyVersionWins(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Decisions().Put(ctx, &domain.Decision{
		MessageID: "m-1", PolicyVersion: 1, Bucket: domain.BucketRegularInbox,
		FinalScore: 0.5, Confidence: 0.6, Urgency: domain.UrgencyLow,
	}))
	require.NoError(t, s.Decisions().Put(ctx, &domain.Decision{
		MessageID: "m-1", PolicyVersion: 2, Bucket: domain.BucketPriorityInbox,
		FinalScore: 0.9, Confidence: 0.8, Urgency: domain.UrgencyHigh,
		AppliedLabels: []string{"DecisionRequired"},
	}))

	d, err := s.Decisions().Get(ctx, "m-1")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, 2, d.PolicyVersion)
	assert.Equal(t, domain.BucketPriorityInbox, d.Bucket)
	assert.Equal(t, []string{"DecisionRequired"}, d.AppliedLabels)
}

func TestFeedbackAppendOnlyLog(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	f := &domain.Feedback{
		MessageID:       "m-1",
		OriginalBucket:  domain.BucketAutoArchive,
		CorrectedBucket: domain.BucketPriorityInbox,
		StampedAt:       time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.Feedback().Record(ctx, f))
	assert.NotZero(t, f.ID)

	list, err := s.Feedback().List(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.BucketPriorityInbox, list[0].CorrectedBucket)
}

func TestPatternSampleSizeNeverShrinks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	put := func(size int, conf float64) {
		require.NoError(t, s.Patterns().Put(ctx, &domain.LearnedPattern{
			Kind: domain.PatternSenderCategory, Key: "deals@shop.example",
			PredictedAttribute: "category", PredictedValue: "promotions",
			Confidence: conf, SampleSize: size,
		}))
	}
	put(10, 0.9)
	put(4, 0.8) // stale writer

	list, err := s.Patterns().List(ctx, domain.PatternSenderCategory)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 10, list[0].SampleSize)
	assert.Equal(t, 0.8, list[0].Confidence)
}

// =============================================================================
// Briefs, Profiles, State, Errors, Stats
// =============================================================================

func TestBriefRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	b := &domain.DailyBrief{
		DateUTC: "2026-08-20", TotalMessages: 15, UnreadCount: 2,
		Headline: "15 messages, 3 high priority", Narrative: "a day of mail",
		Themes: []string{"project management"},
	}
	require.NoError(t, s.Briefs().Put(ctx, b))

	got, err := s.Briefs().Get(ctx, "2026-08-20")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 15, got.TotalMessages)
	assert.Equal(t, []string{"project management"}, got.Themes)

	missing, err := s.Briefs().Get(ctx, "2026-08-21")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestProfileRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Profiles().PutSenderProfiles(ctx, []*domain.SenderProfile{
		{Address: "founder@haas.holdings", Relationship: domain.RelationFounder, TotalMessages: 25},
	}))
	require.NoError(t, s.Profiles().PutThreadProfiles(ctx, []*domain.ThreadProfile{
		{ThreadID: "t-1", Type: domain.ThreadDecision, Status: domain.ThreadStalled},
	}))

	senders, err := s.Profiles().ListSenderProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, senders, 1)
	assert.Equal(t, domain.RelationFounder, senders[0].Relationship)

	threads, err := s.Profiles().ListThreadProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, domain.ThreadStalled, threads[0].Status)
}

func TestWatermarkAndState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	wm, err := s.State().GetWatermark(ctx, "gmail")
	require.NoError(t, err)
	assert.True(t, wm.IsZero())

	at := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.State().SetWatermark(ctx, "gmail", at))
	wm, err = s.State().GetWatermark(ctx, "gmail")
	require.NoError(t, err)
	assert.True(t, wm.Equal(at))

	type blob struct{ N int }
	ok, err := s.State().GetState(ctx, "learner_state", &blob{})
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.State().PutState(ctx, "learner_state", blob{N: 7}))
	var got blob
	ok, err = s.State().GetState(ctx, "learner_state", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 7, got.N)
}

func TestErrorLogAndStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Errors().Log(ctx, &domain.PipelineError{
		MessageID: "m-1", Phase: "analyze", Kind: "llm_unavailable", Detail: "timeout",
	}))
	errs, err := s.Errors().List(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, 1, errs[0].Attempt)

	require.NoError(t, s.Messages().Upsert(ctx,
		testMessage("ext-1", time.Date(2026, 8, 20, 8, 0, 0, 0, time.UTC))))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalMessages)
	assert.Equal(t, 1, stats.UnreadCount)
	assert.Equal(t, 1, stats.CategoryHist[domain.CategoryPrimary])
}

func TestMigrationIsIdempotentAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	s1, err := Open(path, logger.Default())
	require.NoError(t, err)
	require.NoError(t, s1.Messages().Upsert(context.Background(),
		testMessage("ext-1", time.Date(2026, 8, 20, 8, 0, 0, 0, time.UTC))))
	require.NoError(t, s1.Close())

	s2, err := Open(path, logger.Default())
	require.NoError(t, err)
	defer s2.Close()
	got, err := s2.Messages().GetByExternalID(context.Background(), "ext-1")
	require.NoError(t, err)
	assert.NotNil(t, got)
}
