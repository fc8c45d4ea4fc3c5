package rules

import (
	"testing"
	"time"

	"mailmind/core/domain"
	"mailmind/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMessage() *domain.Message {
	m := &domain.Message{
		ID:         "msg-1",
		ExternalID: "ext-1",
		Subject:    "Quarterly Newsletter: Product Updates",
		Sender:     domain.Address{DisplayName: "Acme News", Address: "news@acme.com"},
		Recipients: []domain.Address{{Address: "me@example.com"}},
		BodyText:   "Here is what shipped this month.",
		SentAt:     time.Now().Add(-time.Hour),
		ReceivedAt: time.Now(),
	}
	m.Normalize()
	return m
}

func newTestEngine(t *testing.T, rules []*domain.Rule) *Engine {
	t.Helper()
	e := NewEngine(logger.Default())
	issues := e.Load(rules)
	require.Empty(t, issues)
	return e
}

func TestEngineOrderedEvaluation(t *testing.T) {
	// Two rules both match; the higher-priority number runs later and wins.
	rules := []*domain.Rule{
		{
			ID: "r-late", Enabled: true, Priority: 50,
			Conditions: []domain.RuleCondition{
				{Field: domain.FieldSenderDomain, Operator: domain.OpEquals, Value: "acme.com"},
			},
			Actions: domain.RuleActions{SetCategory: catPtr(domain.CategoryUpdates)},
		},
		{
			ID: "r-early", Enabled: true, Priority: 10,
			Conditions: []domain.RuleCondition{
				{Field: domain.FieldSubject, Operator: domain.OpContains, Value: "newsletter"},
			},
			Actions: domain.RuleActions{SetCategory: catPtr(domain.CategoryPromotions)},
		},
	}
	e := newTestEngine(t, rules)

	m := testMessage()
	res := e.Apply(m)

	require.Equal(t, []string{"r-early", "r-late"}, res.Fired)
	assert.Equal(t, domain.CategoryUpdates, m.Category, "last matching setCategory wins")
	assert.False(t, m.CategoryInferred)
}

func TestEngineConditionsAreANDed(t *testing.T) {
	r := &domain.Rule{
		ID: "r-and", Enabled: true, Priority: 10,
		Conditions: []domain.RuleCondition{
			{Field: domain.FieldSubject, Operator: domain.OpContains, Value: "newsletter"},
			{Field: domain.FieldSenderDomain, Operator: domain.OpEquals, Value: "other.com"},
		},
		Actions: domain.RuleActions{AddTags: []string{"matched"}},
	}
	e := newTestEngine(t, []*domain.Rule{r})

	m := testMessage()
	res := e.Apply(m)

	assert.Empty(t, res.Fired, "one failing condition blocks the rule")
	assert.False(t, m.HasTag("matched"))
}

func TestEngineCaseInsensitiveByDefault(t *testing.T) {
	r := &domain.Rule{
		ID: "r-ci", Enabled: true, Priority: 10,
		Conditions: []domain.RuleCondition{
			{Field: domain.FieldSubject, Operator: domain.OpContains, Value: "NEWSLETTER"},
		},
		Actions: domain.RuleActions{AddTags: []string{"nl"}},
	}
	e := newTestEngine(t, []*domain.Rule{r})

	m := testMessage()
	e.Apply(m)
	assert.True(t, m.HasTag("nl"))

	// The same condition case-sensitive must not match.
	r2 := &domain.Rule{
		ID: "r-cs", Enabled: true, Priority: 10,
		Conditions: []domain.RuleCondition{
			{Field: domain.FieldSubject, Operator: domain.OpContains, Value: "NEWSLETTER", CaseSensitive: true},
		},
		Actions: domain.RuleActions{AddTags: []string{"cs"}},
	}
	e2 := newTestEngine(t, []*domain.Rule{r2})
	m2 := testMessage()
	e2.Apply(m2)
	assert.False(t, m2.HasTag("cs"))
}

func TestEngineRegexCompileErrorDisablesOnlyThatRule(t *testing.T) {
	rules := []*domain.Rule{
		{
			ID: "r-bad", Enabled: true, Priority: 10,
			Conditions: []domain.RuleCondition{
				{Field: domain.FieldSubject, Operator: domain.OpRegex, Value: "([unclosed"},
			},
			Actions: domain.RuleActions{AddTags: []string{"bad"}},
		},
		{
			ID: "r-good", Enabled: true, Priority: 20,
			Conditions: []domain.RuleCondition{
				{Field: domain.FieldSubject, Operator: domain.OpRegex, Value: `newsletter`},
			},
			Actions: domain.RuleActions{AddTags: []string{"good"}},
		},
	}
	e := NewEngine(logger.Default())
	issues := e.Load(rules)

	require.Len(t, issues, 1)
	assert.Equal(t, "r-bad", issues[0].RuleID)
	assert.Equal(t, 1, e.Snapshot().Len())

	m := testMessage()
	res := e.Apply(m)
	assert.Equal(t, []string{"r-good"}, res.Fired)
}

func TestEngineUnknownFieldAndOperatorAreFalse(t *testing.T) {
	rules := []*domain.Rule{
		{
			ID: "r-field", Enabled: true, Priority: 10,
			Conditions: []domain.RuleCondition{
				{Field: "astrology_sign", Operator: domain.OpEquals, Value: "leo"},
			},
			Actions: domain.RuleActions{AddTags: []string{"f"}},
		},
		{
			ID: "r-op", Enabled: true, Priority: 20,
			Conditions: []domain.RuleCondition{
				{Field: domain.FieldSubject, Operator: "sounds_like", Value: "news"},
			},
			Actions: domain.RuleActions{AddTags: []string{"o"}},
		},
	}
	e := newTestEngine(t, rules)

	m := testMessage()
	res := e.Apply(m)
	assert.Empty(t, res.Fired)
}

func TestEngineDisabledRulesSkipped(t *testing.T) {
	r := &domain.Rule{
		ID: "r-off", Enabled: false, Priority: 10,
		Conditions: []domain.RuleCondition{
			{Field: domain.FieldSubject, Operator: domain.OpContains, Value: "newsletter"},
		},
		Actions: domain.RuleActions{AddTags: []string{"off"}},
	}
	e := newTestEngine(t, []*domain.Rule{r})
	assert.Equal(t, 0, e.Snapshot().Len())
}

func TestEngineActions(t *testing.T) {
	m := testMessage()
	m.Tags = []string{"stale"}
	m.IsRead = false

	r := &domain.Rule{
		ID: "r-act", Enabled: true, Priority: 10,
		Conditions: []domain.RuleCondition{
			{Field: domain.FieldSenderDomain, Operator: domain.OpEndsWith, Value: "acme.com"},
		},
		Actions: domain.RuleActions{
			SetCategory: catPtr(domain.CategoryUpdates),
			SetPriority: prioPtr(domain.PriorityLow),
			AddTags:     []string{"vendor", "vendor"}, // duplicates collapse
			RemoveTags:  []string{"stale"},
			MarkRead:    boolPtr(true),
			MarkFlagged: boolPtr(false),
		},
	}
	e := newTestEngine(t, []*domain.Rule{r})
	e.Apply(m)

	assert.Equal(t, domain.CategoryUpdates, m.Category)
	assert.Equal(t, domain.PriorityLow, m.Priority)
	assert.Equal(t, []string{"vendor"}, m.Tags)
	assert.True(t, m.IsRead)
	assert.False(t, m.IsFlagged)
}

func TestEngineMultiValuedFields(t *testing.T) {
	m := testMessage()
	m.Recipients = append(m.Recipients, domain.Address{Address: "board@acme.com"})

	r := &domain.Rule{
		ID: "r-rcpt", Enabled: true, Priority: 10,
		Conditions: []domain.RuleCondition{
			{Field: domain.FieldRecipients, Operator: domain.OpStartsWith, Value: "board@"},
		},
		Actions: domain.RuleActions{AddTags: []string{"board"}},
	}
	e := newTestEngine(t, []*domain.Rule{r})
	res := e.Apply(m)

	require.Len(t, res.Fired, 1)
	assert.True(t, m.HasTag("board"))
}

func TestEngineDeterminism(t *testing.T) {
	e := newTestEngine(t, BuiltinRules())

	m1 := testMessage()
	m2 := testMessage()
	r1 := e.Apply(m1)
	r2 := e.Apply(m2)

	assert.Equal(t, r1.Fired, r2.Fired)
	assert.Equal(t, m1.Category, m2.Category)
	assert.Equal(t, m1.Priority, m2.Priority)
}

func TestBuiltinRulesCompile(t *testing.T) {
	e := NewEngine(logger.Default())
	issues := e.Load(BuiltinRules())
	require.Empty(t, issues)
	assert.Equal(t, len(BuiltinRules()), e.Snapshot().Len())
}

func TestBuiltinUrgencyAndSpam(t *testing.T) {
	e := newTestEngine(t, BuiltinRules())

	urgent := testMessage()
	urgent.Subject = "URGENT: server down, action required"
	e.Apply(urgent)
	assert.Equal(t, domain.PriorityUrgent, urgent.Priority)
	assert.True(t, urgent.IsFlagged)

	spam := testMessage()
	spam.Subject = "You have won! Claim your prize now"
	e.Apply(spam)
	assert.Equal(t, domain.PriorityLow, spam.Priority)
	assert.True(t, spam.HasTag("potential_spam"))
}

func TestTestRuleDoesNotRequireEngine(t *testing.T) {
	r := &domain.Rule{
		ID: "r-test", Enabled: true, Priority: 10,
		Conditions: []domain.RuleCondition{
			{Field: domain.FieldSubject, Operator: domain.OpContains, Value: "newsletter"},
		},
	}
	ok, err := TestRule(r, testMessage())
	require.NoError(t, err)
	assert.True(t, ok)
}
