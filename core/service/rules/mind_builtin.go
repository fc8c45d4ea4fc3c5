package rules

import (
	"mailmind/core/domain"
)

// =============================================================================
// Built-in Rules
// =============================================================================

// Built-in rules run before any user rule (priority < 100) and cover the
// common mechanical classifications: social notifications, newsletters,
// automated senders, promotions, forums, urgency keywords and obvious
// spam markers.

func catPtr(c domain.EmailCategory) *domain.EmailCategory { return &c }

func prioPtr(p domain.EmailPriority) *domain.EmailPriority { return &p }

func boolPtr(b bool) *bool { return &b }

// BuiltinRules returns the default rule catalog. IDs are stable so the
// catalog can be re-seeded idempotently.
func BuiltinRules() []*domain.Rule {
	return []*domain.Rule{
		{
			ID:       "builtin:social-domains",
			Name:     "Social network notifications",
			Enabled:  true,
			Priority: 10,
			Conditions: []domain.RuleCondition{
				{Field: domain.FieldSenderDomain, Operator: domain.OpRegex,
					Value: `(^|\.)(facebook|facebookmail|twitter|x|linkedin|instagram|tiktok|pinterest|reddit)\.com$`},
			},
			Actions: domain.RuleActions{
				SetCategory: catPtr(domain.CategorySocial),
				AddTags:     []string{"social"},
			},
		},
		{
			ID:       "builtin:newsletter",
			Name:     "Newsletters and digests",
			Enabled:  true,
			Priority: 15,
			Conditions: []domain.RuleCondition{
				{Field: domain.FieldSubject, Operator: domain.OpRegex,
					Value: `\b(newsletter|digest|weekly roundup|this week in)\b`},
			},
			Actions: domain.RuleActions{
				SetCategory: catPtr(domain.CategoryUpdates),
				AddTags:     []string{"newsletter"},
			},
		},
		{
			ID:       "builtin:no-reply",
			Name:     "No-reply and notification senders",
			Enabled:  true,
			Priority: 20,
			Conditions: []domain.RuleCondition{
				{Field: domain.FieldSenderAddress, Operator: domain.OpRegex,
					Value: `^(no-?reply|do-?not-?reply|notifications?|alerts?)@`},
			},
			Actions: domain.RuleActions{
				SetCategory: catPtr(domain.CategoryUpdates),
				AddTags:     []string{"automated"},
			},
		},
		{
			ID:       "builtin:promotions",
			Name:     "Promotional offers",
			Enabled:  true,
			Priority: 25,
			Conditions: []domain.RuleCondition{
				{Field: domain.FieldSubject, Operator: domain.OpRegex,
					Value: `\b(\d+% off|sale ends|limited time offer|coupon|promo code|flash sale|deal of the)\b`},
			},
			Actions: domain.RuleActions{
				SetCategory: catPtr(domain.CategoryPromotions),
				SetPriority: prioPtr(domain.PriorityLow),
			},
		},
		{
			ID:       "builtin:forums",
			Name:     "Mailing lists and forums",
			Enabled:  true,
			Priority: 30,
			Conditions: []domain.RuleCondition{
				{Field: domain.FieldSubject, Operator: domain.OpRegex,
					Value: `^\[[^\]]+\]`},
			},
			Actions: domain.RuleActions{
				SetCategory: catPtr(domain.CategoryForums),
			},
		},
		{
			ID:       "builtin:automated-sender",
			Name:     "Automated system senders",
			Enabled:  true,
			Priority: 35,
			Conditions: []domain.RuleCondition{
				{Field: domain.FieldSenderAddress, Operator: domain.OpRegex,
					Value: `^(mailer-daemon|postmaster|bounce|system|robot|automated)@`},
			},
			Actions: domain.RuleActions{
				SetCategory: catPtr(domain.CategoryUpdates),
				SetPriority: prioPtr(domain.PriorityLow),
				AddTags:     []string{"automated"},
			},
		},
		{
			ID:       "builtin:urgency-keywords",
			Name:     "Urgency keywords in subject",
			Enabled:  true,
			Priority: 40,
			Conditions: []domain.RuleCondition{
				{Field: domain.FieldSubject, Operator: domain.OpRegex,
					Value: `\b(urgent|asap|emergency|critical|deadline today|action required|time.?sensitive)\b`},
			},
			Actions: domain.RuleActions{
				SetPriority: prioPtr(domain.PriorityUrgent),
				MarkFlagged: boolPtr(true),
			},
		},
		{
			ID:       "builtin:spam-indicators",
			Name:     "Obvious spam markers",
			Enabled:  true,
			Priority: 45,
			Conditions: []domain.RuleCondition{
				{Field: domain.FieldSubject, Operator: domain.OpRegex,
					Value: `\b(you('| ha)ve won|claim your prize|viagra|crypto giveaway|wire transfer request|prince|lottery winner)\b`},
			},
			Actions: domain.RuleActions{
				SetPriority: prioPtr(domain.PriorityLow),
				AddTags:     []string{"potential_spam"},
			},
		},
	}
}
