package domain

import (
	"strings"
	"time"
)

// =============================================================================
// Rule Model
// =============================================================================

// RuleField selects the message attribute a condition reads.
type RuleField string

const (
	FieldSubject         RuleField = "subject"
	FieldSenderAddress   RuleField = "sender_address"
	FieldSenderDomain    RuleField = "sender_domain"
	FieldBodyText        RuleField = "body_text"
	FieldHasAttachments  RuleField = "has_attachments"
	FieldAttachmentCount RuleField = "attachment_count"
	FieldRecipients      RuleField = "recipients"
	FieldCategory        RuleField = "category"
	FieldPriority        RuleField = "priority"
	FieldTags            RuleField = "tags"
)

// Valid reports whether f is a known field.
func (f RuleField) Valid() bool {
	switch f {
	case FieldSubject, FieldSenderAddress, FieldSenderDomain, FieldBodyText,
		FieldHasAttachments, FieldAttachmentCount, FieldRecipients,
		FieldCategory, FieldPriority, FieldTags:
		return true
	}
	return false
}

// RuleOperator is the comparison a condition applies.
type RuleOperator string

const (
	OpEquals      RuleOperator = "equals"
	OpContains    RuleOperator = "contains"
	OpStartsWith  RuleOperator = "starts_with"
	OpEndsWith    RuleOperator = "ends_with"
	OpRegex       RuleOperator = "regex"
	OpNotEquals   RuleOperator = "not_equals"
	OpNotContains RuleOperator = "not_contains"
)

// Valid reports whether o is a known operator.
func (o RuleOperator) Valid() bool {
	switch o {
	case OpEquals, OpContains, OpStartsWith, OpEndsWith,
		OpRegex, OpNotEquals, OpNotContains:
		return true
	}
	return false
}

// RuleCondition is one predicate; a rule's conditions are AND-combined.
type RuleCondition struct {
	Field         RuleField    `json:"field"`
	Operator      RuleOperator `json:"operator"`
	Value         string       `json:"value"`
	CaseSensitive bool         `json:"case_sensitive"`
}

// RuleActions is what a matching rule applies to the message.
// Rules never delete messages.
type RuleActions struct {
	SetCategory *EmailCategory `json:"set_category,omitempty"`
	SetPriority *EmailPriority `json:"set_priority,omitempty"`
	AddTags     []string       `json:"add_tags,omitempty"`
	RemoveTags  []string       `json:"remove_tags,omitempty"`
	MarkRead    *bool          `json:"mark_read,omitempty"`
	MarkFlagged *bool          `json:"mark_flagged,omitempty"`
}

// Rule is a deterministic, user-editable classification rule.
// Lower Priority evaluates first; the integer total-orders evaluation.
type Rule struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Enabled  bool   `json:"enabled"`
	Priority int    `json:"priority"`

	Conditions []RuleCondition `json:"conditions"`
	Actions    RuleActions     `json:"actions"`

	// CompileError is set when a condition cannot compile (bad regex);
	// such a rule is kept but disabled with the reason.
	CompileError string `json:"compile_error,omitempty"`

	// AutoGenerated marks rules synthesized from learned patterns.
	AutoGenerated bool `json:"auto_generated"`

	// Hit stats
	HitCount  int        `json:"hit_count"`
	LastHitAt *time.Time `json:"last_hit_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks structural validity of the rule definition.
// Unknown fields/operators are a caller error here; at evaluation time
// they are treated as a non-matching condition instead.
func (r *Rule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errMissing("name")
	}
	if len(r.Conditions) == 0 {
		return errMissing("conditions")
	}
	for _, c := range r.Conditions {
		if !c.Field.Valid() {
			return errUnknown("field", string(c.Field))
		}
		if !c.Operator.Valid() {
			return errUnknown("operator", string(c.Operator))
		}
	}
	if r.Actions.SetCategory != nil && !r.Actions.SetCategory.Valid() {
		return errUnknown("set_category", string(*r.Actions.SetCategory))
	}
	if r.Actions.SetPriority != nil && !r.Actions.SetPriority.Valid() {
		return errUnknown("set_priority", string(*r.Actions.SetPriority))
	}
	return nil
}

type ruleError struct{ msg string }

func (e *ruleError) Error() string { return e.msg }

func errMissing(field string) error {
	return &ruleError{msg: "rule: missing " + field}
}

func errUnknown(kind, value string) error {
	return &ruleError{msg: "rule: unknown " + kind + " '" + value + "'"}
}
