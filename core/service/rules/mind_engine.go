// Package rules implements the deterministic predicate engine that runs
// before any analyzer touches a message.
package rules

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"mailmind/core/domain"
	"mailmind/pkg/apperr"

	"github.com/rs/zerolog"
)

// =============================================================================
// Compiled Rule Set
// =============================================================================

// compiledRule pairs a rule with its pre-compiled regex conditions.
// Regexes compile once per load, not per message.
type compiledRule struct {
	rule     *domain.Rule
	patterns map[int]*regexp.Regexp // condition index -> compiled pattern
}

// RuleSet is an immutable, versioned snapshot of compiled rules ordered
// by ascending priority. Edits publish a new version.
type RuleSet struct {
	Version int64
	rules   []*compiledRule
}

// Len returns the number of evaluable rules in the set.
func (s *RuleSet) Len() int { return len(s.rules) }

// CompileIssue reports a rule that failed to compile and was disabled.
type CompileIssue struct {
	RuleID string
	Reason string
}

// ApplyResult is the outcome of one engine pass over a message.
type ApplyResult struct {
	// Fired lists rule IDs in the order they matched, for audit.
	Fired []string
}

// =============================================================================
// Engine
// =============================================================================

// Engine evaluates the enabled rule set against messages. The active set
// is swapped atomically so readers never block on edits.
type Engine struct {
	current atomic.Pointer[RuleSet]
	version atomic.Int64
	log     zerolog.Logger
}

// NewEngine creates an engine with an empty rule set.
func NewEngine(log zerolog.Logger) *Engine {
	e := &Engine{log: log.With().Str("component", "rules_engine").Logger()}
	e.current.Store(&RuleSet{})
	return e
}

// Load compiles and publishes a new rule set. Disabled rules are skipped.
// A rule whose regex fails to compile is excluded and reported; one bad
// rule never blocks the rest.
func (e *Engine) Load(rules []*domain.Rule) []CompileIssue {
	var issues []CompileIssue
	compiled := make([]*compiledRule, 0, len(rules))

	for _, r := range rules {
		if !r.Enabled || r.CompileError != "" {
			continue
		}
		cr, err := compile(r)
		if err != nil {
			issues = append(issues, CompileIssue{RuleID: r.ID, Reason: err.Error()})
			e.log.Warn().Str("rule_id", r.ID).Err(err).Msg("rule disabled: compile failed")
			continue
		}
		compiled = append(compiled, cr)
	}

	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].rule.Priority < compiled[j].rule.Priority
	})

	set := &RuleSet{Version: e.version.Add(1), rules: compiled}
	e.current.Store(set)
	return issues
}

// Snapshot returns the active rule set.
func (e *Engine) Snapshot() *RuleSet {
	return e.current.Load()
}

// Apply runs every rule of the active set against the message in priority
// order, mutating classification fields on match. Returns the ordered
// fired rule IDs. Deterministic: same message and set, same result.
func (e *Engine) Apply(m *domain.Message) *ApplyResult {
	return e.Snapshot().Apply(m)
}

// Apply evaluates the set against the message. Later rules overwrite
// earlier setCategory/setPriority (last-writer-wins).
func (s *RuleSet) Apply(m *domain.Message) *ApplyResult {
	res := &ApplyResult{}
	for _, cr := range s.rules {
		if cr.matches(m) {
			applyActions(m, &cr.rule.Actions)
			res.Fired = append(res.Fired, cr.rule.ID)
		}
	}
	return res
}

// TestRule evaluates a single rule against a message without mutating it.
func TestRule(r *domain.Rule, m *domain.Message) (bool, error) {
	cr, err := compile(r)
	if err != nil {
		return false, err
	}
	return cr.matches(m), nil
}

// =============================================================================
// Compilation
// =============================================================================

func compile(r *domain.Rule) (*compiledRule, error) {
	cr := &compiledRule{rule: r, patterns: make(map[int]*regexp.Regexp)}
	for i, c := range r.Conditions {
		if c.Operator != domain.OpRegex {
			continue
		}
		expr := c.Value
		if !c.CaseSensitive {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, apperr.RuleCompile(r.ID, err.Error())
		}
		cr.patterns[i] = re
	}
	return cr, nil
}

// =============================================================================
// Evaluation
// =============================================================================

// matches evaluates all conditions with AND. Unknown fields or operators
// make the condition false rather than failing the pass.
func (cr *compiledRule) matches(m *domain.Message) bool {
	for i, c := range cr.rule.Conditions {
		if !evalCondition(m, &c, cr.patterns[i]) {
			return false
		}
	}
	return len(cr.rule.Conditions) > 0
}

func evalCondition(m *domain.Message, c *domain.RuleCondition, re *regexp.Regexp) bool {
	values, ok := fieldValues(m, c.Field)
	if !ok {
		return false
	}
	for _, v := range values {
		if compare(v, c, re) {
			return true
		}
	}
	return false
}

// fieldValues extracts the condition's field as one or more candidate
// strings; multi-valued fields (recipients, tags) match on any element.
func fieldValues(m *domain.Message, f domain.RuleField) ([]string, bool) {
	switch f {
	case domain.FieldSubject:
		return []string{m.Subject}, true
	case domain.FieldSenderAddress:
		return []string{m.Sender.Address}, true
	case domain.FieldSenderDomain:
		return []string{m.Sender.Domain()}, true
	case domain.FieldBodyText:
		return []string{m.BodyText}, true
	case domain.FieldHasAttachments:
		return []string{strconv.FormatBool(m.HasAttachments)}, true
	case domain.FieldAttachmentCount:
		return []string{strconv.Itoa(m.AttachmentCount)}, true
	case domain.FieldRecipients:
		return m.RecipientAddresses(), true
	case domain.FieldCategory:
		return []string{string(m.Category)}, true
	case domain.FieldPriority:
		return []string{string(m.Priority)}, true
	case domain.FieldTags:
		return m.Tags, true
	default:
		return nil, false
	}
}

func compare(value string, c *domain.RuleCondition, re *regexp.Regexp) bool {
	target := c.Value
	if !c.CaseSensitive {
		value = strings.ToLower(value)
		target = strings.ToLower(target)
	}

	switch c.Operator {
	case domain.OpEquals:
		return value == target
	case domain.OpNotEquals:
		return value != target
	case domain.OpContains:
		return strings.Contains(value, target)
	case domain.OpNotContains:
		return !strings.Contains(value, target)
	case domain.OpStartsWith:
		return strings.HasPrefix(value, target)
	case domain.OpEndsWith:
		return strings.HasSuffix(value, target)
	case domain.OpRegex:
		return re != nil && re.MatchString(value)
	default:
		return false
	}
}

// =============================================================================
// Actions
// =============================================================================

func applyActions(m *domain.Message, a *domain.RuleActions) {
	if a.SetCategory != nil && a.SetCategory.Valid() {
		m.Category = *a.SetCategory
		m.CategoryInferred = false
	}
	if a.SetPriority != nil && a.SetPriority.Valid() {
		m.Priority = *a.SetPriority
	}
	for _, t := range a.AddTags {
		m.AddTag(t)
	}
	for _, t := range a.RemoveTags {
		m.RemoveTag(t)
	}
	if a.MarkRead != nil {
		m.IsRead = *a.MarkRead
	}
	if a.MarkFlagged != nil {
		m.IsFlagged = *a.MarkFlagged
	}
}
