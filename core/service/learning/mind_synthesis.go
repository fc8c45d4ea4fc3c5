package learning

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"mailmind/core/domain"
	"mailmind/core/port/out"
)

// =============================================================================
// Pattern Synthesis
// =============================================================================

// Sample-size thresholds per pattern kind.
const (
	senderSampleMin  = 5
	keywordSampleMin = 5
	contentSampleMin = 3

	promoteAt    = 0.8 // pattern becomes a rule
	autoEnableAt = 0.9 // the rule starts enabled
)

// Rule priorities for synthesized rules; user rules sit below 100.
const (
	senderRulePriority  = 100
	subjectRulePriority = 101
	contentRulePriority = 102
)

// Synthesizer scans a message window for stable patterns and promotes
// the strong ones to rules.
type Synthesizer struct {
	store               out.Store
	confidenceThreshold float64
	now                 func() time.Time
}

func NewSynthesizer(store out.Store, confidenceThreshold float64) *Synthesizer {
	return &Synthesizer{store: store, confidenceThreshold: confidenceThreshold, now: time.Now}
}

// observation accumulates value counts for one (kind, key, attribute).
type observation struct {
	kind      domain.PatternKind
	key       string
	attribute string
	counts    map[string]int
	total     int
	sampleMin int
}

func (o *observation) add(value string) {
	if o.counts == nil {
		o.counts = make(map[string]int)
	}
	o.counts[value]++
	o.total++
}

func (o *observation) dominant() (string, float64) {
	best, bestCount := "", 0
	for v, c := range o.counts {
		if c > bestCount || (c == bestCount && v < best) {
			best, bestCount = v, c
		}
	}
	if o.total == 0 {
		return "", 0
	}
	return best, float64(bestCount) / float64(o.total)
}

// Synthesize scans messages inside the window, persists qualifying
// patterns and promotes those above the promotion threshold to rules.
func (s *Synthesizer) Synthesize(ctx context.Context, window time.Duration) ([]*domain.LearnedPattern, error) {
	since := s.now().Add(-window)
	obs := make(map[string]*observation)

	track := func(kind domain.PatternKind, key, attr, value string, sampleMin int) {
		if key == "" || value == "" {
			return
		}
		id := string(kind) + "|" + key + "|" + attr
		o := obs[id]
		if o == nil {
			o = &observation{kind: kind, key: key, attribute: attr, sampleMin: sampleMin}
			obs[id] = o
		}
		o.add(value)
	}

	const page = 500
	filter := &out.MessageFilter{Since: &since, Limit: page}
	for offset := 0; ; offset += page {
		filter.Offset = offset
		batch, _, err := s.store.Messages().Query(ctx, filter)
		if err != nil {
			return nil, err
		}
		for _, m := range batch {
			// An inferred category is a normalization default, not a
			// signal; counting it would teach sender->primary from
			// nothing and promote it at full confidence.
			observed := !m.CategoryInferred
			sender := strings.ToLower(m.Sender.Address)
			if observed {
				track(domain.PatternSenderCategory, sender, "category", string(m.Category), senderSampleMin)
			}

			for _, kw := range subjectTokens(m.Subject) {
				if observed {
					track(domain.PatternSubjectKeywordCategory, kw, "category", string(m.Category), keywordSampleMin)
				}
				track(domain.PatternSubjectKeywordPriority, kw, "priority", string(m.Priority), keywordSampleMin)
			}

			if m.HasAttachments && observed {
				track(domain.PatternContentFeature, "has_attachments", "category", string(m.Category), contentSampleMin)
			}
		}
		if len(batch) < page {
			break
		}
	}

	var emitted []*domain.LearnedPattern
	ids := make([]string, 0, len(obs))
	for id := range obs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		o := obs[id]
		if o.total < o.sampleMin {
			continue
		}
		value, conf := o.dominant()
		if conf < s.confidenceThreshold {
			continue
		}

		p := &domain.LearnedPattern{
			Kind:               o.kind,
			Key:                o.key,
			PredictedAttribute: o.attribute,
			PredictedValue:     value,
			Confidence:         conf,
			SampleSize:         o.total,
			UpdatedAt:          s.now(),
		}
		if err := s.store.Patterns().Put(ctx, p); err != nil {
			return nil, err
		}
		emitted = append(emitted, p)

		if conf >= promoteAt {
			if err := s.promote(ctx, p); err != nil {
				return nil, err
			}
		}
	}
	return emitted, nil
}

// promote turns a strong pattern into a rule. Synthesized rules are
// idempotent on their derived ID, so re-synthesis updates in place.
func (s *Synthesizer) promote(ctx context.Context, p *domain.LearnedPattern) error {
	r := &domain.Rule{
		ID:            fmt.Sprintf("learned:%s:%s:%s", p.Kind, p.Key, p.PredictedAttribute),
		Name:          fmt.Sprintf("Learned: %s %q sets %s=%s", p.Kind, p.Key, p.PredictedAttribute, p.PredictedValue),
		Enabled:       p.Confidence >= autoEnableAt,
		AutoGenerated: true,
	}

	switch p.Kind {
	case domain.PatternSenderCategory:
		r.Priority = senderRulePriority
		r.Conditions = []domain.RuleCondition{
			{Field: domain.FieldSenderAddress, Operator: domain.OpEquals, Value: p.Key},
		}
	case domain.PatternSubjectKeywordCategory, domain.PatternSubjectKeywordPriority:
		r.Priority = subjectRulePriority
		r.Conditions = []domain.RuleCondition{
			{Field: domain.FieldSubject, Operator: domain.OpContains, Value: p.Key},
		}
	case domain.PatternContentFeature:
		r.Priority = contentRulePriority
		r.Conditions = []domain.RuleCondition{
			{Field: domain.FieldHasAttachments, Operator: domain.OpEquals, Value: "true"},
		}
	default:
		return nil
	}

	switch p.PredictedAttribute {
	case "category":
		if c, ok := domain.ParseCategory(p.PredictedValue); ok {
			r.Actions.SetCategory = &c
		}
	case "priority":
		if pr, ok := domain.ParsePriority(p.PredictedValue); ok {
			r.Actions.SetPriority = &pr
		}
	}
	if r.Actions.SetCategory == nil && r.Actions.SetPriority == nil {
		return nil
	}
	return s.store.Rules().Put(ctx, r)
}

// subjectTokens mirrors bodyTokens but keeps only a few leading tokens;
// subjects are short and the leading words carry the signal.
func subjectTokens(subject string) []string {
	toks := bodyTokens(subject)
	if len(toks) > 6 {
		toks = toks[:6]
	}
	return toks
}
