// Package learning turns user corrections into adjusted weights and,
// over time, synthesized rules.
package learning

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mailmind/core/domain"
	"mailmind/core/port/out"
	"mailmind/core/service/intelligence"
	"mailmind/pkg/apperr"
)

const (
	stateKey     = "learner_state"
	stateVersion = 1
	learningRate = 0.2
	tokenStep    = 0.05
)

// bucketDelta is the sender-weight delta applied per corrected bucket,
// before the learning rate.
var bucketDelta = map[domain.TriageBucket]float64{
	domain.BucketPriorityInbox: +0.1,
	domain.BucketAutoArchive:   -0.1,
	domain.BucketSpamFolder:    -0.3,
	domain.BucketRegularInbox:  0,
}

// urgencyVocabulary mirrors the triage keyword table; matches here feed
// the false-positive set on AUTO_ARCHIVE corrections.
var urgencyVocabulary = []string{
	"urgent", "asap", "immediate", "deadline", "important", "please respond", "follow up",
}

// categoryPref counts priority vs archive corrections per category.
type categoryPref struct {
	Priority int `json:"priority"`
	Archive  int `json:"archive"`
}

// ruleStat tracks rolling rule accuracy.
type ruleStat struct {
	Matches int `json:"matches"`
	Correct int `json:"correct"`
}

// learnerState is the versioned derived-weight blob. It is rebuildable
// from the append-only feedback log.
type learnerState struct {
	Version        int                      `json:"version"`
	SenderWeights  map[string]float64       `json:"sender_weights"`
	CategoryPrefs  map[string]*categoryPref `json:"category_prefs"`
	UrgencyTokens  map[string]float64       `json:"urgency_tokens"`
	FalsePositives map[string]bool          `json:"false_positives"`
	PriorityHours  [24]int                  `json:"priority_hours"`
	ArchiveHours   [24]int                  `json:"archive_hours"`
	RuleStats      map[string]*ruleStat     `json:"rule_stats"`
	UpdatedAt      time.Time                `json:"updated_at"`
}

func newLearnerState() *learnerState {
	return &learnerState{
		Version:        stateVersion,
		SenderWeights:  make(map[string]float64),
		CategoryPrefs:  make(map[string]*categoryPref),
		UrgencyTokens:  make(map[string]float64),
		FalsePositives: make(map[string]bool),
		RuleStats:      make(map[string]*ruleStat),
	}
}

// =============================================================================
// Feedback Learner
// =============================================================================

// FeedbackLearner consumes corrections and maintains the derived weights.
type FeedbackLearner struct {
	store out.Store
	index *intelligence.Index
	log   zerolog.Logger

	mu    sync.Mutex
	state *learnerState
}

func NewFeedbackLearner(store out.Store, index *intelligence.Index, log zerolog.Logger) *FeedbackLearner {
	return &FeedbackLearner{
		store: store,
		index: index,
		log:   log.With().Str("component", "feedback_learner").Logger(),
		state: newLearnerState(),
	}
}

// Load restores the derived state, rebuilding from the feedback log when
// the blob is missing or from an older version.
func (l *FeedbackLearner) Load(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := newLearnerState()
	found, err := l.store.State().GetState(ctx, stateKey, st)
	if err != nil {
		return err
	}
	if !found || st.Version != stateVersion {
		l.log.Info().Bool("found", found).Msg("rebuilding learner state from feedback log")
		if err := l.rebuildLocked(ctx); err != nil {
			return err
		}
		return l.persistLocked(ctx)
	}
	if st.SenderWeights == nil {
		st = newLearnerState()
	}
	l.state = st
	l.pushWeightsLocked()
	return nil
}

// Rebuild replays the full feedback log into a fresh state.
func (l *FeedbackLearner) Rebuild(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.rebuildLocked(ctx); err != nil {
		return err
	}
	return l.persistLocked(ctx)
}

func (l *FeedbackLearner) rebuildLocked(ctx context.Context) error {
	log, err := l.store.Feedback().List(ctx, time.Time{})
	if err != nil {
		return err
	}
	l.state = newLearnerState()
	for _, f := range log {
		if err := l.applyLocked(ctx, f); err != nil {
			l.log.Warn().Err(err).Int64("feedback_id", f.ID).Msg("skipping feedback during rebuild")
		}
	}
	l.pushWeightsLocked()
	return nil
}

// Submit validates, records, and applies one correction.
func (l *FeedbackLearner) Submit(ctx context.Context, f *domain.Feedback) error {
	if f.MessageID == "" {
		return apperr.InvalidInput("message_id", "required")
	}
	if !f.CorrectedBucket.Valid() {
		return apperr.InvalidInput("corrected_bucket", "unknown bucket")
	}
	if f.StampedAt.IsZero() {
		f.StampedAt = time.Now()
	}

	if f.OriginalBucket == "" {
		if d, err := l.store.Decisions().Get(ctx, f.MessageID); err == nil && d != nil {
			f.OriginalBucket = d.Bucket
		}
	}

	if err := l.store.Feedback().Record(ctx, f); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.applyLocked(ctx, f); err != nil {
		return err
	}
	l.pushWeightsLocked()
	return l.persistLocked(ctx)
}

// applyLocked folds one feedback into the state.
func (l *FeedbackLearner) applyLocked(ctx context.Context, f *domain.Feedback) error {
	m, err := l.store.Messages().GetByID(ctx, f.MessageID)
	if err != nil {
		return err
	}
	if m == nil {
		return apperr.NotFound("message " + f.MessageID)
	}

	addr := strings.ToLower(m.Sender.Address)
	if addr != "" {
		old, tracked := l.state.SenderWeights[addr]
		if !tracked {
			old = l.index.SenderImportance(addr)
		}
		l.state.SenderWeights[addr] = clamp01(old + bucketDelta[f.CorrectedBucket]*learningRate)
	}

	pref := l.state.CategoryPrefs[string(m.Category)]
	if pref == nil {
		pref = &categoryPref{}
		l.state.CategoryPrefs[string(m.Category)] = pref
	}

	hour := m.ReceivedAt.Hour()
	switch f.CorrectedBucket {
	case domain.BucketPriorityInbox:
		pref.Priority++
		l.state.PriorityHours[hour]++
		for _, tok := range bodyTokens(m.BodyText) {
			w := l.state.UrgencyTokens[tok] + tokenStep
			if w > 1.0 {
				w = 1.0
			}
			l.state.UrgencyTokens[tok] = w
		}
	case domain.BucketAutoArchive:
		pref.Archive++
		l.state.ArchiveHours[hour]++
		text := strings.ToLower(m.Subject + " " + m.BodyText)
		for _, kw := range urgencyVocabulary {
			if strings.Contains(text, kw) {
				l.state.FalsePositives[kw] = true
			}
		}
	}

	l.state.UpdatedAt = time.Now()
	return nil
}

func (l *FeedbackLearner) pushWeightsLocked() {
	l.index.SetLearnedWeights(l.state.SenderWeights)
}

func (l *FeedbackLearner) persistLocked(ctx context.Context) error {
	return l.store.State().PutState(ctx, stateKey, l.state)
}

// SenderWeight exposes the learned weight, if any.
func (l *FeedbackLearner) SenderWeight(address string) (float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.state.SenderWeights[strings.ToLower(address)]
	return w, ok
}

// =============================================================================
// Urgency hints (consumed by the triage analyzer)
// =============================================================================

// IsFalsePositive reports whether the keyword was previously corrected
// away from priority.
func (l *FeedbackLearner) IsFalsePositive(keyword string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.FalsePositives[keyword]
}

// LearnedUrgency returns the learned weight of a token, zero if unknown.
func (l *FeedbackLearner) LearnedUrgency(token string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.UrgencyTokens[strings.ToLower(token)]
}

// =============================================================================
// Rule performance tracking
// =============================================================================

// RuleSuggestion proposes enabling or disabling a rule.
type RuleSuggestion struct {
	RuleID   string
	Enable   bool
	Accuracy float64
	Matches  int
}

// RecordRuleOutcome tracks whether a fired rule's prediction agreed with
// the final decision.
func (l *FeedbackLearner) RecordRuleOutcome(ctx context.Context, ruleID string, correct bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.state.RuleStats[ruleID]
	if st == nil {
		st = &ruleStat{}
		l.state.RuleStats[ruleID] = st
	}
	st.Matches++
	if correct {
		st.Correct++
	}
	return l.persistLocked(ctx)
}

// RuleSuggestions proposes disabling rules below 0.6 accuracy over at
// least 10 matches, and enabling disabled rules above 0.9.
func (l *FeedbackLearner) RuleSuggestions(ctx context.Context) ([]RuleSuggestion, error) {
	rules, err := l.store.Rules().List(ctx, false)
	if err != nil {
		return nil, err
	}
	enabled := make(map[string]bool, len(rules))
	for _, r := range rules {
		enabled[r.ID] = r.Enabled
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var out []RuleSuggestion
	for id, st := range l.state.RuleStats {
		if st.Matches < 10 {
			continue
		}
		acc := float64(st.Correct) / float64(st.Matches)
		switch {
		case acc < 0.6 && enabled[id]:
			out = append(out, RuleSuggestion{RuleID: id, Enable: false, Accuracy: acc, Matches: st.Matches})
		case acc > 0.9 && !enabled[id]:
			out = append(out, RuleSuggestion{RuleID: id, Enable: true, Accuracy: acc, Matches: st.Matches})
		}
	}
	return out, nil
}

// =============================================================================
// Tokenization
// =============================================================================

var tokenStop = map[string]bool{
	"this": true, "that": true, "with": true, "from": true, "have": true,
	"will": true, "your": true, "please": true, "thanks": true, "about": true,
	"would": true, "could": true, "there": true, "their": true, "been": true,
}

// bodyTokens returns lowercase tokens longer than three characters,
// stopwords removed.
func bodyTokens(body string) []string {
	fields := strings.FieldsFunc(strings.ToLower(body), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	seen := make(map[string]bool)
	var out []string
	for _, tok := range fields {
		if len(tok) <= 3 || tokenStop[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
