package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"mailmind/core/domain"
	"mailmind/core/port/out"
	"mailmind/core/service/intelligence"
)

// =============================================================================
// Triage Analyzer
// =============================================================================

// Factor weights of the attention score.
const (
	wCategory = 0.30
	wSender   = 0.25
	wUrgency  = 0.20
	wRecency  = 0.15
	wThread   = 0.10
)

var categoryWeight = map[domain.EmailCategory]float64{
	domain.CategoryPrimary:    0.8,
	domain.CategoryUpdates:    0.3,
	domain.CategorySocial:     0.2,
	domain.CategoryPromotions: 0.1,
	domain.CategoryForums:     0.4,
	domain.CategorySpam:       0.0,
}

// urgencyKeywords score subject hits at full value, body hits at x0.8.
var urgencyKeywords = []struct {
	keyword string
	weight  float64
}{
	{"urgent", 0.9},
	{"asap", 0.9},
	{"immediate", 0.8},
	{"deadline", 0.8},
	{"important", 0.7},
	{"please respond", 0.6},
	{"follow up", 0.5},
}

const urgencySchema = `{
  "type": "object",
  "properties": {"score": {"type": "number", "minimum": 0, "maximum": 1}},
  "required": ["score"]
}`

// UrgencyHints is the learner-maintained keyword adjustment surface:
// false positives dampen, learned tokens boost.
type UrgencyHints interface {
	IsFalsePositive(keyword string) bool
	LearnedUrgency(token string) float64
}

// TriageAnalyzer computes the weighted attention score.
type TriageAnalyzer struct {
	index *intelligence.Index
	llm   out.LLM // optional urgency probe
	hints UrgencyHints
	log   zerolog.Logger
	now   func() time.Time
}

// NewTriageAnalyzer wires the analyzer; llm and hints may be nil.
func NewTriageAnalyzer(index *intelligence.Index, llm out.LLM, hints UrgencyHints, log zerolog.Logger) *TriageAnalyzer {
	return &TriageAnalyzer{
		index: index,
		llm:   llm,
		hints: hints,
		log:   log.With().Str("component", "triage_analyzer").Logger(),
		now:   time.Now,
	}
}

func (a *TriageAnalyzer) Name() string { return NameTriage }

func (a *TriageAnalyzer) Analyze(ctx context.Context, m *domain.Message) *domain.Assessment {
	category := categoryWeight[m.Category]
	sender := a.index.SenderImportance(m.Sender.Address)
	urgency := a.urgencyFactor(ctx, m)
	recency := recencyFactor(m.AgeAt(a.now()))
	thread := 0.3
	if m.ThreadID != "" && a.index.Thread(m.ThreadID) != nil {
		thread = 0.6
	}

	score := wCategory*category + wSender*sender + wUrgency*urgency +
		wRecency*recency + wThread*thread

	boost := strategicBoost(a.index.Sender(m.Sender.Address))
	score = clampScore(score + boost)

	as := &domain.Assessment{
		AnalyzerName:  a.Name(),
		PriorityScore: score,
		Confidence:    domain.ConfidenceHigh.Score(),
		Urgency:       urgencyForScore(urgency),
		Rationale: fmt.Sprintf(
			"attention %.2f (category %.2f, sender %.2f, urgency %.2f, recency %.2f, thread %.2f, boost %.2f)",
			score, category, sender, urgency, recency, thread, boost),
	}
	as.Clamp()
	return as
}

// urgencyFactor scans subject and body against the keyword table, applies
// learner adjustments, and falls back to an LLM probe when keywords are
// inconclusive.
func (a *TriageAnalyzer) urgencyFactor(ctx context.Context, m *domain.Message) float64 {
	subject := strings.ToLower(m.Subject)
	body := strings.ToLower(m.BodyText)

	best := 0.0
	for _, kw := range urgencyKeywords {
		w := kw.weight
		if a.hints != nil && a.hints.IsFalsePositive(kw.keyword) {
			w *= 0.5
		}
		if strings.Contains(subject, kw.keyword) && w > best {
			best = w
		}
		if bw := w * 0.8; strings.Contains(body, kw.keyword) && bw > best {
			best = bw
		}
	}

	if a.hints != nil {
		for _, tok := range strings.Fields(subject) {
			if lw := a.hints.LearnedUrgency(tok); lw > best {
				best = lw
			}
		}
	}

	if best < 0.5 && a.llm != nil {
		if probe, ok := a.llmUrgency(ctx, m); ok && probe > best {
			best = probe
		}
	}
	return clampScore(best)
}

func (a *TriageAnalyzer) llmUrgency(ctx context.Context, m *domain.Message) (float64, bool) {
	raw, err := a.llm.Analyze(ctx, &out.AnalyzeRequest{
		System:     "Rate the urgency of this email from 0 to 1. Respond with JSON only.",
		User:       fmt.Sprintf("Subject: %s\n\n%s", m.Subject, truncate(m.BodyText, 1000)),
		SchemaName: "urgency_score",
		Schema:     urgencySchema,
	})
	if err != nil {
		a.log.Debug().Err(err).Str("message_id", m.ID).Msg("urgency probe unavailable")
		return 0, false
	}
	var score out.UrgencyScore
	if err := json.Unmarshal(raw, &score); err != nil || score.Score < 0 || score.Score > 1 {
		return 0, false
	}
	return score.Score, true
}

func recencyFactor(age time.Duration) float64 {
	switch {
	case age < time.Hour:
		return 1.0
	case age < 6*time.Hour:
		return 0.8
	case age < 24*time.Hour:
		return 0.6
	case age < 3*24*time.Hour:
		return 0.4
	case age < 7*24*time.Hour:
		return 0.2
	default:
		return 0.1
	}
}

func strategicBoost(p *domain.SenderProfile) float64 {
	if p == nil {
		return 0
	}
	switch p.Strategic {
	case domain.StrategicCritical:
		return 0.40
	case domain.StrategicHigh:
		return 0.25
	case domain.StrategicMedium:
		return 0.10
	default:
		return 0
	}
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
