package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
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
// Strategic Analyzer
// =============================================================================

const strategicSchema = `{
  "type": "object",
  "properties": {
    "labels": {"type": "array", "items": {"type": "string"}},
    "strategicImportance": {"type": "string", "enum": ["critical", "high", "medium", "low"]},
    "requiresAction": {"type": "boolean"},
    "delegationHint": {"type": "string"},
    "estMinutesToHandle": {"type": "integer"},
    "keyInsight": {"type": "string"},
    "decisionPoints": {"type": "array", "items": {"type": "string"}},
    "sentiment": {"type": "string", "enum": ["positive", "neutral", "negative", "urgent"]}
  },
  "required": ["labels", "strategicImportance", "requiresAction", "keyInsight", "sentiment"]
}`

const strategicSystem = "You analyze a single email for a busy executive. " +
	"Assess its strategic importance given the sender context. " +
	"Respond with JSON only, matching the schema exactly."

// StrategicAnalyzer scores messages by sender importance and enriches
// the assessment with LLM insight when available.
type StrategicAnalyzer struct {
	index    *intelligence.Index
	llm      out.LLM
	cache    out.AnalysisCache // optional
	cacheTTL time.Duration
	log      zerolog.Logger
}

// NewStrategicAnalyzer wires the analyzer; cache may be nil.
func NewStrategicAnalyzer(index *intelligence.Index, llm out.LLM, cache out.AnalysisCache, cacheTTL time.Duration, log zerolog.Logger) *StrategicAnalyzer {
	return &StrategicAnalyzer{
		index:    index,
		llm:      llm,
		cache:    cache,
		cacheTTL: cacheTTL,
		log:      log.With().Str("component", "strategic_analyzer").Logger(),
	}
}

func (a *StrategicAnalyzer) Name() string { return NameStrategic }

func (a *StrategicAnalyzer) Analyze(ctx context.Context, m *domain.Message) *domain.Assessment {
	profile := a.index.Sender(m.Sender.Address)

	as := &domain.Assessment{
		AnalyzerName: a.Name(),
		Urgency:      domain.UrgencyLow,
	}

	if profile == nil {
		as.PriorityScore = 0.4
		as.Confidence = domain.ConfidenceLow.Score()
		as.Rationale = "unknown sender, no strategic history"
		as.Clamp()
		return as
	}

	as.PriorityScore = profile.ImportanceScore/100 + strategicNudge(profile.Strategic)
	as.Confidence = strategicConfidence(profile).Score()
	as.Urgency = urgencyForScore(as.PriorityScore)
	as.Rationale = fmt.Sprintf("sender %s is %s/%s (importance %.0f)",
		profile.Address, profile.Relationship, profile.Strategic, profile.ImportanceScore)

	if insight := a.insight(ctx, m, profile); insight != nil {
		as.SuggestedLabels = insight.Labels
		if insight.KeyInsight != "" {
			as.Rationale += "; " + insight.KeyInsight
		}
		if insight.RequiresAction {
			as.Opportunities = append(as.Opportunities, "requires action: "+insight.KeyInsight)
		}
		for _, dp := range insight.DecisionPoints {
			as.Opportunities = append(as.Opportunities, "decision point: "+dp)
		}
		if insight.Sentiment == "urgent" && as.Urgency.Rank() < domain.UrgencyHigh.Rank() {
			as.Urgency = domain.UrgencyHigh
		}
	}

	as.Clamp()
	return as
}

// insight runs the constrained LLM analysis, consulting the cache first.
// Any failure degrades to nil; the heuristic score stands on its own.
func (a *StrategicAnalyzer) insight(ctx context.Context, m *domain.Message, p *domain.SenderProfile) *out.StrategicInsight {
	if a.llm == nil {
		return nil
	}

	key := "strategic:" + contentHash(m)
	var cached out.StrategicInsight
	if a.cache != nil {
		if hit, err := a.cache.GetJSON(ctx, key, &cached); err == nil && hit {
			return &cached
		}
	}

	user := fmt.Sprintf(
		"Sender: %s (%s, %d prior messages)\nSubject: %s\n\n%s",
		m.Sender.Address, p.Relationship, p.TotalMessages, m.Subject, truncate(m.BodyText, 2000),
	)
	raw, err := a.llm.Analyze(ctx, &out.AnalyzeRequest{
		System:     strategicSystem,
		User:       user,
		SchemaName: "strategic_insight",
		Schema:     strategicSchema,
	})
	if err != nil {
		a.log.Warn().Err(err).Str("message_id", m.ID).Msg("strategic insight unavailable")
		return nil
	}

	var insight out.StrategicInsight
	if err := json.Unmarshal(raw, &insight); err != nil || insight.StrategicImportance == "" {
		a.log.Warn().Err(err).Str("message_id", m.ID).Msg("strategic insight malformed")
		return nil
	}

	if a.cache != nil {
		if err := a.cache.SetJSON(ctx, key, &insight, a.cacheTTL); err != nil {
			a.log.Debug().Err(err).Msg("insight cache write failed")
		}
	}
	return &insight
}

func strategicNudge(c domain.StrategicClass) float64 {
	switch c {
	case domain.StrategicCritical:
		return 0.10
	case domain.StrategicHigh:
		return 0.05
	case domain.StrategicLow:
		return -0.05
	default:
		return 0
	}
}

func strategicConfidence(p *domain.SenderProfile) domain.AgentConfidence {
	switch {
	case p.Strategic == domain.StrategicCritical:
		return domain.ConfidenceVeryHigh
	case p.TotalMessages > 5:
		return domain.ConfidenceHigh
	case p.TotalMessages > 2:
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceLow
	}
}

// contentHash keys the analysis cache on sender + normalized content.
func contentHash(m *domain.Message) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(m.Sender.Address)))
	h.Write([]byte{0})
	h.Write([]byte(m.Subject))
	h.Write([]byte{0})
	h.Write([]byte(m.BodyText))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
