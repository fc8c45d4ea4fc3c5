package brief

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"mailmind/core/domain"
	"mailmind/core/port/out"
	"mailmind/pkg/apperr"
)

// =============================================================================
// Daily Brief Generator
// =============================================================================

const (
	dateLayout = "2006-01-02"

	narrativeMinWords = 120
	narrativeMaxWords = 220
	readWordsPerMin   = 200

	maxActionItems      = 5
	maxThreadSummaries  = 3
	threadBodyClipBytes = 500
)

const narrativeSchema = `{
  "type": "object",
  "properties": {
    "headline": {"type": "string"},
    "narrative": {"type": "string"},
    "actionItems": {"type": "array", "items": {"type": "string"}},
    "deadlines": {"type": "array", "items": {"type": "string"}},
    "characters": {"type": "array", "items": {"type": "string"}},
    "themes": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["headline", "narrative", "actionItems", "themes"]
}`

const narrativeSystem = "You write a short daily email digest for one person. " +
	"Produce a single-line headline, a narrative of 150 to 200 words, " +
	"3 to 5 action items, any deadlines mentioned, the key people, and the themes. " +
	"Respond with JSON only, matching the schema exactly."

const threadSchema = `{
  "type": "object",
  "properties": {
    "summary": {"type": "string"},
    "keyDecisions": {"type": "array", "items": {"type": "string"}},
    "actionItems": {"type": "array", "items": {
      "type": "object",
      "properties": {
        "action": {"type": "string"},
        "owner": {"type": "string"},
        "deadline": {"type": "string"}
      },
      "required": ["action"]
    }},
    "status": {"type": "string", "enum": ["resolved", "ongoing", "stalled", "escalated"]},
    "priority": {"type": "string"},
    "sentiment": {"type": "string"},
    "nextSteps": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["summary", "status"]
}`

const threadSystem = "You summarize one email conversation for its owner. " +
	"Report what happened, any decisions made, open action items with owners and deadlines, " +
	"and the conversation status. Respond with JSON only, matching the schema exactly."

// Generator assembles and persists the daily brief.
type Generator struct {
	store out.Store
	llm   out.LLM // optional
	log   zerolog.Logger
	now   func() time.Time
}

func NewGenerator(store out.Store, llm out.LLM, log zerolog.Logger) *Generator {
	return &Generator{
		store: store,
		llm:   llm,
		log:   log.With().Str("component", "brief_generator").Logger(),
		now:   time.Now,
	}
}

// Generate builds the brief for a UTC date, persists and returns it.
func (g *Generator) Generate(ctx context.Context, dateUTC string) (*domain.DailyBrief, error) {
	if _, err := time.Parse(dateLayout, dateUTC); err != nil {
		return nil, apperr.InvalidInput("date", "want YYYY-MM-DD")
	}

	msgs, err := g.store.Messages().ListByDateUTC(ctx, dateUTC)
	if err != nil {
		return nil, err
	}

	facts := computeFacts(msgs)
	b := &domain.DailyBrief{
		DateUTC:       dateUTC,
		TotalMessages: facts.Total,
		UnreadCount:   facts.Unread,
		CategoryHist:  facts.ByCategory,
		PriorityHist:  facts.ByPriority,
		GeneratedAt:   g.now(),
	}

	narrative := g.llmNarrative(ctx, dateUTC, facts)
	if narrative == nil {
		narrative = fallbackNarrative(facts)
	}

	b.Headline = firstLine(narrative.Headline)
	b.Narrative = narrative.Narrative
	b.ActionItems = narrative.ActionItems
	b.Deadlines = narrative.Deadlines
	b.KeyCharacters = narrative.Characters
	b.Themes = narrative.Themes
	if len(b.Themes) == 0 {
		b.Themes = facts.Themes
	}
	b.EstimatedReadSeconds = wordCount(b.Narrative) * 60 / readWordsPerMin

	g.mergeThreadSummaries(ctx, b, facts)

	if err := g.store.Briefs().Put(ctx, b); err != nil {
		return nil, err
	}
	g.log.Info().Str("date", dateUTC).Int("messages", b.TotalMessages).Msg("daily brief generated")
	return b, nil
}

// llmNarrative asks the LLM for the narrative; nil means fall back.
func (g *Generator) llmNarrative(ctx context.Context, dateUTC string, f *dayFacts) *out.DailyNarrative {
	if g.llm == nil || f.Total == 0 {
		return nil
	}

	raw, err := g.llm.Analyze(ctx, &out.AnalyzeRequest{
		System:     narrativeSystem,
		User:       factsPrompt(dateUTC, f),
		SchemaName: "daily_narrative",
		Schema:     narrativeSchema,
	})
	if err != nil {
		g.log.Warn().Err(err).Str("date", dateUTC).Msg("narrative llm unavailable, using template")
		return nil
	}

	var n out.DailyNarrative
	if err := json.Unmarshal(raw, &n); err != nil {
		g.log.Warn().Err(err).Msg("narrative output malformed, using template")
		return nil
	}
	words := wordCount(n.Narrative)
	if n.Headline == "" || words < 100 || words > 240 || len(n.ActionItems) == 0 {
		g.log.Warn().Int("words", words).Msg("narrative outside constraints, using template")
		return nil
	}
	return &n
}

// mergeThreadSummaries enriches the brief with LLM summaries of the
// day's busiest reply chains. Action items and deadlines from each
// summary fold into the brief; a stalled or escalated chain earns its
// own follow-up item.
func (g *Generator) mergeThreadSummaries(ctx context.Context, b *domain.DailyBrief, f *dayFacts) {
	if g.llm == nil {
		return
	}

	summarized := 0
	for _, a := range f.StoryArcs {
		if summarized >= maxThreadSummaries {
			break
		}
		if a.ThreadID == "" {
			continue
		}
		ts := g.summarizeThread(ctx, a.ThreadID)
		if ts == nil {
			continue
		}
		summarized++

		for _, item := range ts.ActionItems {
			if len(b.ActionItems) < maxActionItems {
				b.ActionItems = append(b.ActionItems, formatThreadAction(item))
			}
			if item.Deadline != "" {
				b.Deadlines = append(b.Deadlines, item.Deadline)
			}
		}
		if (ts.Status == "stalled" || ts.Status == "escalated") && len(b.ActionItems) < maxActionItems {
			b.ActionItems = append(b.ActionItems,
				fmt.Sprintf("Unblock the %q thread: %s", a.Subject, firstLine(ts.Summary)))
		}
	}
}

// summarizeThread runs the constrained thread-summary analysis over the
// full conversation; nil means skip.
func (g *Generator) summarizeThread(ctx context.Context, threadID string) *out.ThreadSummary {
	msgs, err := g.store.Messages().ListByThread(ctx, threadID)
	if err != nil || len(msgs) < 2 {
		return nil
	}

	var sb strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&sb, "From %s at %s\nSubject: %s\n%s\n\n",
			m.Sender.Address, m.SentAt.UTC().Format(time.RFC3339),
			m.Subject, clip(m.BodyText, threadBodyClipBytes))
	}

	raw, err := g.llm.Analyze(ctx, &out.AnalyzeRequest{
		System:     threadSystem,
		User:       sb.String(),
		SchemaName: "thread_summary",
		Schema:     threadSchema,
	})
	if err != nil {
		g.log.Warn().Err(err).Str("thread_id", threadID).Msg("thread summary unavailable")
		return nil
	}

	var ts out.ThreadSummary
	if err := json.Unmarshal(raw, &ts); err != nil || ts.Summary == "" {
		g.log.Warn().Err(err).Str("thread_id", threadID).Msg("thread summary malformed")
		return nil
	}
	return &ts
}

func formatThreadAction(it out.ThreadActionItem) string {
	s := it.Action
	if it.Owner != "" {
		s += " (" + it.Owner + ")"
	}
	if it.Deadline != "" {
		s += ", due " + it.Deadline
	}
	return s
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func factsPrompt(dateUTC string, f *dayFacts) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Date: %s\nTotal messages: %d (%d unread)\n", dateUTC, f.Total, f.Unread)
	fmt.Fprintf(&sb, "Tone: %s; urgency clusters: %d\n", f.Tone, f.UrgencyClusters)
	fmt.Fprintf(&sb, "Time split: %d morning, %d afternoon, %d evening; peak hour %02d:00 UTC\n",
		f.Morning, f.Afternoon, f.Evening, f.PeakHour)

	if len(f.KeyPeople) > 0 {
		sb.WriteString("Key people:\n")
		for _, p := range f.KeyPeople {
			fmt.Fprintf(&sb, "- %s (%d messages)\n", p.Address, p.Count)
		}
	}
	if len(f.StoryArcs) > 0 {
		sb.WriteString("Conversations:\n")
		for _, a := range f.StoryArcs {
			fmt.Fprintf(&sb, "- %q (%d messages)\n", a.Subject, a.Count)
		}
	}
	if len(f.Themes) > 0 {
		fmt.Fprintf(&sb, "Themes: %s\n", strings.Join(f.Themes, ", "))
	}
	return sb.String()
}

// =============================================================================
// Template fallback
// =============================================================================

// fallbackNarrative renders the rule-based facts into a template
// narrative inside the word budget.
func fallbackNarrative(f *dayFacts) *out.DailyNarrative {
	n := &out.DailyNarrative{Themes: f.Themes}

	topTheme := "general correspondence"
	if len(f.Themes) > 0 {
		topTheme = f.Themes[0]
	}
	highCount := f.ByPriority[domain.PriorityHigh] + f.ByPriority[domain.PriorityUrgent]

	n.Headline = fmt.Sprintf("%d messages, %d high priority, %s in focus",
		f.Total, highCount, topTheme)

	var s []string
	s = append(s, fmt.Sprintf(
		"The day brought %d messages in total, and %d of them are still sitting unread.",
		f.Total, f.Unread))
	s = append(s, fmt.Sprintf(
		"Traffic split into %d in the morning, %d in the afternoon, and %d in the evening, with the heaviest burst arriving around %02d:00 UTC.",
		f.Morning, f.Afternoon, f.Evening, f.PeakHour))

	if len(f.KeyPeople) > 0 {
		var names []string
		for _, p := range f.KeyPeople {
			names = append(names, fmt.Sprintf("%s with %d", displayName(p), p.Count))
		}
		s = append(s, fmt.Sprintf(
			"The most active correspondents were %s, and between them they account for the bulk of the inbox.",
			joinNatural(names)))
	}
	if len(f.StoryArcs) > 0 {
		a := f.StoryArcs[0]
		s = append(s, fmt.Sprintf(
			"The longest-running conversation was %q, which collected %d messages over the course of the day and is still moving.",
			a.Subject, a.Count))
		for _, extra := range f.StoryArcs[1:] {
			s = append(s, fmt.Sprintf(
				"A second thread, %q, added another %d messages to the pile and may be worth a look as well.",
				extra.Subject, extra.Count))
			if wordCountAll(s) >= narrativeMinWords {
				break
			}
		}
	}
	if len(f.Themes) > 0 {
		s = append(s, fmt.Sprintf(
			"Recurring topics across the day centered on %s, which shaped most of the substantive discussion.",
			joinNatural(f.Themes)))
	}
	s = append(s, fmt.Sprintf(
		"%d messages carried high or urgent priority, and the day produced %d cluster(s) of urgent mail landing close together.",
		highCount, f.UrgencyClusters))
	s = append(s, fmt.Sprintf(
		"The overall tone of the correspondence read as %s.", f.Tone))

	// Pad with per-person detail until the floor is met.
	for _, p := range f.KeyPeople {
		if wordCountAll(s) >= narrativeMinWords {
			break
		}
		s = append(s, fmt.Sprintf(
			"%s wrote %d separate times today, so that relationship is carrying a real share of the day's attention.",
			displayName(p), p.Count))
	}
	for _, cat := range []domain.EmailCategory{
		domain.CategoryPrimary, domain.CategoryUpdates, domain.CategoryPromotions,
	} {
		if wordCountAll(s) >= narrativeMinWords {
			break
		}
		s = append(s, fmt.Sprintf(
			"The %s category accounted for %d of the day's messages, part of how the volume distributed across the inbox.",
			cat, f.ByCategory[cat]))
	}
	s = append(s, "The action items below cover what actually needs a response before tomorrow morning.")

	n.Narrative = trimToWords(strings.Join(s, " "), narrativeMaxWords)
	n.ActionItems = fallbackActionItems(f)
	for _, p := range f.KeyPeople {
		n.Characters = append(n.Characters, displayName(p))
	}
	return n
}

func fallbackActionItems(f *dayFacts) []string {
	var items []string
	for _, a := range f.StoryArcs {
		if a.Urgent && len(items) < maxActionItems {
			items = append(items, fmt.Sprintf("Respond to the %q thread", a.Subject))
		}
	}
	for _, a := range f.StoryArcs {
		if !a.Urgent && len(items) < maxActionItems {
			items = append(items, fmt.Sprintf("Review the %q conversation", a.Subject))
		}
	}
	if f.Unread > 0 && len(items) < maxActionItems {
		items = append(items, fmt.Sprintf("Clear the %d unread message(s)", f.Unread))
	}
	if len(items) == 0 {
		items = append(items, "Skim today's inbox for anything missed")
	}
	return items
}

// =============================================================================
// Text helpers
// =============================================================================

func displayName(p personCount) string {
	if p.Name != "" {
		return p.Name
	}
	return p.Address
}

func joinNatural(parts []string) string {
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	default:
		return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
	}
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

func wordCountAll(sentences []string) int {
	n := 0
	for _, s := range sentences {
		n += wordCount(s)
	}
	return n
}

// trimToWords cuts at the word budget, then back to the last full stop
// so the narrative never ends mid-sentence.
func trimToWords(s string, max int) string {
	words := strings.Fields(s)
	if len(words) <= max {
		return s
	}
	cut := strings.Join(words[:max], " ")
	if i := strings.LastIndex(cut, "."); i > 0 {
		cut = cut[:i+1]
	}
	return cut
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}
