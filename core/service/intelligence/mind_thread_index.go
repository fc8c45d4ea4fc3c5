package intelligence

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"mailmind/core/domain"
)

// =============================================================================
// Thread Index
// =============================================================================

// Status thresholds on time since the last message.
const (
	activeWithin  = 3 * 24 * time.Hour
	dormantWithin = 14 * 24 * time.Hour
)

// threadTypeFamilies are the regex families counted per thread; a type
// needs at least two hits in the concatenated text to win.
var threadTypeFamilies = []struct {
	typ      domain.ThreadType
	patterns []*regexp.Regexp
}{
	{domain.ThreadEscalation, compileAll(
		`(?i)\bescalat(e|ed|ing|ion)\b`,
		`(?i)\burgent(ly)?\b`,
		`(?i)\bunacceptable\b`,
		`(?i)\bstill (waiting|broken|down)\b`,
		`(?i)\bthird time\b`,
	)},
	{domain.ThreadDecision, compileAll(
		`(?i)\bdecision\b`,
		`(?i)\bdecide(d)?\b`,
		`(?i)\bapprov(e|al|ed)\b`,
		`(?i)\bsign.?off\b`,
		`(?i)\bgo.?no.?go\b`,
		`(?i)\bwhich option\b`,
	)},
	{domain.ThreadTransactional, compileAll(
		`(?i)\binvoice\b`,
		`(?i)\breceipt\b`,
		`(?i)\border (number|confirmation)\b`,
		`(?i)\bpayment\b`,
		`(?i)\bshipping\b`,
	)},
}

// Explicit status markers override the time thresholds.
var (
	resolvedMarker  = regexp.MustCompile(`(?i)\b(resolved|closed|done|completed|shipped it|fixed)\b`)
	escalatedMarker = regexp.MustCompile(`(?i)\b(escalat(ed|ing)|raising this to|looping in (leadership|management))\b`)
	stalledMarker   = regexp.MustCompile(`(?i)\b(no response|still waiting|following up again|bumping this)\b`)
)

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

func (idx *Index) foldThread(snap *Snapshot, m *domain.Message, now time.Time) {
	entries := append(snap.threadMsgs[m.ThreadID], threadEntry{
		ID:         m.ID,
		Subject:    m.Subject,
		Body:       m.BodyText,
		Sender:     normalizeAddr(m.Sender.Address),
		Recipients: lowerAll(m.RecipientAddresses()),
		ReceivedAt: m.ReceivedAt,
	})
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ReceivedAt.Before(entries[j].ReceivedAt)
	})
	snap.threadMsgs[m.ThreadID] = entries

	snap.Threads[m.ThreadID] = buildThreadProfile(m.ThreadID, entries, now)
}

func buildThreadProfile(threadID string, entries []threadEntry, now time.Time) *domain.ThreadProfile {
	p := &domain.ThreadProfile{
		ThreadID:       threadID,
		MessageCount:   len(entries),
		FirstMessageAt: entries[0].ReceivedAt,
		LastMessageAt:  entries[len(entries)-1].ReceivedAt,
	}

	participants := make(map[string]bool)
	var text strings.Builder
	for _, e := range entries {
		if e.Sender != "" {
			participants[e.Sender] = true
		}
		for _, r := range e.Recipients {
			if r != "" {
				participants[r] = true
			}
		}
		text.WriteString(e.Subject)
		text.WriteByte('\n')
		text.WriteString(e.Body)
		text.WriteByte('\n')
	}
	p.Participants = sortedKeys(participants)
	p.SubjectEvolution = subjectEvolution(entries)

	concat := text.String()
	p.Type, p.EscalationHits = classifyThreadType(concat)
	p.Status = classifyThreadStatus(concat, p.LastMessageAt, now)
	// A decision thread that went quiet is stalled, not merely dormant:
	// someone is waiting on an answer.
	if p.Type == domain.ThreadDecision && p.Status == domain.ThreadDormant {
		p.Status = domain.ThreadStalled
	}
	p.Rhythm = classifyRhythm(entries)
	return p
}

// subjectEvolution strips Re:/Fwd: prefixes and deduplicates while
// preserving first-seen order.
func subjectEvolution(entries []threadEntry) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range entries {
		s := stripReplyPrefixes(e.Subject)
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if !seen[key] {
			seen[key] = true
			out = append(out, s)
		}
	}
	return out
}

var replyPrefix = regexp.MustCompile(`(?i)^\s*((re|fwd?|fw)\s*:\s*)+`)

func stripReplyPrefixes(subject string) string {
	return strings.TrimSpace(replyPrefix.ReplaceAllString(subject, ""))
}

// classifyThreadType counts hits per regex family; a family needs at
// least two to claim the thread. Families are checked in priority order
// (escalation beats decision beats transactional).
func classifyThreadType(text string) (domain.ThreadType, int) {
	escalationHits := 0
	winner := domain.ThreadDiscussion
	for _, fam := range threadTypeFamilies {
		hits := 0
		for _, re := range fam.patterns {
			hits += len(re.FindAllStringIndex(text, -1))
		}
		if fam.typ == domain.ThreadEscalation {
			escalationHits = hits
		}
		if hits >= 2 && winner == domain.ThreadDiscussion {
			winner = fam.typ
		}
	}
	return winner, escalationHits
}

func classifyThreadStatus(text string, last, now time.Time) domain.ThreadStatus {
	switch {
	case escalatedMarker.MatchString(text):
		return domain.ThreadEscalated
	case resolvedMarker.MatchString(text):
		return domain.ThreadResolved
	case stalledMarker.MatchString(text):
		return domain.ThreadStalled
	}

	age := now.Sub(last)
	switch {
	case age <= activeWithin:
		return domain.ThreadActive
	case age <= dormantWithin:
		return domain.ThreadDormant
	default:
		return domain.ThreadStalled
	}
}

// classifyRhythm bands the median gap between consecutive messages.
func classifyRhythm(entries []threadEntry) domain.ResponseRhythm {
	if len(entries) < 2 {
		return domain.RhythmNormal
	}
	gaps := make([]time.Duration, 0, len(entries)-1)
	for i := 1; i < len(entries); i++ {
		gaps = append(gaps, entries[i].ReceivedAt.Sub(entries[i-1].ReceivedAt))
	}
	sort.Slice(gaps, func(i, j int) bool { return gaps[i] < gaps[j] })
	median := gaps[len(gaps)/2]

	switch {
	case median <= time.Hour:
		return domain.RhythmImmediate
	case median <= 4*time.Hour:
		return domain.RhythmFast
	case median <= 24*time.Hour:
		return domain.RhythmNormal
	case median <= 3*24*time.Hour:
		return domain.RhythmSlow
	default:
		return domain.RhythmStalled
	}
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = normalizeAddr(s)
	}
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
