// Package brief assembles the daily narrative brief from one day's
// messages.
package brief

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"mailmind/core/domain"
)

// =============================================================================
// Rule-based day facts
// =============================================================================

// personCount is one sender with their message count for the day.
type personCount struct {
	Address string
	Name    string
	Count   int
}

// storyArc is a conversation with at least two messages in the day.
// ThreadID is empty when the arc was grouped by subject only.
type storyArc struct {
	ThreadID string
	Subject  string
	Count    int
	Urgent   bool
}

// dayFacts are the deterministic inputs to narrative generation; they
// also feed the fallback template when the LLM is unavailable.
type dayFacts struct {
	Total      int
	Unread     int
	ByCategory map[domain.EmailCategory]int
	ByPriority map[domain.EmailPriority]int

	KeyPeople []personCount
	StoryArcs []storyArc

	Morning   int // before 12:00 UTC
	Afternoon int // 12:00-17:59
	Evening   int // 18:00 onward
	PeakHour  int

	Themes          []string
	Tone            string
	UrgencyClusters int
}

// defaultThemes is the rule-based keyword map; seven themes.
var defaultThemes = []struct {
	name     string
	keywords []string
}{
	{"project management", []string{"project", "milestone", "sprint", "deadline", "roadmap", "status update", "standup"}},
	{"finance", []string{"invoice", "payment", "budget", "expense", "billing", "payroll"}},
	{"hiring", []string{"candidate", "interview", "offer letter", "recruiter", "resume", "hiring"}},
	{"sales", []string{"proposal", "pricing", "contract", "renewal", "quote", "customer"}},
	{"engineering", []string{"deploy", "outage", "incident", "bug", "release", "pull request"}},
	{"legal", []string{"agreement", "nda", "terms", "compliance", "counsel", "signature"}},
	{"scheduling", []string{"calendar", "meeting", "reschedule", "availability", "invite", "call"}},
}

var positiveTone = regexp.MustCompile(`(?i)\b(great|thanks|congrats|excited|awesome|well done|appreciate)\b`)
var negativeTone = regexp.MustCompile(`(?i)\b(concern|problem|issue|failure|disappointed|frustrat|escalat|urgent)\b`)

const maxKeyPeople = 5

// computeFacts derives the rule-based facts from one day's messages.
func computeFacts(msgs []*domain.Message) *dayFacts {
	f := &dayFacts{
		Total:      len(msgs),
		ByCategory: make(map[domain.EmailCategory]int),
		ByPriority: make(map[domain.EmailPriority]int),
	}

	people := make(map[string]*personCount)
	arcs := make(map[string]*storyArc)
	hours := make(map[int]int)
	themeHits := make(map[string]int)
	positive, negative := 0, 0

	var urgentTimes []time.Time

	for _, m := range msgs {
		if !m.IsRead {
			f.Unread++
		}
		f.ByCategory[m.Category]++
		f.ByPriority[m.Priority]++

		addr := strings.ToLower(m.Sender.Address)
		if addr != "" {
			p := people[addr]
			if p == nil {
				p = &personCount{Address: addr, Name: m.Sender.DisplayName}
				people[addr] = p
			}
			p.Count++
		}

		arcKey := m.ThreadID
		if arcKey == "" {
			arcKey = strings.ToLower(stripReplyPrefixes(m.Subject))
		}
		if arcKey != "" {
			a := arcs[arcKey]
			if a == nil {
				a = &storyArc{ThreadID: m.ThreadID, Subject: stripReplyPrefixes(m.Subject)}
				arcs[arcKey] = a
			}
			a.Count++
			if m.Priority.Rank() >= domain.PriorityHigh.Rank() {
				a.Urgent = true
			}
		}

		h := m.ReceivedAt.UTC().Hour()
		hours[h]++
		switch {
		case h < 12:
			f.Morning++
		case h < 18:
			f.Afternoon++
		default:
			f.Evening++
		}

		text := strings.ToLower(m.Subject + " " + m.BodyText)
		for _, th := range defaultThemes {
			for _, kw := range th.keywords {
				if strings.Contains(text, kw) {
					themeHits[th.name]++
					break
				}
			}
		}
		positive += len(positiveTone.FindAllStringIndex(text, -1))
		negative += len(negativeTone.FindAllStringIndex(text, -1))

		if m.Priority.Rank() >= domain.PriorityHigh.Rank() {
			urgentTimes = append(urgentTimes, m.ReceivedAt)
		}
	}

	for _, p := range people {
		f.KeyPeople = append(f.KeyPeople, *p)
	}
	sort.Slice(f.KeyPeople, func(i, j int) bool {
		if f.KeyPeople[i].Count != f.KeyPeople[j].Count {
			return f.KeyPeople[i].Count > f.KeyPeople[j].Count
		}
		return f.KeyPeople[i].Address < f.KeyPeople[j].Address
	})
	if len(f.KeyPeople) > maxKeyPeople {
		f.KeyPeople = f.KeyPeople[:maxKeyPeople]
	}

	for _, a := range arcs {
		if a.Count >= 2 {
			f.StoryArcs = append(f.StoryArcs, *a)
		}
	}
	sort.Slice(f.StoryArcs, func(i, j int) bool {
		if f.StoryArcs[i].Count != f.StoryArcs[j].Count {
			return f.StoryArcs[i].Count > f.StoryArcs[j].Count
		}
		return f.StoryArcs[i].Subject < f.StoryArcs[j].Subject
	})

	best := -1
	for h, c := range hours {
		if c > best || (c == best && h < f.PeakHour) {
			best = c
			f.PeakHour = h
		}
	}

	// Themes ordered by hit count, names from the fixed map order on ties.
	for _, th := range defaultThemes {
		if themeHits[th.name] > 0 {
			f.Themes = append(f.Themes, th.name)
		}
	}
	sort.SliceStable(f.Themes, func(i, j int) bool {
		return themeHits[f.Themes[i]] > themeHits[f.Themes[j]]
	})

	switch {
	case negative > positive && negative > 2:
		f.Tone = "tense"
	case positive > negative && positive > 2:
		f.Tone = "upbeat"
	default:
		f.Tone = "neutral"
	}

	f.UrgencyClusters = countUrgencyClusters(urgentTimes)
	return f
}

// countUrgencyClusters counts groups of >=2 urgent/high messages within
// a two-hour window.
func countUrgencyClusters(times []time.Time) int {
	if len(times) < 2 {
		return 0
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	clusters := 0
	run := 1
	for i := 1; i < len(times); i++ {
		if times[i].Sub(times[i-1]) <= 2*time.Hour {
			run++
		} else {
			if run >= 2 {
				clusters++
			}
			run = 1
		}
	}
	if run >= 2 {
		clusters++
	}
	return clusters
}

var replyPrefix = regexp.MustCompile(`(?i)^\s*((re|fwd?|fw)\s*:\s*)+`)

func stripReplyPrefixes(subject string) string {
	return strings.TrimSpace(replyPrefix.ReplaceAllString(subject, ""))
}
