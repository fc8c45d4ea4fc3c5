package analysis

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"mailmind/core/domain"
	"mailmind/core/service/intelligence"
)

// =============================================================================
// Spam Filter
// =============================================================================

// Content indicators; the veto needs at least two distinct hits plus a
// suspicious sender domain.
var spamIndicators = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\byou('| ha)ve won\b`),
	regexp.MustCompile(`(?i)\bcongratulations\b`),
	regexp.MustCompile(`(?i)\bclaim (now|your)\b`),
	regexp.MustCompile(`(?i)\blimited time\b`),
	regexp.MustCompile(`(?i)\bclick here( immediately)?\b`),
	regexp.MustCompile(`(?i)\bprize\b`),
	regexp.MustCompile(`(?i)\bfree money\b`),
	regexp.MustCompile(`(?i)\bact now\b`),
	regexp.MustCompile(`(?i)\bwire transfer\b`),
	regexp.MustCompile(`(?i)\bverify your account\b`),
	regexp.MustCompile(`(?i)\bcrypto (giveaway|doubling)\b`),
}

var suspiciousDomain = regexp.MustCompile(
	`(?i)(lottery|prize|winner|casino|free-?money|gift-?card|crypto-?bonus)|([a-z0-9]+-){2,}[a-z0-9]+\.`)

// SpamFilter casts the hard veto. Strategic senders are exempt so a
// known investor writing "limited time" never lands in spam.
type SpamFilter struct {
	index *intelligence.Index
}

func NewSpamFilter(index *intelligence.Index) *SpamFilter {
	return &SpamFilter{index: index}
}

func (a *SpamFilter) Name() string { return NameSpamFilter }

func (a *SpamFilter) Analyze(_ context.Context, m *domain.Message) *domain.Assessment {
	as := &domain.Assessment{
		AnalyzerName:  a.Name(),
		PriorityScore: 0.5,
		Confidence:    domain.ConfidenceMedium.Score(),
		Urgency:       domain.UrgencyLow,
		Rationale:     "no spam indicators",
	}

	text := m.Subject + "\n" + m.BodyText
	hits := 0
	for _, re := range spamIndicators {
		if re.MatchString(text) {
			hits++
		}
	}

	domainPart := m.Sender.Domain()
	suspicious := suspiciousDomain.MatchString(domainPart)

	if hits >= 2 && suspicious && !a.senderIsStrategic(m.Sender.Address) {
		as.SpamVeto = true
		as.PriorityScore = 0
		as.Confidence = domain.ConfidenceVeryHigh.Score()
		as.Rationale = fmt.Sprintf("spam veto: %d content indicators, suspicious domain %q", hits, domainPart)
		as.Risks = append(as.Risks, "likely spam or phishing")
	} else if hits >= 2 {
		as.PriorityScore = 0.2
		as.Rationale = fmt.Sprintf("%d spam indicators but sender not suspicious", hits)
	}

	as.Clamp()
	return as
}

// senderIsStrategic exempts HIGH/CRITICAL strategic senders from the veto.
func (a *SpamFilter) senderIsStrategic(address string) bool {
	p := a.index.Sender(strings.ToLower(address))
	if p == nil {
		return false
	}
	return p.Strategic == domain.StrategicHigh || p.Strategic == domain.StrategicCritical
}
