package intelligence

import (
	"sort"
	"strings"
	"time"

	"mailmind/core/domain"
)

// =============================================================================
// Sender Index
// =============================================================================

const topKeywordCount = 5

// strategicDomains maps well-known domains to relationship classes.
// Complements the VIP and internal-domain lists from config.
var strategicDomains = map[string]domain.RelationshipClass{
	"ycombinator.com":  domain.RelationInvestor,
	"sequoiacap.com":   domain.RelationInvestor,
	"a16z.com":         domain.RelationInvestor,
	"stripe.com":       domain.RelationVendorCritical,
	"aws.amazon.com":   domain.RelationVendorCritical,
	"cloud.google.com": domain.RelationVendorCritical,
}

func (idx *Index) foldSender(snap *Snapshot, m *domain.Message, now time.Time) {
	addr := normalizeAddr(m.Sender.Address)

	p := snap.Senders[addr]
	if p == nil {
		p = &domain.SenderProfile{
			Address:   addr,
			FirstSeen: m.ReceivedAt,
			LastSeen:  m.ReceivedAt,
		}
		snap.Senders[addr] = p
	}

	p.TotalMessages++
	if now.Sub(m.ReceivedAt) <= recentWindow {
		p.RecentMessages++
	}
	if m.ReceivedAt.Before(p.FirstSeen) || p.FirstSeen.IsZero() {
		p.FirstSeen = m.ReceivedAt
	}
	if m.ReceivedAt.After(p.LastSeen) {
		p.LastSeen = m.ReceivedAt
	}
	if p.DisplayName == "" && m.Sender.DisplayName != "" {
		p.DisplayName = m.Sender.DisplayName
	}

	freq := snap.keywordFreq[addr]
	if freq == nil {
		freq = make(map[string]int)
		snap.keywordFreq[addr] = freq
	}
	for _, w := range subjectKeywords(m.Subject) {
		freq[w]++
	}
	p.TopKeywords = topKeywords(freq, topKeywordCount)

	p.IsVIP = idx.vips[addr]
	p.Relationship = idx.classifyRelationship(addr)
	p.ComputeImportance()
}

// RelationshipFor returns the profiled class for an address, falling
// back to domain classification when the sender is unknown.
func (idx *Index) RelationshipFor(address string) domain.RelationshipClass {
	addr := normalizeAddr(address)
	if p := idx.Snapshot().Senders[addr]; p != nil {
		return p.Relationship
	}
	return idx.classifyRelationship(addr)
}

// classifyRelationship derives the class from the internal-domain list,
// the static strategic-domains map and sender-address heuristics.
func (idx *Index) classifyRelationship(addr string) domain.RelationshipClass {
	d := domainOf(addr)
	if d == "" {
		return domain.RelationUnknown
	}
	if idx.internal[d] {
		return domain.RelationInternal
	}
	if cls, ok := strategicDomains[d]; ok {
		return cls
	}

	switch {
	case strings.Contains(d, "capital") || strings.Contains(d, "ventures") ||
		strings.Contains(d, "vc.") || strings.HasSuffix(d, ".vc"):
		return domain.RelationInvestor
	}

	local := localPartOf(addr)
	switch {
	case strings.HasPrefix(local, "billing") || strings.HasPrefix(local, "invoice") ||
		strings.HasPrefix(local, "support") || strings.HasPrefix(local, "sales"):
		return domain.RelationVendor
	}

	return domain.RelationUnknown
}

// =============================================================================
// Keyword extraction
// =============================================================================

var keywordStop = map[string]bool{
	"re": true, "fwd": true, "fw": true, "the": true, "a": true, "an": true,
	"and": true, "or": true, "of": true, "to": true, "for": true, "in": true,
	"on": true, "your": true, "with": true, "is": true, "at": true, "from": true,
	"this": true, "that": true, "you": true, "we": true, "it": true,
}

func subjectKeywords(subject string) []string {
	fields := strings.FieldsFunc(strings.ToLower(subject), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	out := make([]string, 0, len(fields))
	for _, w := range fields {
		if len(w) < 3 || keywordStop[w] {
			continue
		}
		out = append(out, w)
	}
	return out
}

func topKeywords(freq map[string]int, n int) []string {
	type kv struct {
		word  string
		count int
	}
	all := make([]kv, 0, len(freq))
	for w, c := range freq {
		all = append(all, kv{w, c})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].count != all[j].count {
			return all[i].count > all[j].count
		}
		return all[i].word < all[j].word
	})
	if len(all) > n {
		all = all[:n]
	}
	out := make([]string, len(all))
	for i, e := range all {
		out[i] = e.word
	}
	return out
}

// =============================================================================
// Address helpers
// =============================================================================

func normalizeAddr(a string) string {
	return strings.ToLower(strings.TrimSpace(a))
}

func domainOf(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at < 0 || at == len(addr)-1 {
		return addr // already a bare domain, as in config lists
	}
	return addr[at+1:]
}

func localPartOf(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at <= 0 {
		return ""
	}
	return addr[:at]
}
