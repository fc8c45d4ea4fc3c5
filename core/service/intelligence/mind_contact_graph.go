package intelligence

// =============================================================================
// Contact Graph
// =============================================================================

// ContactStrength bands how established a correspondent is, by message
// volume.
type ContactStrength string

const (
	StrengthStrong   ContactStrength = "strong"   // >= 20 messages
	StrengthModerate ContactStrength = "moderate" // >= 10
	StrengthWeak     ContactStrength = "weak"     // >= 3
	StrengthNew      ContactStrength = "new"
)

func strengthFor(totalMessages int) ContactStrength {
	switch {
	case totalMessages >= 20:
		return StrengthStrong
	case totalMessages >= 10:
		return StrengthModerate
	case totalMessages >= 3:
		return StrengthWeak
	default:
		return StrengthNew
	}
}

// SharedThreads reports correspondents that appear together with the
// given address in at least one thread, grouped by participant overlap.
func (idx *Index) SharedThreads(address string) map[string]int {
	addr := normalizeAddr(address)
	snap := idx.Snapshot()

	overlap := make(map[string]int)
	for _, t := range snap.Threads {
		present := false
		for _, p := range t.Participants {
			if p == addr {
				present = true
				break
			}
		}
		if !present {
			continue
		}
		for _, p := range t.Participants {
			if p != addr {
				overlap[p]++
			}
		}
	}
	return overlap
}
