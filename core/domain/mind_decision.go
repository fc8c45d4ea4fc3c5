package domain

import (
	"strings"
	"time"
)

// =============================================================================
// Triage Decision
// =============================================================================

// TriageBucket is the terminal routing for a message.
type TriageBucket string

const (
	BucketPriorityInbox TriageBucket = "priority_inbox"
	BucketRegularInbox  TriageBucket = "regular_inbox"
	BucketAutoArchive   TriageBucket = "auto_archive"
	BucketSpamFolder    TriageBucket = "spam_folder"
)

// Valid reports whether b is a known bucket.
func (b TriageBucket) Valid() bool {
	switch b {
	case BucketPriorityInbox, BucketRegularInbox, BucketAutoArchive, BucketSpamFolder:
		return true
	}
	return false
}

// ParseBucket parses a bucket string (case-insensitive).
func ParseBucket(s string) (TriageBucket, bool) {
	b := TriageBucket(strings.ToLower(strings.TrimSpace(s)))
	return b, b.Valid()
}

// Decision is the reconciled triage outcome for one message.
// At most one current Decision exists per (MessageID, PolicyVersion).
type Decision struct {
	MessageID     string       `json:"message_id"`
	PolicyVersion int          `json:"policy_version"`
	Bucket        TriageBucket `json:"bucket"`
	FinalScore    float64      `json:"final_score"` // 0.0 - 1.0
	Confidence    float64      `json:"confidence"`  // 0.1 - 1.0
	AppliedLabels []string     `json:"applied_labels,omitempty"`
	Urgency       Urgency      `json:"urgency"`
	Rationale     string       `json:"rationale"`
	Conflicts     []string     `json:"conflicts,omitempty"`
	ShouldEscalate bool        `json:"should_escalate"`
	FollowUps     []string     `json:"follow_ups,omitempty"`
	DecidedAt     time.Time    `json:"decided_at"`
}

// Degraded reports whether the decision came from a degraded analysis;
// the CLI marks such decisions explicitly.
func (d *Decision) Degraded() bool {
	return d.Confidence < 0.5
}
