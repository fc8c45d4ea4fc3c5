package domain

import "time"

// =============================================================================
// Feedback (append-only; deletions are disallowed)
// =============================================================================

// Feedback records one user correction of a triage decision.
type Feedback struct {
	ID              int64        `json:"id"`
	MessageID       string       `json:"message_id"`
	OriginalBucket  TriageBucket `json:"original_bucket"`
	CorrectedBucket TriageBucket `json:"corrected_bucket"`
	UserNote        string       `json:"user_note,omitempty"`
	StampedAt       time.Time    `json:"stamped_at"`
}

// =============================================================================
// Learned Pattern
// =============================================================================

// PatternKind is the closed set of learned-pattern kinds.
type PatternKind string

const (
	PatternSenderCategory         PatternKind = "sender_category"
	PatternSubjectKeywordCategory PatternKind = "subject_keyword_category"
	PatternSubjectKeywordPriority PatternKind = "subject_keyword_priority"
	PatternContentFeature         PatternKind = "content_feature"
	PatternTemporal               PatternKind = "temporal"
)

// LearnedPattern is a stable observation above sample and confidence
// thresholds. Sample counts grow monotonically; confidence is
// mostCommonCount / totalCount.
type LearnedPattern struct {
	Kind               PatternKind `json:"kind"`
	Key                string      `json:"key"`
	PredictedAttribute string      `json:"predicted_attribute"` // "category" | "priority"
	PredictedValue     string      `json:"predicted_value"`
	Confidence         float64     `json:"confidence"`
	SampleSize         int         `json:"sample_size"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// =============================================================================
// Pipeline Error Log
// =============================================================================

// PipelineError is one structured entry in the persistent error log.
type PipelineError struct {
	ID        int64     `json:"id"`
	MessageID string    `json:"message_id,omitempty"`
	Phase     string    `json:"phase"` // pull | analyze | apply | brief
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail"`
	Attempt   int       `json:"attempt"`
	LoggedAt  time.Time `json:"logged_at"`
}
