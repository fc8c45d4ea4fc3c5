package domain

import "time"

// =============================================================================
// Thread Profile (derived aggregate over messages sharing a threadId)
// =============================================================================

// ThreadType classifies what a conversation is about.
type ThreadType string

const (
	ThreadDecision      ThreadType = "decision"
	ThreadDiscussion    ThreadType = "discussion"
	ThreadTransactional ThreadType = "transactional"
	ThreadEscalation    ThreadType = "escalation"
)

// ThreadStatus classifies conversation liveness.
type ThreadStatus string

const (
	ThreadActive    ThreadStatus = "active"
	ThreadDormant   ThreadStatus = "dormant"
	ThreadStalled   ThreadStatus = "stalled"
	ThreadResolved  ThreadStatus = "resolved"
	ThreadEscalated ThreadStatus = "escalated"
)

// ResponseRhythm bands the typical reply gap inside a thread.
type ResponseRhythm string

const (
	RhythmImmediate ResponseRhythm = "immediate"
	RhythmFast      ResponseRhythm = "fast"
	RhythmNormal    ResponseRhythm = "normal"
	RhythmSlow      ResponseRhythm = "slow"
	RhythmStalled   ResponseRhythm = "stalled"
)

// ThreadProfile aggregates everything known about one thread.
type ThreadProfile struct {
	ThreadID         string         `json:"thread_id"`
	Participants     []string       `json:"participants"`
	MessageCount     int            `json:"message_count"`
	FirstMessageAt   time.Time      `json:"first_message_at"`
	LastMessageAt    time.Time      `json:"last_message_at"`
	SubjectEvolution []string       `json:"subject_evolution,omitempty"`
	KeyTopics        []string       `json:"key_topics,omitempty"`
	Type             ThreadType     `json:"thread_type"`
	Status           ThreadStatus   `json:"status"`
	Decisions        []string       `json:"decisions,omitempty"`
	OpenActions      []string       `json:"open_actions,omitempty"`
	WaitingFor       []string       `json:"waiting_for,omitempty"`
	Rhythm           ResponseRhythm `json:"response_rhythm"`
	EscalationHits   int            `json:"escalation_hits"`
}

// BaseScore is the thread-type base used by the thread analyzer.
func (t ThreadType) BaseScore() float64 {
	switch t {
	case ThreadEscalation:
		return 0.85
	case ThreadDecision:
		return 0.80
	case ThreadDiscussion:
		return 0.60
	default:
		return 0.40
	}
}

// Multiplier is the status multiplier used by the thread analyzer.
func (s ThreadStatus) Multiplier() float64 {
	switch s {
	case ThreadEscalated:
		return 1.3
	case ThreadStalled:
		return 1.2
	case ThreadDormant:
		return 0.7
	default:
		return 1.0
	}
}
