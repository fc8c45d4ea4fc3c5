package out

import (
	"context"
	"time"
)

// =============================================================================
// LLM Port
// =============================================================================

// AnalyzeRequest is a constrained-JSON LLM invocation. SchemaName and
// Schema describe the required output shape; the adapter must return raw
// JSON that the caller decodes and validates. Free-form text is never
// consumed by the core.
type AnalyzeRequest struct {
	System     string
	User       string
	SchemaName string
	Schema     string // JSON schema, embedded in the instruction
	Timeout    time.Duration
}

// LLM is the opaque language-model capability.
type LLM interface {
	Analyze(ctx context.Context, req *AnalyzeRequest) ([]byte, error)
}

// AnalysisCache is the optional cache consulted before LLM calls.
type AnalysisCache interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// =============================================================================
// Constrained LLM Output Shapes
// =============================================================================

// StrategicInsight is the strategic-analysis JSON shape.
type StrategicInsight struct {
	Labels              []string `json:"labels"`
	StrategicImportance string   `json:"strategicImportance"` // critical|high|medium|low
	RequiresAction      bool     `json:"requiresAction"`
	DelegationHint      string   `json:"delegationHint,omitempty"`
	EstMinutesToHandle  int      `json:"estMinutesToHandle"`
	KeyInsight          string   `json:"keyInsight"`
	DecisionPoints      []string `json:"decisionPoints"`
	Sentiment           string   `json:"sentiment"` // positive|neutral|negative|urgent
}

// ThreadActionItem is one entry in a thread summary.
type ThreadActionItem struct {
	Action   string `json:"action"`
	Owner    string `json:"owner,omitempty"`
	Deadline string `json:"deadline,omitempty"`
}

// ThreadSummary is the thread-summary JSON shape.
type ThreadSummary struct {
	Summary      string             `json:"summary"`
	KeyDecisions []string           `json:"keyDecisions"`
	ActionItems  []ThreadActionItem `json:"actionItems"`
	Status       string             `json:"status"` // resolved|ongoing|stalled|escalated
	Priority     string             `json:"priority"`
	Sentiment    string             `json:"sentiment"`
	NextSteps    []string           `json:"nextSteps"`
}

// DailyNarrative is the daily-brief JSON shape.
type DailyNarrative struct {
	Headline    string   `json:"headline"`
	Narrative   string   `json:"narrative"`
	ActionItems []string `json:"actionItems"`
	Deadlines   []string `json:"deadlines"`
	Characters  []string `json:"characters"`
	Themes      []string `json:"themes"`
}

// UrgencyScore is the urgency-probe JSON shape.
type UrgencyScore struct {
	Score float64 `json:"score"` // in [0,1]
}
