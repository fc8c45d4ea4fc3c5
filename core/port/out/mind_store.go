// Package out defines outbound ports (driven ports) for the application.
package out

import (
	"context"
	"time"

	"mailmind/core/domain"
)

// =============================================================================
// Store Ports
// =============================================================================

// MessageFilter narrows a message query. Zero values mean "no constraint".
type MessageFilter struct {
	Since          *time.Time
	Until          *time.Time
	Unread         *bool
	SenderContains string
	Search         string // free text over subject/body/sender
	Category       *domain.EmailCategory
	Limit          int
	Offset         int
}

// MessageRepository persists messages.
type MessageRepository interface {
	// Upsert inserts or merges on ExternalID. Idempotent; preserves
	// already-present processing stamps.
	Upsert(ctx context.Context, m *domain.Message) error
	GetByID(ctx context.Context, id string) (*domain.Message, error)
	GetByExternalID(ctx context.Context, externalID string) (*domain.Message, error)
	// Query returns messages ordered by SentAt desc, tiebreak on ID, plus
	// the total match count.
	Query(ctx context.Context, filter *MessageFilter) ([]*domain.Message, int, error)
	// ListByThread returns thread messages ordered by ReceivedAt asc.
	ListByThread(ctx context.Context, threadID string) ([]*domain.Message, error)
	// ListMissingStamp returns messages that have not passed the stage yet.
	ListMissingStamp(ctx context.Context, stage domain.ProcessingStage, limit int) ([]*domain.Message, error)
	// Update rewrites mutable classification fields and flags.
	Update(ctx context.Context, m *domain.Message) error
	// Stamp marks a stage complete. Stamps only grow.
	Stamp(ctx context.Context, id string, stage domain.ProcessingStage) error
	// ListByDateUTC returns all messages received on the given UTC date.
	ListByDateUTC(ctx context.Context, dateUTC string) ([]*domain.Message, error)
}

// RuleRepository persists rules, returned sorted by priority ascending.
type RuleRepository interface {
	Put(ctx context.Context, r *domain.Rule) error
	Get(ctx context.Context, id string) (*domain.Rule, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, enabledOnly bool) ([]*domain.Rule, error)
	RecordHit(ctx context.Context, id string, at time.Time) error
}

// DecisionRepository persists triage decisions.
type DecisionRepository interface {
	Put(ctx context.Context, d *domain.Decision) error
	Get(ctx context.Context, messageID string) (*domain.Decision, error)
}

// FeedbackRepository is the append-only feedback log.
type FeedbackRepository interface {
	Record(ctx context.Context, f *domain.Feedback) error
	List(ctx context.Context, since time.Time) ([]*domain.Feedback, error)
}

// PatternRepository persists learned patterns.
type PatternRepository interface {
	Put(ctx context.Context, p *domain.LearnedPattern) error
	List(ctx context.Context, kind domain.PatternKind) ([]*domain.LearnedPattern, error)
}

// BriefRepository persists daily briefs keyed by UTC date.
type BriefRepository interface {
	Put(ctx context.Context, b *domain.DailyBrief) error
	Get(ctx context.Context, dateUTC string) (*domain.DailyBrief, error)
}

// ProfileRepository caches derived profiles owned by the intelligence index.
type ProfileRepository interface {
	PutSenderProfiles(ctx context.Context, profiles []*domain.SenderProfile) error
	ListSenderProfiles(ctx context.Context) ([]*domain.SenderProfile, error)
	PutThreadProfiles(ctx context.Context, profiles []*domain.ThreadProfile) error
	ListThreadProfiles(ctx context.Context) ([]*domain.ThreadProfile, error)
}

// StateRepository holds small keyed state blobs: the connector watermark
// and the versioned learner weights (rebuildable from the feedback log).
type StateRepository interface {
	GetWatermark(ctx context.Context, connector string) (time.Time, error)
	SetWatermark(ctx context.Context, connector string, at time.Time) error
	GetState(ctx context.Context, key string, dest any) (bool, error)
	PutState(ctx context.Context, key string, value any) error
}

// ErrorLogRepository is the structured log of transient pipeline failures.
type ErrorLogRepository interface {
	Log(ctx context.Context, e *domain.PipelineError) error
	List(ctx context.Context, since time.Time) ([]*domain.PipelineError, error)
}

// Store aggregates every persistence port plus storewide stats.
type Store interface {
	Messages() MessageRepository
	Rules() RuleRepository
	Decisions() DecisionRepository
	Feedback() FeedbackRepository
	Patterns() PatternRepository
	Briefs() BriefRepository
	Profiles() ProfileRepository
	State() StateRepository
	Errors() ErrorLogRepository
	Stats(ctx context.Context) (*domain.Stats, error)
	Close() error
}
