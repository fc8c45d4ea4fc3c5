package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"

	"mailmind/core/domain"
	"mailmind/pkg/apperr"
)

// DecisionAdapter implements out.DecisionRepository.
type DecisionAdapter struct {
	db *sqlx.DB
}

// =============================================================================
// Database Row Mapping
// =============================================================================

const decisionColumns = `message_id, policy_version, bucket, final_score,
	confidence, applied_labels, urgency, rationale, conflicts,
	should_escalate, follow_ups, decided_at`

type decisionRow struct {
	MessageID      string    `db:"message_id"`
	PolicyVersion  int       `db:"policy_version"`
	Bucket         string    `db:"bucket"`
	FinalScore     float64   `db:"final_score"`
	Confidence     float64   `db:"confidence"`
	AppliedLabels  string    `db:"applied_labels"`
	Urgency        string    `db:"urgency"`
	Rationale      string    `db:"rationale"`
	Conflicts      string    `db:"conflicts"`
	ShouldEscalate bool      `db:"should_escalate"`
	FollowUps      string    `db:"follow_ups"`
	DecidedAt      time.Time `db:"decided_at"`
}

func (r *decisionRow) toEntity() (*domain.Decision, error) {
	d := &domain.Decision{
		MessageID:      r.MessageID,
		PolicyVersion:  r.PolicyVersion,
		Bucket:         domain.TriageBucket(r.Bucket),
		FinalScore:     r.FinalScore,
		Confidence:     r.Confidence,
		Urgency:        domain.Urgency(r.Urgency),
		Rationale:      r.Rationale,
		ShouldEscalate: r.ShouldEscalate,
		DecidedAt:      r.DecidedAt,
	}
	if err := json.Unmarshal([]byte(r.AppliedLabels), &d.AppliedLabels); err != nil {
		return nil, apperr.Storage("decode decision labels", err)
	}
	if err := json.Unmarshal([]byte(r.Conflicts), &d.Conflicts); err != nil {
		return nil, apperr.Storage("decode decision conflicts", err)
	}
	if err := json.Unmarshal([]byte(r.FollowUps), &d.FollowUps); err != nil {
		return nil, apperr.Storage("decode decision follow-ups", err)
	}
	return d, nil
}

// =============================================================================
// CRUD Operations
// =============================================================================

// Put stores the decision; one row per (message, policy version), so
// re-deciding under the same policy replaces the previous outcome.
func (a *DecisionAdapter) Put(ctx context.Context, d *domain.Decision) error {
	labels, err := encodeJSON(d.AppliedLabels)
	if err != nil {
		return err
	}
	conflicts, err := encodeJSON(d.Conflicts)
	if err != nil {
		return err
	}
	followUps, err := encodeJSON(d.FollowUps)
	if err != nil {
		return err
	}
	if d.DecidedAt.IsZero() {
		d.DecidedAt = time.Now().UTC()
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT INTO decisions (`+decisionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (message_id, policy_version) DO UPDATE SET
			bucket = excluded.bucket,
			final_score = excluded.final_score,
			confidence = excluded.confidence,
			applied_labels = excluded.applied_labels,
			urgency = excluded.urgency,
			rationale = excluded.rationale,
			conflicts = excluded.conflicts,
			should_escalate = excluded.should_escalate,
			follow_ups = excluded.follow_ups,
			decided_at = excluded.decided_at`,
		d.MessageID, d.PolicyVersion, string(d.Bucket), d.FinalScore,
		d.Confidence, labels, string(d.Urgency), d.Rationale, conflicts,
		d.ShouldEscalate, followUps, d.DecidedAt)
	if err != nil {
		return apperr.Storage("put decision", err)
	}
	return nil
}

// Get returns the latest decision for the message across policy
// versions, nil when no decision exists yet.
func (a *DecisionAdapter) Get(ctx context.Context, messageID string) (*domain.Decision, error) {
	var row decisionRow
	err := a.db.GetContext(ctx, &row, `
		SELECT `+decisionColumns+` FROM decisions
		WHERE message_id = ?
		ORDER BY policy_version DESC LIMIT 1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage("get decision", err)
	}
	return row.toEntity()
}
