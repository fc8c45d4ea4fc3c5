package persistence

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"mailmind/core/domain"
	"mailmind/pkg/apperr"
)

// FeedbackAdapter implements out.FeedbackRepository. The log is
// append-only; no delete or update path exists.
type FeedbackAdapter struct {
	db *sqlx.DB
}

type feedbackRow struct {
	ID              int64     `db:"id"`
	MessageID       string    `db:"message_id"`
	OriginalBucket  string    `db:"original_bucket"`
	CorrectedBucket string    `db:"corrected_bucket"`
	UserNote        string    `db:"user_note"`
	StampedAt       time.Time `db:"stamped_at"`
}

func (r *feedbackRow) toEntity() *domain.Feedback {
	return &domain.Feedback{
		ID:              r.ID,
		MessageID:       r.MessageID,
		OriginalBucket:  domain.TriageBucket(r.OriginalBucket),
		CorrectedBucket: domain.TriageBucket(r.CorrectedBucket),
		UserNote:        r.UserNote,
		StampedAt:       r.StampedAt,
	}
}

func (a *FeedbackAdapter) Record(ctx context.Context, f *domain.Feedback) error {
	if f.StampedAt.IsZero() {
		f.StampedAt = time.Now().UTC()
	}
	res, err := a.db.ExecContext(ctx, `
		INSERT INTO feedback (message_id, original_bucket, corrected_bucket, user_note, stamped_at)
		VALUES (?, ?, ?, ?, ?)`,
		f.MessageID, string(f.OriginalBucket), string(f.CorrectedBucket),
		f.UserNote, f.StampedAt)
	if err != nil {
		return apperr.Storage("record feedback", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		f.ID = id
	}
	return nil
}

func (a *FeedbackAdapter) List(ctx context.Context, since time.Time) ([]*domain.Feedback, error) {
	var rows []feedbackRow
	err := a.db.SelectContext(ctx, &rows, `
		SELECT id, message_id, original_bucket, corrected_bucket, user_note, stamped_at
		FROM feedback WHERE stamped_at >= ? ORDER BY id ASC`, since)
	if err != nil {
		return nil, apperr.Storage("list feedback", err)
	}
	fs := make([]*domain.Feedback, 0, len(rows))
	for i := range rows {
		fs = append(fs, rows[i].toEntity())
	}
	return fs, nil
}
