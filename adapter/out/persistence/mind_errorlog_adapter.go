package persistence

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"mailmind/core/domain"
	"mailmind/pkg/apperr"
)

// ErrorLogAdapter implements out.ErrorLogRepository.
type ErrorLogAdapter struct {
	db *sqlx.DB
}

type pipelineErrorRow struct {
	ID        int64     `db:"id"`
	MessageID string    `db:"message_id"`
	Phase     string    `db:"phase"`
	Kind      string    `db:"kind"`
	Detail    string    `db:"detail"`
	Attempt   int       `db:"attempt"`
	LoggedAt  time.Time `db:"logged_at"`
}

func (a *ErrorLogAdapter) Log(ctx context.Context, e *domain.PipelineError) error {
	if e.LoggedAt.IsZero() {
		e.LoggedAt = time.Now().UTC()
	}
	if e.Attempt <= 0 {
		e.Attempt = 1
	}
	res, err := a.db.ExecContext(ctx, `
		INSERT INTO error_log (message_id, phase, kind, detail, attempt, logged_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.MessageID, e.Phase, e.Kind, e.Detail, e.Attempt, e.LoggedAt)
	if err != nil {
		return apperr.Storage("log pipeline error", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

func (a *ErrorLogAdapter) List(ctx context.Context, since time.Time) ([]*domain.PipelineError, error) {
	var rows []pipelineErrorRow
	err := a.db.SelectContext(ctx, &rows, `
		SELECT id, message_id, phase, kind, detail, attempt, logged_at
		FROM error_log WHERE logged_at >= ? ORDER BY id ASC`, since)
	if err != nil {
		return nil, apperr.Storage("list pipeline errors", err)
	}
	es := make([]*domain.PipelineError, 0, len(rows))
	for i := range rows {
		r := rows[i]
		es = append(es, &domain.PipelineError{
			ID:        r.ID,
			MessageID: r.MessageID,
			Phase:     r.Phase,
			Kind:      r.Kind,
			Detail:    r.Detail,
			Attempt:   r.Attempt,
			LoggedAt:  r.LoggedAt,
		})
	}
	return es, nil
}
