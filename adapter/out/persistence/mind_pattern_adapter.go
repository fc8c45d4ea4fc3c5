package persistence

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"mailmind/core/domain"
	"mailmind/pkg/apperr"
)

// PatternAdapter implements out.PatternRepository.
type PatternAdapter struct {
	db *sqlx.DB
}

type patternRow struct {
	Kind               string    `db:"kind"`
	Key                string    `db:"key"`
	PredictedAttribute string    `db:"predicted_attribute"`
	PredictedValue     string    `db:"predicted_value"`
	Confidence         float64   `db:"confidence"`
	SampleSize         int       `db:"sample_size"`
	UpdatedAt          time.Time `db:"updated_at"`
}

func (r *patternRow) toEntity() *domain.LearnedPattern {
	return &domain.LearnedPattern{
		Kind:               domain.PatternKind(r.Kind),
		Key:                r.Key,
		PredictedAttribute: r.PredictedAttribute,
		PredictedValue:     r.PredictedValue,
		Confidence:         r.Confidence,
		SampleSize:         r.SampleSize,
		UpdatedAt:          r.UpdatedAt,
	}
}

// Put upserts on (kind, key, attribute). Sample sizes only grow, so a
// stale writer is rejected by the MAX guard rather than shrinking the
// observation.
func (a *PatternAdapter) Put(ctx context.Context, p *domain.LearnedPattern) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO patterns (kind, key, predicted_attribute, predicted_value,
			confidence, sample_size, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (kind, key, predicted_attribute) DO UPDATE SET
			predicted_value = excluded.predicted_value,
			confidence = excluded.confidence,
			sample_size = MAX(patterns.sample_size, excluded.sample_size),
			updated_at = excluded.updated_at`,
		string(p.Kind), p.Key, p.PredictedAttribute, p.PredictedValue,
		p.Confidence, p.SampleSize, p.UpdatedAt)
	if err != nil {
		return apperr.Storage("put pattern", err)
	}
	return nil
}

func (a *PatternAdapter) List(ctx context.Context, kind domain.PatternKind) ([]*domain.LearnedPattern, error) {
	query := `SELECT kind, key, predicted_attribute, predicted_value,
		confidence, sample_size, updated_at FROM patterns`
	var args []any
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY kind ASC, key ASC, predicted_attribute ASC`

	var rows []patternRow
	if err := a.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, apperr.Storage("list patterns", err)
	}
	ps := make([]*domain.LearnedPattern, 0, len(rows))
	for i := range rows {
		ps = append(ps, rows[i].toEntity())
	}
	return ps, nil
}
