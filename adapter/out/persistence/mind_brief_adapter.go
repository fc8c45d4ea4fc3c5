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

// BriefAdapter implements out.BriefRepository. The whole brief is one
// JSON payload keyed by its UTC date; regenerating a date replaces it.
type BriefAdapter struct {
	db *sqlx.DB
}

func (a *BriefAdapter) Put(ctx context.Context, b *domain.DailyBrief) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return apperr.Storage("encode brief", err)
	}
	if b.GeneratedAt.IsZero() {
		b.GeneratedAt = time.Now().UTC()
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO briefs (date_utc, payload, generated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (date_utc) DO UPDATE SET
			payload = excluded.payload,
			generated_at = excluded.generated_at`,
		b.DateUTC, string(payload), b.GeneratedAt)
	if err != nil {
		return apperr.Storage("put brief", err)
	}
	return nil
}

func (a *BriefAdapter) Get(ctx context.Context, dateUTC string) (*domain.DailyBrief, error) {
	var payload string
	err := a.db.GetContext(ctx, &payload,
		`SELECT payload FROM briefs WHERE date_utc = ?`, dateUTC)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage("get brief", err)
	}
	var b domain.DailyBrief
	if err := json.Unmarshal([]byte(payload), &b); err != nil {
		return nil, apperr.Storage("decode brief", err)
	}
	return &b, nil
}
