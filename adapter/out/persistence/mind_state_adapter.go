package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"

	"mailmind/pkg/apperr"
)

// StateAdapter implements out.StateRepository: small keyed blobs such as
// connector watermarks and the learner weight state.
type StateAdapter struct {
	db *sqlx.DB
}

func watermarkKey(connector string) string { return "watermark:" + connector }

// GetWatermark returns the connector's pull watermark; zero time when
// the connector has never completed a pull.
func (a *StateAdapter) GetWatermark(ctx context.Context, connector string) (time.Time, error) {
	var at time.Time
	ok, err := a.GetState(ctx, watermarkKey(connector), &at)
	if err != nil || !ok {
		return time.Time{}, err
	}
	return at, nil
}

func (a *StateAdapter) SetWatermark(ctx context.Context, connector string, at time.Time) error {
	return a.PutState(ctx, watermarkKey(connector), at)
}

func (a *StateAdapter) GetState(ctx context.Context, key string, dest any) (bool, error) {
	var value string
	err := a.db.GetContext(ctx, &value,
		`SELECT value FROM app_state WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Storage("get state", err)
	}
	if err := json.Unmarshal([]byte(value), dest); err != nil {
		return false, apperr.Storage("decode state", err)
	}
	return true, nil
}

func (a *StateAdapter) PutState(ctx context.Context, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return apperr.Storage("encode state", err)
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO app_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		key, string(payload), time.Now().UTC())
	if err != nil {
		return apperr.Storage("put state", err)
	}
	return nil
}
