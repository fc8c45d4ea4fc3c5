package persistence

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"

	"mailmind/core/domain"
	"mailmind/pkg/apperr"
)

// ProfileAdapter implements out.ProfileRepository. Profiles are derived
// state owned by the intelligence index; they are stored whole as JSON
// so index schema changes never need a migration.
type ProfileAdapter struct {
	db *sqlx.DB
}

func (a *ProfileAdapter) PutSenderProfiles(ctx context.Context, profiles []*domain.SenderProfile) error {
	if len(profiles) == 0 {
		return nil
	}
	tx, err := a.db.Beginx()
	if err != nil {
		return apperr.Storage("put sender profiles", err)
	}
	for _, p := range profiles {
		payload, err := json.Marshal(p)
		if err != nil {
			tx.Rollback()
			return apperr.Storage("encode sender profile", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sender_profiles (address, payload) VALUES (?, ?)
			ON CONFLICT (address) DO UPDATE SET payload = excluded.payload`,
			p.Address, string(payload)); err != nil {
			tx.Rollback()
			return apperr.Storage("put sender profile", err)
		}
	}
	return tx.Commit()
}

func (a *ProfileAdapter) ListSenderProfiles(ctx context.Context) ([]*domain.SenderProfile, error) {
	var payloads []string
	if err := a.db.SelectContext(ctx, &payloads,
		`SELECT payload FROM sender_profiles ORDER BY address ASC`); err != nil {
		return nil, apperr.Storage("list sender profiles", err)
	}
	profiles := make([]*domain.SenderProfile, 0, len(payloads))
	for _, raw := range payloads {
		var p domain.SenderProfile
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, apperr.Storage("decode sender profile", err)
		}
		profiles = append(profiles, &p)
	}
	return profiles, nil
}

func (a *ProfileAdapter) PutThreadProfiles(ctx context.Context, profiles []*domain.ThreadProfile) error {
	if len(profiles) == 0 {
		return nil
	}
	tx, err := a.db.Beginx()
	if err != nil {
		return apperr.Storage("put thread profiles", err)
	}
	for _, p := range profiles {
		payload, err := json.Marshal(p)
		if err != nil {
			tx.Rollback()
			return apperr.Storage("encode thread profile", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO thread_profiles (thread_id, payload) VALUES (?, ?)
			ON CONFLICT (thread_id) DO UPDATE SET payload = excluded.payload`,
			p.ThreadID, string(payload)); err != nil {
			tx.Rollback()
			return apperr.Storage("put thread profile", err)
		}
	}
	return tx.Commit()
}

func (a *ProfileAdapter) ListThreadProfiles(ctx context.Context) ([]*domain.ThreadProfile, error) {
	var payloads []string
	if err := a.db.SelectContext(ctx, &payloads,
		`SELECT payload FROM thread_profiles ORDER BY thread_id ASC`); err != nil {
		return nil, apperr.Storage("list thread profiles", err)
	}
	profiles := make([]*domain.ThreadProfile, 0, len(payloads))
	for _, raw := range payloads {
		var p domain.ThreadProfile
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, apperr.Storage("decode thread profile", err)
		}
		profiles = append(profiles, &p)
	}
	return profiles, nil
}
