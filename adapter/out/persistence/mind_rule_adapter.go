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

// RuleAdapter implements out.RuleRepository.
type RuleAdapter struct {
	db *sqlx.DB
}

// =============================================================================
// Database Row Mapping
// =============================================================================

const ruleColumns = `id, name, enabled, priority, conditions, actions,
	compile_error, auto_generated, hit_count, last_hit_at, created_at, updated_at`

type ruleRow struct {
	ID            string       `db:"id"`
	Name          string       `db:"name"`
	Enabled       bool         `db:"enabled"`
	Priority      int          `db:"priority"`
	Conditions    string       `db:"conditions"`
	Actions       string       `db:"actions"`
	CompileError  string       `db:"compile_error"`
	AutoGenerated bool         `db:"auto_generated"`
	HitCount      int          `db:"hit_count"`
	LastHitAt     sql.NullTime `db:"last_hit_at"`
	CreatedAt     time.Time    `db:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at"`
}

func (r *ruleRow) toEntity() (*domain.Rule, error) {
	rule := &domain.Rule{
		ID:            r.ID,
		Name:          r.Name,
		Enabled:       r.Enabled,
		Priority:      r.Priority,
		CompileError:  r.CompileError,
		AutoGenerated: r.AutoGenerated,
		HitCount:      r.HitCount,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.LastHitAt.Valid {
		t := r.LastHitAt.Time
		rule.LastHitAt = &t
	}
	if err := json.Unmarshal([]byte(r.Conditions), &rule.Conditions); err != nil {
		return nil, apperr.Storage("decode rule conditions", err)
	}
	if err := json.Unmarshal([]byte(r.Actions), &rule.Actions); err != nil {
		return nil, apperr.Storage("decode rule actions", err)
	}
	return rule, nil
}

// =============================================================================
// CRUD Operations
// =============================================================================

func (a *RuleAdapter) Put(ctx context.Context, r *domain.Rule) error {
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	conditions, err := json.Marshal(r.Conditions)
	if err != nil {
		return apperr.Storage("encode rule conditions", err)
	}
	actions, err := json.Marshal(r.Actions)
	if err != nil {
		return apperr.Storage("encode rule actions", err)
	}

	var lastHit sql.NullTime
	if r.LastHitAt != nil {
		lastHit = sql.NullTime{Time: *r.LastHitAt, Valid: true}
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT INTO rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			enabled = excluded.enabled,
			priority = excluded.priority,
			conditions = excluded.conditions,
			actions = excluded.actions,
			compile_error = excluded.compile_error,
			auto_generated = excluded.auto_generated,
			updated_at = excluded.updated_at`,
		r.ID, r.Name, r.Enabled, r.Priority, string(conditions), string(actions),
		r.CompileError, r.AutoGenerated, r.HitCount, lastHit, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return apperr.Storage("put rule", err)
	}
	return nil
}

func (a *RuleAdapter) Get(ctx context.Context, id string) (*domain.Rule, error) {
	var row ruleRow
	err := a.db.GetContext(ctx, &row,
		`SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage("get rule", err)
	}
	return row.toEntity()
}

func (a *RuleAdapter) Delete(ctx context.Context, id string) error {
	res, err := a.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return apperr.Storage("delete rule", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("rule")
	}
	return nil
}

func (a *RuleAdapter) List(ctx context.Context, enabledOnly bool) ([]*domain.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY priority ASC, id ASC`

	var rows []ruleRow
	if err := a.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, apperr.Storage("list rules", err)
	}
	rules := make([]*domain.Rule, 0, len(rows))
	for i := range rows {
		r, err := rows[i].toEntity()
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func (a *RuleAdapter) RecordHit(ctx context.Context, id string, at time.Time) error {
	res, err := a.db.ExecContext(ctx, `
		UPDATE rules SET hit_count = hit_count + 1, last_hit_at = ?, updated_at = ?
		WHERE id = ?`, at, time.Now().UTC(), id)
	if err != nil {
		return apperr.Storage("record rule hit", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("rule")
	}
	return nil
}
