package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"mailmind/core/domain"
	"mailmind/core/port/out"
	"mailmind/pkg/apperr"
)

// MessageAdapter implements out.MessageRepository.
type MessageAdapter struct {
	db *sqlx.DB
}

// =============================================================================
// Database Row Mapping
// =============================================================================

const messageColumns = `id, external_id, thread_id, sender_address, sender_name,
	recipients, subject, body_text, body_html, sent_at, received_at,
	is_read, is_flagged, has_attachments, attachment_count,
	category, category_inferred, priority, tags, provider_labels, stamps,
	created_at, updated_at`

type messageRow struct {
	ID               string    `db:"id"`
	ExternalID       string    `db:"external_id"`
	ThreadID         string    `db:"thread_id"`
	SenderAddress    string    `db:"sender_address"`
	SenderName       string    `db:"sender_name"`
	Recipients       string    `db:"recipients"`
	Subject          string    `db:"subject"`
	BodyText         string    `db:"body_text"`
	BodyHTML         string    `db:"body_html"`
	SentAt           time.Time `db:"sent_at"`
	ReceivedAt       time.Time `db:"received_at"`
	IsRead           bool      `db:"is_read"`
	IsFlagged        bool      `db:"is_flagged"`
	HasAttachments   bool      `db:"has_attachments"`
	AttachmentCount  int       `db:"attachment_count"`
	Category         string    `db:"category"`
	CategoryInferred bool      `db:"category_inferred"`
	Priority         string    `db:"priority"`
	Tags             string    `db:"tags"`
	ProviderLabels   string    `db:"provider_labels"`
	Stamps           string    `db:"stamps"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

type messageRowWithCount struct {
	messageRow
	TotalCount int `db:"total_count"`
}

func (r *messageRow) toEntity() (*domain.Message, error) {
	m := &domain.Message{
		ID:               r.ID,
		ExternalID:       r.ExternalID,
		ThreadID:         r.ThreadID,
		Sender:           domain.Address{Address: r.SenderAddress, DisplayName: r.SenderName},
		Subject:          r.Subject,
		BodyText:         r.BodyText,
		BodyHTML:         r.BodyHTML,
		SentAt:           r.SentAt,
		ReceivedAt:       r.ReceivedAt,
		IsRead:           r.IsRead,
		IsFlagged:        r.IsFlagged,
		HasAttachments:   r.HasAttachments,
		AttachmentCount:  r.AttachmentCount,
		Category:         domain.EmailCategory(r.Category),
		CategoryInferred: r.CategoryInferred,
		Priority:         domain.EmailPriority(r.Priority),
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(r.Recipients), &m.Recipients); err != nil {
		return nil, apperr.Storage("decode recipients", err)
	}
	if err := json.Unmarshal([]byte(r.Tags), &m.Tags); err != nil {
		return nil, apperr.Storage("decode tags", err)
	}
	if err := json.Unmarshal([]byte(r.ProviderLabels), &m.ProviderLabels); err != nil {
		return nil, apperr.Storage("decode provider labels", err)
	}
	var stamps []domain.ProcessingStage
	if err := json.Unmarshal([]byte(r.Stamps), &stamps); err != nil {
		return nil, apperr.Storage("decode stamps", err)
	}
	m.Stamps = make(domain.StampSet, len(stamps))
	for _, st := range stamps {
		m.Stamps = m.Stamps.Add(st)
	}
	m.Normalize()
	return m, nil
}

func messageToRow(m *domain.Message) (*messageRow, error) {
	recipients, err := encodeJSON(m.Recipients)
	if err != nil {
		return nil, err
	}
	tags, err := encodeJSON(m.Tags)
	if err != nil {
		return nil, err
	}
	labels, err := encodeJSON(m.ProviderLabels)
	if err != nil {
		return nil, err
	}
	stamps, err := encodeStamps(m.Stamps)
	if err != nil {
		return nil, err
	}
	return &messageRow{
		ID:               m.ID,
		ExternalID:       m.ExternalID,
		ThreadID:         m.ThreadID,
		SenderAddress:    m.Sender.Address,
		SenderName:       m.Sender.DisplayName,
		Recipients:       recipients,
		Subject:          m.Subject,
		BodyText:         m.BodyText,
		BodyHTML:         m.BodyHTML,
		SentAt:           m.SentAt,
		ReceivedAt:       m.ReceivedAt,
		IsRead:           m.IsRead,
		IsFlagged:        m.IsFlagged,
		HasAttachments:   m.HasAttachments,
		AttachmentCount:  m.AttachmentCount,
		Category:         string(m.Category),
		CategoryInferred: m.CategoryInferred,
		Priority:         string(m.Priority),
		Tags:             tags,
		ProviderLabels:   labels,
		Stamps:           stamps,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}, nil
}

// encodeJSON marshals a slice as a JSON array, never null.
func encodeJSON[T any](v []T) (string, error) {
	if v == nil {
		return "[]", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", apperr.Storage("encode", err)
	}
	return string(b), nil
}

func encodeStamps(s domain.StampSet) (string, error) {
	stages := make([]domain.ProcessingStage, 0, len(s))
	for _, st := range []domain.ProcessingStage{
		domain.StageRulesApplied, domain.StageAnalyzed,
		domain.StageDecided, domain.StageLabelsPushed,
	} {
		if s.Has(st) {
			stages = append(stages, st)
		}
	}
	return encodeJSON(stages)
}

// =============================================================================
// CRUD Operations
// =============================================================================

// Upsert inserts or merges on external_id. The merge keeps the stored
// stamp set unioned with the incoming one so stamps only ever grow, and
// keeps a user-set category over a connector-inferred one.
func (a *MessageAdapter) Upsert(ctx context.Context, m *domain.Message) error {
	m.Normalize()
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	existing, err := a.GetByExternalID(ctx, m.ExternalID)
	if err != nil {
		return err
	}
	if existing != nil {
		m.ID = existing.ID
		m.CreatedAt = existing.CreatedAt
		m.Stamps = m.Stamps.Merge(existing.Stamps)
		if !existing.CategoryInferred {
			m.Category = existing.Category
			m.CategoryInferred = false
		}
	} else if m.ID == "" {
		m.ID = uuid.NewString()
	}

	row, err := messageToRow(m)
	if err != nil {
		return err
	}

	_, err = a.db.NamedExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (:id, :external_id, :thread_id, :sender_address, :sender_name,
			:recipients, :subject, :body_text, :body_html, :sent_at, :received_at,
			:is_read, :is_flagged, :has_attachments, :attachment_count,
			:category, :category_inferred, :priority, :tags, :provider_labels, :stamps,
			:created_at, :updated_at)
		ON CONFLICT (external_id) DO UPDATE SET
			thread_id = excluded.thread_id,
			sender_address = excluded.sender_address,
			sender_name = excluded.sender_name,
			recipients = excluded.recipients,
			subject = excluded.subject,
			body_text = excluded.body_text,
			body_html = excluded.body_html,
			sent_at = excluded.sent_at,
			received_at = excluded.received_at,
			is_read = excluded.is_read,
			is_flagged = excluded.is_flagged,
			has_attachments = excluded.has_attachments,
			attachment_count = excluded.attachment_count,
			category = excluded.category,
			category_inferred = excluded.category_inferred,
			priority = excluded.priority,
			tags = excluded.tags,
			provider_labels = excluded.provider_labels,
			stamps = excluded.stamps,
			updated_at = excluded.updated_at`, row)
	if err != nil {
		return apperr.Storage("upsert message", err)
	}
	return nil
}

func (a *MessageAdapter) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	return a.getOne(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
}

func (a *MessageAdapter) GetByExternalID(ctx context.Context, externalID string) (*domain.Message, error) {
	return a.getOne(ctx, `SELECT `+messageColumns+` FROM messages WHERE external_id = ?`, externalID)
}

func (a *MessageAdapter) getOne(ctx context.Context, query string, arg any) (*domain.Message, error) {
	var row messageRow
	err := a.db.GetContext(ctx, &row, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage("get message", err)
	}
	return row.toEntity()
}

// Query returns a filtered page ordered by sent_at desc (id tiebreak)
// plus the total match count.
func (a *MessageAdapter) Query(ctx context.Context, filter *out.MessageFilter) ([]*domain.Message, int, error) {
	if filter == nil {
		filter = &out.MessageFilter{}
	}

	where := "1=1"
	var args []any
	if filter.Since != nil {
		where += " AND received_at >= ?"
		args = append(args, *filter.Since)
	}
	if filter.Until != nil {
		where += " AND received_at < ?"
		args = append(args, *filter.Until)
	}
	if filter.Unread != nil {
		where += " AND is_read = ?"
		args = append(args, !*filter.Unread)
	}
	if filter.SenderContains != "" {
		where += " AND sender_address LIKE ?"
		args = append(args, "%"+filter.SenderContains+"%")
	}
	if filter.Search != "" {
		where += " AND (subject LIKE ? OR body_text LIKE ? OR sender_address LIKE ?)"
		pat := "%" + filter.Search + "%"
		args = append(args, pat, pat, pat)
	}
	if filter.Category != nil {
		where += " AND category = ?"
		args = append(args, string(*filter.Category))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)

	query := `SELECT ` + messageColumns + `, COUNT(*) OVER() AS total_count
		FROM messages WHERE ` + where + `
		ORDER BY sent_at DESC, id ASC
		LIMIT ? OFFSET ?`

	var rows []messageRowWithCount
	if err := a.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, apperr.Storage("query messages", err)
	}

	msgs := make([]*domain.Message, 0, len(rows))
	total := 0
	for i := range rows {
		m, err := rows[i].toEntity()
		if err != nil {
			return nil, 0, err
		}
		msgs = append(msgs, m)
		total = rows[i].TotalCount
	}
	return msgs, total, nil
}

func (a *MessageAdapter) ListByThread(ctx context.Context, threadID string) ([]*domain.Message, error) {
	return a.list(ctx, `SELECT `+messageColumns+` FROM messages
		WHERE thread_id = ? ORDER BY received_at ASC, id ASC`, threadID)
}

// ListMissingStamp returns messages the given stage has not yet
// processed, oldest first so the pipeline drains in arrival order.
func (a *MessageAdapter) ListMissingStamp(ctx context.Context, stage domain.ProcessingStage, limit int) ([]*domain.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	return a.list(ctx, `SELECT `+messageColumns+` FROM messages
		WHERE stamps NOT LIKE ? ORDER BY received_at ASC, id ASC LIMIT ?`,
		`%"`+string(stage)+`"%`, limit)
}

func (a *MessageAdapter) ListByDateUTC(ctx context.Context, dateUTC string) ([]*domain.Message, error) {
	return a.list(ctx, `SELECT `+messageColumns+` FROM messages
		WHERE date(received_at) = ? ORDER BY received_at ASC, id ASC`, dateUTC)
}

func (a *MessageAdapter) list(ctx context.Context, query string, args ...any) ([]*domain.Message, error) {
	var rows []messageRow
	if err := a.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, apperr.Storage("list messages", err)
	}
	msgs := make([]*domain.Message, 0, len(rows))
	for i := range rows {
		m, err := rows[i].toEntity()
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Update rewrites the mutable classification fields and flags.
func (a *MessageAdapter) Update(ctx context.Context, m *domain.Message) error {
	tags, err := encodeJSON(m.Tags)
	if err != nil {
		return err
	}
	labels, err := encodeJSON(m.ProviderLabels)
	if err != nil {
		return err
	}

	res, err := a.db.ExecContext(ctx, `
		UPDATE messages SET
			category = ?, category_inferred = ?, priority = ?,
			tags = ?, provider_labels = ?,
			is_read = ?, is_flagged = ?, updated_at = ?
		WHERE id = ?`,
		string(m.Category), m.CategoryInferred, string(m.Priority),
		tags, labels, m.IsRead, m.IsFlagged, time.Now().UTC(), m.ID)
	if err != nil {
		return apperr.Storage("update message", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("message")
	}
	return nil
}

// Stamp marks a stage complete. Stamps only grow, so stamping twice is
// a no-op.
func (a *MessageAdapter) Stamp(ctx context.Context, id string, stage domain.ProcessingStage) error {
	m, err := a.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if m == nil {
		return apperr.NotFound("message")
	}
	if m.Stamps.Has(stage) {
		return nil
	}
	m.Stamps = m.Stamps.Add(stage)

	stamps, err := encodeStamps(m.Stamps)
	if err != nil {
		return err
	}
	if _, err := a.db.ExecContext(ctx,
		`UPDATE messages SET stamps = ?, updated_at = ? WHERE id = ?`,
		stamps, time.Now().UTC(), id); err != nil {
		return apperr.Storage("stamp message", err)
	}
	return nil
}
