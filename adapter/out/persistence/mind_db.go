// Package persistence provides the SQLite adapters implementing the
// outbound store ports.
package persistence

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"mailmind/core/domain"
	"mailmind/core/port/out"
	"mailmind/pkg/apperr"
)

// =============================================================================
// Database Setup & Migrations
// =============================================================================

// schemaVersion is the current schema. Migrations are forward-only and
// applied at startup; an on-disk version newer than this is fatal.
const schemaVersion = 1

var migrations = []string{
	// v1: initial schema
	`
	CREATE TABLE IF NOT EXISTS messages (
		id               TEXT PRIMARY KEY,
		external_id      TEXT NOT NULL UNIQUE,
		thread_id        TEXT NOT NULL DEFAULT '',
		sender_address   TEXT NOT NULL,
		sender_name      TEXT NOT NULL DEFAULT '',
		recipients       TEXT NOT NULL DEFAULT '[]',
		subject          TEXT NOT NULL DEFAULT '',
		body_text        TEXT NOT NULL DEFAULT '',
		body_html        TEXT NOT NULL DEFAULT '',
		sent_at          TIMESTAMP NOT NULL,
		received_at      TIMESTAMP NOT NULL,
		is_read          INTEGER NOT NULL DEFAULT 0,
		is_flagged       INTEGER NOT NULL DEFAULT 0,
		has_attachments  INTEGER NOT NULL DEFAULT 0,
		attachment_count INTEGER NOT NULL DEFAULT 0,
		category         TEXT NOT NULL DEFAULT 'primary',
		category_inferred INTEGER NOT NULL DEFAULT 1,
		priority         TEXT NOT NULL DEFAULT 'normal',
		tags             TEXT NOT NULL DEFAULT '[]',
		provider_labels  TEXT NOT NULL DEFAULT '[]',
		stamps           TEXT NOT NULL DEFAULT '[]',
		created_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id);
	CREATE INDEX IF NOT EXISTS idx_messages_received ON messages(received_at);
	CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_address);

	CREATE TABLE IF NOT EXISTS rules (
		id             TEXT PRIMARY KEY,
		name           TEXT NOT NULL,
		enabled        INTEGER NOT NULL DEFAULT 1,
		priority       INTEGER NOT NULL DEFAULT 50,
		conditions     TEXT NOT NULL DEFAULT '[]',
		actions        TEXT NOT NULL DEFAULT '{}',
		compile_error  TEXT NOT NULL DEFAULT '',
		auto_generated INTEGER NOT NULL DEFAULT 0,
		hit_count      INTEGER NOT NULL DEFAULT 0,
		last_hit_at    TIMESTAMP,
		created_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS decisions (
		message_id      TEXT NOT NULL,
		policy_version  INTEGER NOT NULL,
		bucket          TEXT NOT NULL,
		final_score     REAL NOT NULL,
		confidence      REAL NOT NULL,
		applied_labels  TEXT NOT NULL DEFAULT '[]',
		urgency         TEXT NOT NULL,
		rationale       TEXT NOT NULL DEFAULT '',
		conflicts       TEXT NOT NULL DEFAULT '[]',
		should_escalate INTEGER NOT NULL DEFAULT 0,
		follow_ups      TEXT NOT NULL DEFAULT '[]',
		decided_at      TIMESTAMP NOT NULL,
		PRIMARY KEY (message_id, policy_version)
	);

	CREATE TABLE IF NOT EXISTS feedback (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id       TEXT NOT NULL,
		original_bucket  TEXT NOT NULL DEFAULT '',
		corrected_bucket TEXT NOT NULL,
		user_note        TEXT NOT NULL DEFAULT '',
		stamped_at       TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS patterns (
		kind                TEXT NOT NULL,
		key                 TEXT NOT NULL,
		predicted_attribute TEXT NOT NULL,
		predicted_value     TEXT NOT NULL,
		confidence          REAL NOT NULL,
		sample_size         INTEGER NOT NULL,
		updated_at          TIMESTAMP NOT NULL,
		PRIMARY KEY (kind, key, predicted_attribute)
	);

	CREATE TABLE IF NOT EXISTS briefs (
		date_utc     TEXT PRIMARY KEY,
		payload      TEXT NOT NULL,
		generated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sender_profiles (
		address TEXT PRIMARY KEY,
		payload TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS thread_profiles (
		thread_id TEXT PRIMARY KEY,
		payload   TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS app_state (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS error_log (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id TEXT NOT NULL DEFAULT '',
		phase      TEXT NOT NULL,
		kind       TEXT NOT NULL,
		detail     TEXT NOT NULL DEFAULT '',
		attempt    INTEGER NOT NULL DEFAULT 1,
		logged_at  TIMESTAMP NOT NULL
	);
	`,
}

// Open opens (or creates) the SQLite database and applies pending
// migrations.
func Open(path string, log zerolog.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, apperr.Storage("open", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, log: log.With().Str("component", "store").Logger()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// =============================================================================
// Store Aggregate
// =============================================================================

// Store implements out.Store over a single SQLite file.
type Store struct {
	db  *sqlx.DB
	log zerolog.Logger
}

func (s *Store) Messages() out.MessageRepository   { return &MessageAdapter{db: s.db} }
func (s *Store) Rules() out.RuleRepository         { return &RuleAdapter{db: s.db} }
func (s *Store) Decisions() out.DecisionRepository { return &DecisionAdapter{db: s.db} }
func (s *Store) Feedback() out.FeedbackRepository  { return &FeedbackAdapter{db: s.db} }
func (s *Store) Patterns() out.PatternRepository   { return &PatternAdapter{db: s.db} }
func (s *Store) Briefs() out.BriefRepository       { return &BriefAdapter{db: s.db} }
func (s *Store) Profiles() out.ProfileRepository   { return &ProfileAdapter{db: s.db} }
func (s *Store) State() out.StateRepository        { return &StateAdapter{db: s.db} }
func (s *Store) Errors() out.ErrorLogRepository    { return &ErrorLogAdapter{db: s.db} }

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Stats computes the storewide aggregate snapshot.
func (s *Store) Stats(ctx context.Context) (*domain.Stats, error) {
	st := &domain.Stats{CategoryHist: make(map[domain.EmailCategory]int)}

	if err := s.db.GetContext(ctx, &st.TotalMessages,
		`SELECT COUNT(*) FROM messages`); err != nil {
		return nil, apperr.Storage("stats", err)
	}
	if err := s.db.GetContext(ctx, &st.UnreadCount,
		`SELECT COUNT(*) FROM messages WHERE is_read = 0`); err != nil {
		return nil, apperr.Storage("stats", err)
	}
	if err := s.db.GetContext(ctx, &st.DecidedCount,
		`SELECT COUNT(*) FROM decisions`); err != nil {
		return nil, apperr.Storage("stats", err)
	}
	if err := s.db.GetContext(ctx, &st.RuleCount,
		`SELECT COUNT(*) FROM rules`); err != nil {
		return nil, apperr.Storage("stats", err)
	}
	if err := s.db.GetContext(ctx, &st.FeedbackCount,
		`SELECT COUNT(*) FROM feedback`); err != nil {
		return nil, apperr.Storage("stats", err)
	}

	rows, err := s.db.QueryxContext(ctx,
		`SELECT category, COUNT(*) AS n FROM messages GROUP BY category`)
	if err != nil {
		return nil, apperr.Storage("stats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, apperr.Storage("stats", err)
		}
		st.CategoryHist[domain.EmailCategory(cat)] = n
	}
	return st, rows.Err()
}

// migrate applies forward-only migrations inside a transaction per step.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(
		`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return apperr.Storage("migrate", err)
	}

	var current int
	if err := s.db.Get(&current,
		`SELECT COALESCE(MAX(version), 0) FROM schema_version`); err != nil {
		return apperr.Storage("migrate", err)
	}
	if current > schemaVersion {
		return apperr.Fatal(
			fmt.Sprintf("database schema v%d is newer than supported v%d", current, schemaVersion), nil)
	}

	for v := current; v < schemaVersion; v++ {
		tx, err := s.db.Beginx()
		if err != nil {
			return apperr.Storage("migrate", err)
		}
		if _, err := tx.Exec(migrations[v]); err != nil {
			tx.Rollback()
			return apperr.Storage(fmt.Sprintf("migrate to v%d", v+1), err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, v+1); err != nil {
			tx.Rollback()
			return apperr.Storage("migrate", err)
		}
		if err := tx.Commit(); err != nil {
			return apperr.Storage("migrate", err)
		}
		s.log.Info().Int("version", v+1).Msg("schema migrated")
	}
	return nil
}
