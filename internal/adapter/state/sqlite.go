package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"conductor/internal/domain"
)

// SQLiteStore holds the append-only records: attempt history and the
// decision audit log.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and runs
// the schema migration.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate state db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS attempts (
			agent_id       TEXT NOT NULL,
			task_id        TEXT NOT NULL,
			attempt_number INTEGER NOT NULL,
			started_at     TEXT NOT NULL,
			completed_at   TEXT NOT NULL,
			outcome        TEXT NOT NULL,
			error_summary  TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_attempts_agent_task ON attempts (agent_id, task_id);

		CREATE TABLE IF NOT EXISTS decisions (
			id         TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			kind       TEXT NOT NULL,
			agent_id   TEXT NOT NULL DEFAULT '',
			category   TEXT NOT NULL DEFAULT '',
			confidence INTEGER NOT NULL DEFAULT 0,
			rationale  TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_decisions_session ON decisions (session_id, created_at);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// AppendAttempt implements domain.AttemptStore.
func (s *SQLiteStore) AppendAttempt(ctx context.Context, rec domain.AttemptRecord) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO attempts (agent_id, task_id, attempt_number, started_at, completed_at, outcome, error_summary) VALUES (?, ?, ?, ?, ?, ?, ?)",
		rec.AgentID, rec.TaskID, rec.AttemptNumber,
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		rec.CompletedAt.UTC().Format(time.RFC3339Nano),
		string(rec.Outcome), rec.ErrorSummary,
	)
	if err != nil {
		return domain.WrapOp("SQLiteStore.AppendAttempt", err)
	}
	return nil
}

// Attempts implements domain.AttemptStore, oldest first.
func (s *SQLiteStore) Attempts(ctx context.Context, agentID, taskID string) ([]domain.AttemptRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT agent_id, task_id, attempt_number, started_at, completed_at, outcome, error_summary FROM attempts WHERE agent_id = ? AND task_id = ? ORDER BY attempt_number ASC",
		agentID, taskID,
	)
	if err != nil {
		return nil, domain.WrapOp("SQLiteStore.Attempts", err)
	}
	defer rows.Close()

	var out []domain.AttemptRecord
	for rows.Next() {
		var (
			rec                    domain.AttemptRecord
			started, completed, oc string
		)
		if err := rows.Scan(&rec.AgentID, &rec.TaskID, &rec.AttemptNumber, &started, &completed, &oc, &rec.ErrorSummary); err != nil {
			return nil, domain.WrapOp("SQLiteStore.Attempts", err)
		}
		rec.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		rec.CompletedAt, _ = time.Parse(time.RFC3339Nano, completed)
		rec.Outcome = domain.Outcome(oc)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AppendDecision implements domain.DecisionLog.
func (s *SQLiteStore) AppendDecision(ctx context.Context, rec domain.DecisionRecord) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO decisions (id, session_id, kind, agent_id, category, confidence, rationale, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		rec.ID, rec.SessionID, string(rec.Kind), rec.AgentID, string(rec.Category),
		rec.Confidence, rec.Rationale, rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return domain.WrapOp("SQLiteStore.AppendDecision", err)
	}
	return nil
}

// Decisions implements domain.DecisionLog, newest first.
func (s *SQLiteStore) Decisions(ctx context.Context, sessionID string, limit int) ([]domain.DecisionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, session_id, kind, agent_id, category, confidence, rationale, created_at FROM decisions WHERE session_id = ? ORDER BY created_at DESC LIMIT ?",
		sessionID, limit,
	)
	if err != nil {
		return nil, domain.WrapOp("SQLiteStore.Decisions", err)
	}
	defer rows.Close()

	var out []domain.DecisionRecord
	for rows.Next() {
		var (
			rec           domain.DecisionRecord
			kind, cat, at string
		)
		if err := rows.Scan(&rec.ID, &rec.SessionID, &kind, &rec.AgentID, &cat, &rec.Confidence, &rec.Rationale, &at); err != nil {
			return nil, domain.WrapOp("SQLiteStore.Decisions", err)
		}
		rec.Kind = domain.InstructionKind(kind)
		rec.Category = domain.Category(cat)
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, rec)
	}
	return out, rows.Err()
}
