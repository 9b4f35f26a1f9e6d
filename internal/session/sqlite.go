package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    prompt TEXT NOT NULL DEFAULT '',
    provider TEXT NOT NULL,
    model TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    state TEXT NOT NULL,
    flagged TEXT,
    error TEXT,
    steps INTEGER NOT NULL DEFAULT 0,
    pending INTEGER NOT NULL DEFAULT 0,
    input_tokens INTEGER NOT NULL DEFAULT 0,
    output_tokens INTEGER NOT NULL DEFAULT 0,
    cached_input_tokens INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at DESC);
`

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("session database path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = NewID()
	}
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	if sess.Prompt == "" {
		sess.Prompt = FirstUserText(sess.State.Messages)
	}

	state, err := EncodeState(sess.State)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}
	var flagged sql.NullString
	if len(sess.Flagged) > 0 {
		data, err := json.Marshal(sess.Flagged)
		if err != nil {
			return err
		}
		flagged = sql.NullString{String: string(data), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, prompt, provider, model, status, state, flagged, error, steps, pending,
		                      input_tokens, output_tokens, cached_input_tokens, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    prompt = excluded.prompt, provider = excluded.provider, model = excluded.model,
		    status = excluded.status, state = excluded.state, flagged = excluded.flagged,
		    error = excluded.error, steps = excluded.steps, pending = excluded.pending,
		    input_tokens = excluded.input_tokens, output_tokens = excluded.output_tokens,
		    cached_input_tokens = excluded.cached_input_tokens, updated_at = excluded.updated_at`,
		sess.ID, sess.Prompt, sess.Provider, sess.Model, string(sess.Status), string(state), flagged,
		nullString(sess.Error), sess.State.StepIndex, len(sess.State.Pending),
		sess.Usage.InputTokens, sess.Usage.OutputTokens, sess.Usage.CachedInputTokens,
		sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, prompt, provider, model, status, state, flagged, error,
		       input_tokens, output_tokens, cached_input_tokens, created_at, updated_at
		FROM sessions WHERE id = ?`, id)

	var sess Session
	var status, state string
	var flagged, errText sql.NullString
	err := row.Scan(&sess.ID, &sess.Prompt, &sess.Provider, &sess.Model, &status, &state, &flagged, &errText,
		&sess.Usage.InputTokens, &sess.Usage.OutputTokens, &sess.Usage.CachedInputTokens,
		&sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	sess.Status = Status(status)
	sess.Error = errText.String
	if sess.State, err = DecodeState([]byte(state)); err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	if flagged.Valid {
		if err := json.Unmarshal([]byte(flagged.String), &sess.Flagged); err != nil {
			return nil, fmt.Errorf("session %s: decode flagged: %w", id, err)
		}
	}
	return &sess, nil
}

func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, prompt, provider, status, steps, pending, updated_at
		FROM sessions ORDER BY updated_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var results []Summary
	for rows.Next() {
		var sum Summary
		var status string
		if err := rows.Scan(&sum.ID, &sum.Prompt, &sum.Provider, &status, &sum.Steps, &sum.Pending, &sum.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session summary: %w", err)
		}
		sum.Status = Status(status)
		results = append(results, sum)
	}
	return results, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
