package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

var _ Store = (*SQLiteStore)(nil)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS access_codes (
        code TEXT PRIMARY KEY,
        uses_left INTEGER NOT NULL CHECK (uses_left >= 0),
        email TEXT NOT NULL DEFAULT '',
        plan TEXT NOT NULL DEFAULT '',
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS feedback_entries (
        id TEXT PRIMARY KEY,
        created_at DATETIME NOT NULL,
        feedback TEXT NOT NULL,
        scores_json TEXT, -- JSON array of DomainScore
        overall INTEGER NOT NULL DEFAULT 0,
        image_key TEXT NOT NULL DEFAULT ''
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// Code ledger methods
func (s *SQLiteStore) GetCode(ctx context.Context, code string) (*AccessCode, error) {
	return s.getCode(ctx, s.db, code)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) getCode(ctx context.Context, q queryRower, code string) (*AccessCode, error) {
	var c AccessCode
	err := q.QueryRowContext(ctx,
		"SELECT code, uses_left, email, plan, created_at, updated_at FROM access_codes WHERE code = ?", code,
	).Scan(&c.Code, &c.UsesLeft, &c.Email, &c.Plan, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query access code: %w", err)
	}
	return &c, nil
}

const upsertCodeQuery = `
    INSERT INTO access_codes (code, uses_left, email, plan, created_at, updated_at)
    VALUES (?, ?, ?, ?, ?, ?)
    ON CONFLICT(code) DO UPDATE SET
        uses_left = %s,
        email = CASE WHEN excluded.email <> '' THEN excluded.email ELSE access_codes.email END,
        plan = CASE WHEN excluded.plan <> '' THEN excluded.plan ELSE access_codes.plan END,
        updated_at = excluded.updated_at
    `

func (s *SQLiteStore) PutCode(ctx context.Context, c AccessCode) (AccessCode, error) {
	return s.upsertCode(ctx, c, fmt.Sprintf(upsertCodeQuery, "excluded.uses_left"))
}

func (s *SQLiteStore) AddCodeUses(ctx context.Context, c AccessCode) (AccessCode, error) {
	return s.upsertCode(ctx, c, fmt.Sprintf(upsertCodeQuery, "access_codes.uses_left + excluded.uses_left"))
}

func (s *SQLiteStore) upsertCode(ctx context.Context, c AccessCode, query string) (AccessCode, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return AccessCode{}, fmt.Errorf("failed to begin access code upsert: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, query, c.Code, c.UsesLeft, c.Email, c.Plan, now, now); err != nil {
		return AccessCode{}, fmt.Errorf("failed to upsert access code: %w", err)
	}
	stored, err := s.getCode(ctx, tx, c.Code)
	if err != nil {
		return AccessCode{}, err
	}
	if err := tx.Commit(); err != nil {
		return AccessCode{}, fmt.Errorf("failed to commit access code upsert: %w", err)
	}
	return *stored, nil
}

func (s *SQLiteStore) ConsumeCode(ctx context.Context, code string) (int, error) {
	var usesLeft int
	err := s.db.QueryRowContext(ctx,
		"UPDATE access_codes SET uses_left = uses_left - 1, updated_at = ? WHERE code = ? AND uses_left > 0 RETURNING uses_left",
		time.Now().UTC(), code,
	).Scan(&usesLeft)
	if err == nil {
		return usesLeft, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to consume access code: %w", err)
	}

	// Nothing updated: tell an unknown code from an exhausted one.
	if _, err := s.GetCode(ctx, code); err != nil {
		return 0, err
	}
	return 0, ErrExhausted
}

func (s *SQLiteStore) ListCodes(ctx context.Context) ([]AccessCode, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT code, uses_left, email, plan, created_at, updated_at FROM access_codes ORDER BY code ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query access codes: %w", err)
	}
	defer rows.Close()

	codes := []AccessCode{}
	for rows.Next() {
		var c AccessCode
		if err := rows.Scan(&c.Code, &c.UsesLeft, &c.Email, &c.Plan, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan access code row: %w", err)
		}
		codes = append(codes, c)
	}
	return codes, rows.Err()
}

// Feedback methods
func (s *SQLiteStore) InsertFeedback(ctx context.Context, e FeedbackEntry) error {
	var scoresJSON sql.NullString
	if len(e.Scores) > 0 {
		b, err := json.Marshal(e.Scores)
		if err != nil {
			return fmt.Errorf("failed to marshal scores: %w", err)
		}
		scoresJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO feedback_entries (id, created_at, feedback, scores_json, overall, image_key) VALUES (?, ?, ?, ?, ?, ?)",
		e.ID, e.Timestamp.UTC(), e.Feedback, scoresJSON, e.Overall, e.ImageKey,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return ErrConflict
		}
		return fmt.Errorf("failed to insert feedback entry: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeedbackRow(row rowScanner) (*FeedbackEntry, error) {
	var e FeedbackEntry
	var scoresJSON sql.NullString
	if err := row.Scan(&e.ID, &e.Timestamp, &e.Feedback, &scoresJSON, &e.Overall, &e.ImageKey); err != nil {
		return nil, err
	}
	if scoresJSON.Valid && scoresJSON.String != "" {
		if err := json.Unmarshal([]byte(scoresJSON.String), &e.Scores); err != nil {
			return nil, fmt.Errorf("failed to unmarshal scores for entry %s: %w", e.ID, err)
		}
	}
	return &e, nil
}

func (s *SQLiteStore) GetFeedback(ctx context.Context, id string) (*FeedbackEntry, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, created_at, feedback, scores_json, overall, image_key FROM feedback_entries WHERE id = ?", id)
	e, err := scanFeedbackRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get feedback entry: %w", err)
	}
	return e, nil
}

func (s *SQLiteStore) ListFeedback(ctx context.Context) ([]FeedbackEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, created_at, feedback, scores_json, overall, image_key FROM feedback_entries ORDER BY rowid ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback entries: %w", err)
	}
	defer rows.Close()

	entries := []FeedbackEntry{}
	for rows.Next() {
		e, err := scanFeedbackRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feedback row: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}
