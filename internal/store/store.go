// Package store persists fetched emails in a local SQLite database.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Email is one stored message as the rules engine sees it.
type Email struct {
	ID         string
	Sender     string
	Recipient  string
	Subject    string
	Body       string
	ReceivedAt time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS emails (
	message_id  TEXT PRIMARY KEY,
	sender      TEXT NOT NULL,
	recipient   TEXT NOT NULL,
	subject     TEXT NOT NULL,
	body        TEXT NOT NULL,
	received_at TEXT NOT NULL
);
`

// Store wraps the SQLite database holding fetched emails.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the email database at path.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path must not be empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	// WAL is an optimization; a failure here is not fatal.
	_, _ = db.Exec(`PRAGMA journal_mode = WAL;`)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create emails schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save upserts the given emails in a single transaction, keyed by message ID.
func (s *Store) Save(ctx context.Context, emails []Email) error {
	if len(emails) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO emails (message_id, sender, recipient, subject, body, received_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare save: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range emails {
		if strings.TrimSpace(e.ID) == "" {
			return fmt.Errorf("email with empty message id")
		}
		received := e.ReceivedAt.Format(time.RFC3339)
		if _, err := stmt.ExecContext(ctx, e.ID, e.Sender, e.Recipient, e.Subject, e.Body, received); err != nil {
			return fmt.Errorf("save email %s: %w", e.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// List returns every stored email. Ordering is by message ID for
// determinism only; callers must not rely on it.
func (s *Store) List(ctx context.Context) ([]Email, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, sender, recipient, subject, body, received_at
		FROM emails ORDER BY message_id`)
	if err != nil {
		return nil, fmt.Errorf("list emails: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Email
	for rows.Next() {
		var e Email
		var received string
		if err := rows.Scan(&e.ID, &e.Sender, &e.Recipient, &e.Subject, &e.Body, &received); err != nil {
			return nil, fmt.Errorf("scan email row: %w", err)
		}
		ts, err := time.Parse(time.RFC3339, received)
		if err != nil {
			return nil, fmt.Errorf("parse received_at for %s: %w", e.ID, err)
		}
		e.ReceivedAt = ts
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate emails: %w", err)
	}
	return out, nil
}

// Count reports how many emails are stored.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM emails`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count emails: %w", err)
	}
	return n, nil
}
