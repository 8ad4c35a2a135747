// Package store persists run outcomes: per-pass counters and the replies
// that could not be processed, so failed extractions can be replayed.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/vkruglov/replyharvest/internal/run"
)

// DB wraps sqlx.DB
type DB struct {
	*sqlx.DB
}

// New opens the database, creating the parent directory if needed.
func New(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &DB{db}, nil
}

// Migrate runs database migrations
func (db *DB) Migrate(ctx context.Context) error {
	_, err := db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Run is a persisted pass summary.
type Run struct {
	ID           string    `db:"id"`
	StartedAt    time.Time `db:"started_at"`
	FinishedAt   time.Time `db:"finished_at"`
	TotalSent    int       `db:"total_sent"`
	RepliesFound int       `db:"replies_found"`
	Extracted    int       `db:"extracted"`
	SinkUpdates  int       `db:"sink_updates"`
	ImapErrors   int       `db:"imap_errors"`
	LlmErrors    int       `db:"llm_errors"`
	SinkErrors   int       `db:"sink_errors"`
}

// BadItem is a persisted unprocessable reply.
type BadItem struct {
	ID        int64  `db:"id"`
	RunID     string `db:"run_id"`
	Recipient string `db:"recipient"`
	Reason    string `db:"reason"`
	Body      string `db:"body"`
}

// SaveRun stores the pass summary and its bad items, returning the run id.
func (db *DB) SaveRun(ctx context.Context, stats *run.Stats) (string, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	id := uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, finished_at, total_sent, replies_found, extracted, sink_updates, imap_errors, llm_errors, sink_errors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		id,
		stats.StartedAt,
		stats.FinishedAt,
		stats.TotalSent,
		stats.RepliesFound,
		stats.Extracted,
		stats.SinkUpdates,
		stats.Errors["imap"],
		stats.Errors["llm"],
		stats.Errors["sink"],
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}

	for _, bad := range stats.Bad {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO bad_items (run_id, recipient, reason, body)
			VALUES (?, ?, ?, ?)
		`, id, bad.Recipient, bad.Reason, bad.Body)
		if err != nil {
			return "", fmt.Errorf("failed to insert bad item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}
	return id, nil
}

// GetRun returns a run by id.
func (db *DB) GetRun(ctx context.Context, id string) (*Run, error) {
	var r Run
	if err := db.GetContext(ctx, &r, `SELECT * FROM runs WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &r, nil
}

// ListBadItems returns the unprocessable replies recorded for a run.
func (db *DB) ListBadItems(ctx context.Context, runID string) ([]*BadItem, error) {
	var items []*BadItem
	err := db.SelectContext(ctx, &items, `SELECT * FROM bad_items WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bad items: %w", err)
	}
	return items, nil
}
