package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/home-monitor/video-svr/pkg/schema"
)

const defaultPassLimit = 20

// PassRecord is one row of the pass history.
type PassRecord struct {
	ID           string    `json:"id"`
	Mode         string    `json:"mode"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Intervals    int       `json:"intervals"`
	Moved        int       `json:"moved"`
	MoveFailed   int       `json:"move_failed"`
	Deleted      int       `json:"deleted"`
	DeleteFailed int       `json:"delete_failed"`
	Reported     int       `json:"reported"`
	Error        string    `json:"error,omitempty"`
}

// SQLiteStore keeps the pending report log and the pass history.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating when needed) the database at path and migrates it.
func Open(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := NewMigrationRunner(db).Run(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return NewSQLiteStore(db), nil
}

// NewSQLiteStore wraps an already-opened and migrated database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// AddPendingReports stores events whose report failed. An event already
// pending keeps its original entry.
func (s *SQLiteStore) AddPendingReports(ctx context.Context, passID string, events []schema.MotionEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO pending_reports (event_id, pass_id, payload, created_at)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", e.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, string(e.ID), passID, string(payload), now); err != nil {
			return fmt.Errorf("insert pending report %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// PendingReports returns the pending events, oldest first.
func (s *SQLiteStore) PendingReports(ctx context.Context) ([]schema.MotionEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM pending_reports ORDER BY created_at, rowid
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []schema.MotionEvent{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var e schema.MotionEvent
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return nil, fmt.Errorf("decode pending report: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ClearPendingReports removes the given events and returns how many were removed.
func (s *SQLiteStore) ClearPendingReports(ctx context.Context, ids []schema.EventID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = string(id)
	}

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM pending_reports WHERE event_id IN ("+placeholders+")", args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) CountPendingReports(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pending_reports").Scan(&n)
	return n, err
}

// RecordPass inserts or replaces a pass history row.
func (s *SQLiteStore) RecordPass(ctx context.Context, rec PassRecord) error {
	var finished sql.NullTime
	if !rec.FinishedAt.IsZero() {
		finished = sql.NullTime{Time: rec.FinishedAt.UTC(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO passes
			(id, mode, started_at, finished_at, intervals, moved, move_failed, deleted, delete_failed, reported, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Mode, rec.StartedAt.UTC(), finished,
		rec.Intervals, rec.Moved, rec.MoveFailed, rec.Deleted, rec.DeleteFailed, rec.Reported, rec.Error)
	if err != nil {
		return fmt.Errorf("record pass %s: %w", rec.ID, err)
	}
	return nil
}

// ListPasses returns up to limit passes, newest first.
func (s *SQLiteStore) ListPasses(ctx context.Context, limit int) ([]PassRecord, error) {
	if limit <= 0 {
		limit = defaultPassLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mode, started_at, finished_at, intervals, moved, move_failed, deleted, delete_failed, reported, error
		FROM passes ORDER BY started_at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	passes := []PassRecord{}
	for rows.Next() {
		var (
			p        PassRecord
			finished sql.NullTime
		)
		if err := rows.Scan(&p.ID, &p.Mode, &p.StartedAt, &finished, &p.Intervals, &p.Moved,
			&p.MoveFailed, &p.Deleted, &p.DeleteFailed, &p.Reported, &p.Error); err != nil {
			return nil, err
		}
		if finished.Valid {
			p.FinishedAt = finished.Time
		}
		passes = append(passes, p)
	}
	return passes, rows.Err()
}
