// Package store keeps a local SQLite journal of call logs and ratings so the
// agent's history survives backend outages.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/callcenter/dialer/internal/model"
)

type DB struct {
	db *sql.DB
}

// Open opens (or creates) the journal at path and runs schema migrations.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	d := &DB{db: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS call_logs (
    attempt_id TEXT PRIMARY KEY,
    number TEXT NOT NULL,
    direction TEXT NOT NULL,
    started_at INTEGER NOT NULL,
    ended_at INTEGER NOT NULL,
    duration_sec INTEGER NOT NULL,
    disposition TEXT NOT NULL,
    failure_cause TEXT,
    failure_status_code INTEGER,
    agent_id TEXT,
    extension TEXT,
    campaign_id TEXT,
    contact_id TEXT,
    source TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_call_logs_ended ON call_logs(ended_at);

CREATE TABLE IF NOT EXISTS call_ratings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    number TEXT NOT NULL,
    duration_sec INTEGER NOT NULL,
    rating INTEGER NOT NULL,
    reason TEXT,
    agent_id TEXT,
    campaign_id TEXT,
    call_started_at INTEGER NOT NULL,
    submitted_at INTEGER NOT NULL
);
`
	_, err := d.db.Exec(schema)
	return err
}

// Name identifies the journal as a call log sink.
func (d *DB) Name() string { return "sqlite" }

// SaveCallLog inserts entry; a second save for the same attempt is ignored.
func (d *DB) SaveCallLog(ctx context.Context, e model.CallLogEntry) error {
	_, err := d.db.ExecContext(ctx, `
INSERT OR IGNORE INTO call_logs (attempt_id, number, direction, started_at, ended_at, duration_sec,
    disposition, failure_cause, failure_status_code, agent_id, extension, campaign_id, contact_id, source)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.AttemptID, e.Number, e.Direction, e.StartedAt.UnixMilli(), e.EndedAt.UnixMilli(), e.DurationSec,
		string(e.Disposition), e.FailureCause, e.FailureStatusCode, e.AgentID, e.Extension,
		e.CampaignID, e.ContactID, string(e.Source))
	if err != nil {
		return fmt.Errorf("insert call log %s: %w", e.AttemptID, err)
	}
	return nil
}

func (d *DB) SaveClassification(ctx context.Context, c model.Classification) error {
	_, err := d.db.ExecContext(ctx, `
INSERT INTO call_ratings (number, duration_sec, rating, reason, agent_id, campaign_id, call_started_at, submitted_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Number, c.DurationSec, c.Rating, c.Reason, c.AgentID, c.CampaignID,
		c.CallStartedAt.UnixMilli(), c.SubmittedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert rating: %w", err)
	}
	return nil
}

// RecentCallLogs returns up to limit entries, newest first.
func (d *DB) RecentCallLogs(ctx context.Context, limit int) ([]model.CallLogEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.db.QueryContext(ctx, `
SELECT attempt_id, number, direction, started_at, ended_at, duration_sec, disposition,
    COALESCE(failure_cause, ''), COALESCE(failure_status_code, 0), COALESCE(agent_id, ''),
    COALESCE(extension, ''), COALESCE(campaign_id, ''), COALESCE(contact_id, ''), source
FROM call_logs ORDER BY ended_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query call logs: %w", err)
	}
	defer rows.Close()

	var out []model.CallLogEntry
	for rows.Next() {
		var e model.CallLogEntry
		var started, ended int64
		var disp, source string
		if err := rows.Scan(&e.AttemptID, &e.Number, &e.Direction, &started, &ended, &e.DurationSec, &disp,
			&e.FailureCause, &e.FailureStatusCode, &e.AgentID, &e.Extension, &e.CampaignID, &e.ContactID, &source); err != nil {
			return nil, fmt.Errorf("scan call log: %w", err)
		}
		e.StartedAt = time.UnixMilli(started).UTC()
		e.EndedAt = time.UnixMilli(ended).UTC()
		e.Disposition = model.Disposition(disp)
		e.Source = model.CallSource(source)
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecentClassifications returns up to limit ratings, newest first.
func (d *DB) RecentClassifications(ctx context.Context, limit int) ([]model.Classification, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.db.QueryContext(ctx, `
SELECT number, duration_sec, rating, COALESCE(reason, ''), COALESCE(agent_id, ''),
    COALESCE(campaign_id, ''), call_started_at, submitted_at
FROM call_ratings ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query ratings: %w", err)
	}
	defer rows.Close()

	var out []model.Classification
	for rows.Next() {
		var c model.Classification
		var started, submitted int64
		if err := rows.Scan(&c.Number, &c.DurationSec, &c.Rating, &c.Reason, &c.AgentID, &c.CampaignID,
			&started, &submitted); err != nil {
			return nil, fmt.Errorf("scan rating: %w", err)
		}
		c.CallStartedAt = time.UnixMilli(started).UTC()
		c.SubmittedAt = time.UnixMilli(submitted).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// DispositionCounts summarizes the journal by disposition.
func (d *DB) DispositionCounts(ctx context.Context) (map[model.Disposition]int, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT disposition, COUNT(*) FROM call_logs GROUP BY disposition`)
	if err != nil {
		return nil, fmt.Errorf("count dispositions: %w", err)
	}
	defer rows.Close()

	out := make(map[model.Disposition]int)
	for rows.Next() {
		var disp string
		var n int
		if err := rows.Scan(&disp, &n); err != nil {
			return nil, fmt.Errorf("scan disposition count: %w", err)
		}
		out[model.Disposition(disp)] = n
	}
	return out, rows.Err()
}
