// Package storage provides a SQLite-backed ledger of segmentation runs.
// Each run records its market summaries, flow panels and merged panels under
// a run ID so earlier results can be compared after the CSV tree is rewritten.
//
// The database is opened with the pure-Go modernc.org/sqlite driver; ":memory:"
// gives a private in-memory database for tests.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/rewired-gh/polysegment/internal/models"
)

// ErrNotFound is returned when a requested run does not exist.
var ErrNotFound = errors.New("not found")

const schemaVersion = 1

// timeLayout has fixed-width fractions so stored times sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    started_at TEXT NOT NULL,
    finished_at TEXT NOT NULL,
    events INTEGER NOT NULL,
    markets INTEGER NOT NULL,
    skipped INTEGER NOT NULL,
    failed INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS market_summaries (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    event_id TEXT NOT NULL,
    market_id TEXT NOT NULL,
    event_slug TEXT NOT NULL,
    market_slug TEXT NOT NULL,
    event_title TEXT NOT NULL,
    market_title TEXT NOT NULL,
    total_trades INTEGER NOT NULL,
    whale_threshold REAL,
    PRIMARY KEY (run_id, event_id, market_id)
);

CREATE TABLE IF NOT EXISTS bucket_stats (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    event_id TEXT NOT NULL,
    market_id TEXT NOT NULL,
    segment TEXT NOT NULL,
    trades INTEGER NOT NULL,
    volume REAL NOT NULL,
    share REAL,
    max_amount REAL,
    PRIMARY KEY (run_id, event_id, market_id, segment)
);

CREATE TABLE IF NOT EXISTS flow_panels (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    event_id TEXT NOT NULL,
    market_id TEXT NOT NULL,
    segment TEXT NOT NULL,
    day INTEGER NOT NULL,
    h_y REAL NOT NULL,
    h_n REAL NOT NULL,
    p_segment REAL,
    PRIMARY KEY (run_id, event_id, market_id, segment, day)
);

CREATE TABLE IF NOT EXISTS merged_panels (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    event_id TEXT NOT NULL,
    market_id TEXT NOT NULL,
    day INTEGER NOT NULL,
    p_whale REAL,
    p_large REAL,
    p_medium REAL,
    p_small REAL,
    p_market REAL,
    PRIMARY KEY (run_id, event_id, market_id, day)
);
CREATE INDEX IF NOT EXISTS idx_runs_finished ON runs(finished_at);
`

// Run is one pipeline run.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Events     int
	Markets    int
	Skipped    int
	Failed     int
}

// MarketRecord is everything persisted for one market of a run.
type MarketRecord struct {
	EventID    string
	Summary    models.MarketSummary
	FlowPanels [4][]models.FlowPanelRow // Indexed by Bucket; nil when absent
	Merged     []models.MergedPanelRow
}

// Storage is the run ledger.
type Storage struct {
	db *sql.DB
}

// New opens (creating if needed) the database at dbPath and applies the schema.
func New(dbPath string) (*Storage, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// An in-memory database is private to its connection.
	db.SetMaxOpenConns(1)

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Storage) migrate() error {
	if _, err := s.db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	if _, err := s.db.Exec("INSERT OR IGNORE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Storage) Close() error {
	return s.db.Close()
}

// SaveRun stores a run and its markets in one transaction. A run without an
// ID is assigned a new UUID; the stored ID is returned.
func (s *Storage) SaveRun(ctx context.Context, run Run, markets []MarketRecord) (string, error) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, finished_at, events, markets, skipped, failed) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, formatTime(run.StartedAt), formatTime(run.FinishedAt), run.Events, run.Markets, run.Skipped, run.Failed,
	); err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}

	summaryStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO market_summaries (run_id, event_id, market_id, event_slug, market_slug, event_title, market_title, total_trades, whale_threshold)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare summary insert: %w", err)
	}
	defer summaryStmt.Close()

	bucketStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO bucket_stats (run_id, event_id, market_id, segment, trades, volume, share, max_amount) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare bucket insert: %w", err)
	}
	defer bucketStmt.Close()

	flowStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO flow_panels (run_id, event_id, market_id, segment, day, h_y, h_n, p_segment) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare flow panel insert: %w", err)
	}
	defer flowStmt.Close()

	mergedStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO merged_panels (run_id, event_id, market_id, day, p_whale, p_large, p_medium, p_small, p_market) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare merged panel insert: %w", err)
	}
	defer mergedStmt.Close()

	for _, m := range markets {
		sum := m.Summary
		if _, err := summaryStmt.ExecContext(ctx, run.ID, m.EventID, sum.MarketID, sum.EventSlug, sum.MarketSlug,
			sum.EventTitle, sum.MarketTitle, sum.TotalTrades, sum.WhaleThreshold); err != nil {
			return "", fmt.Errorf("failed to insert summary for %s:%s: %w", m.EventID, sum.MarketID, err)
		}

		for _, b := range models.PreferenceOrder {
			stats := sum.Buckets[b]
			if _, err := bucketStmt.ExecContext(ctx, run.ID, m.EventID, sum.MarketID, b.String(),
				stats.Count, stats.Volume, stats.Share, stats.Max); err != nil {
				return "", fmt.Errorf("failed to insert %s stats for %s:%s: %w", b, m.EventID, sum.MarketID, err)
			}
			for _, r := range m.FlowPanels[b] {
				if _, err := flowStmt.ExecContext(ctx, run.ID, m.EventID, r.MarketID, r.Segment.String(),
					r.Day, r.HY, r.HN, r.PSegment); err != nil {
					return "", fmt.Errorf("failed to insert flow panel row for %s:%s: %w", m.EventID, sum.MarketID, err)
				}
			}
		}

		for _, r := range m.Merged {
			if _, err := mergedStmt.ExecContext(ctx, run.ID, m.EventID, sum.MarketID, r.Day,
				r.PWhale, r.PLarge, r.PMedium, r.PSmall, r.PMarket); err != nil {
				return "", fmt.Errorf("failed to insert merged panel row for %s:%s: %w", m.EventID, sum.MarketID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit run: %w", err)
	}
	return run.ID, nil
}

// LatestRun returns the most recently finished run.
func (s *Storage) LatestRun(ctx context.Context) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, finished_at, events, markets, skipped, failed FROM runs ORDER BY finished_at DESC, rowid DESC LIMIT 1`)

	var run Run
	var started, finished string
	err := row.Scan(&run.ID, &started, &finished, &run.Events, &run.Markets, &run.Skipped, &run.Failed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest run: %w", err)
	}
	if run.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	if run.FinishedAt, err = parseTime(finished); err != nil {
		return nil, err
	}
	return &run, nil
}

// MarketSummaries returns a run's summaries ordered by (event, market).
func (s *Storage) MarketSummaries(ctx context.Context, runID string) ([]models.MarketSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, market_id, event_slug, market_slug, event_title, market_title, total_trades, whale_threshold
		 FROM market_summaries WHERE run_id = ? ORDER BY event_id, market_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query summaries: %w", err)
	}
	defer rows.Close()

	type key struct{ event, market string }
	var summaries []models.MarketSummary
	index := make(map[key]int)
	for rows.Next() {
		var eventID string
		var sum models.MarketSummary
		if err := rows.Scan(&eventID, &sum.MarketID, &sum.EventSlug, &sum.MarketSlug, &sum.EventTitle,
			&sum.MarketTitle, &sum.TotalTrades, &sum.WhaleThreshold); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		index[key{eventID, sum.MarketID}] = len(summaries)
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read summaries: %w", err)
	}

	statRows, err := s.db.QueryContext(ctx,
		`SELECT event_id, market_id, segment, trades, volume, share, max_amount FROM bucket_stats WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bucket stats: %w", err)
	}
	defer statRows.Close()

	for statRows.Next() {
		var eventID, marketID, segment string
		var stats models.BucketStats
		if err := statRows.Scan(&eventID, &marketID, &segment, &stats.Count, &stats.Volume, &stats.Share, &stats.Max); err != nil {
			return nil, fmt.Errorf("failed to scan bucket stats: %w", err)
		}
		b, err := models.ParseBucket(segment)
		if err != nil {
			return nil, fmt.Errorf("invalid stored segment: %w", err)
		}
		if i, ok := index[key{eventID, marketID}]; ok {
			summaries[i].Buckets[b] = stats
		}
	}
	if err := statRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read bucket stats: %w", err)
	}
	return summaries, nil
}

// FlowPanel returns one bucket's stored flow panel ordered by day.
func (s *Storage) FlowPanel(ctx context.Context, runID, eventID, marketID string, b models.Bucket) ([]models.FlowPanelRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT day, h_y, h_n, p_segment FROM flow_panels
		 WHERE run_id = ? AND event_id = ? AND market_id = ? AND segment = ? ORDER BY day`,
		runID, eventID, marketID, b.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query flow panel: %w", err)
	}
	defer rows.Close()

	var panel []models.FlowPanelRow
	for rows.Next() {
		r := models.FlowPanelRow{Segment: b, MarketID: marketID}
		if err := rows.Scan(&r.Day, &r.HY, &r.HN, &r.PSegment); err != nil {
			return nil, fmt.Errorf("failed to scan flow panel row: %w", err)
		}
		panel = append(panel, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read flow panel: %w", err)
	}
	return panel, nil
}

// MergedPanel returns a market's stored merged panel ordered by day.
func (s *Storage) MergedPanel(ctx context.Context, runID, eventID, marketID string) ([]models.MergedPanelRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT day, p_whale, p_large, p_medium, p_small, p_market FROM merged_panels
		 WHERE run_id = ? AND event_id = ? AND market_id = ? ORDER BY day`,
		runID, eventID, marketID)
	if err != nil {
		return nil, fmt.Errorf("failed to query merged panel: %w", err)
	}
	defer rows.Close()

	var panel []models.MergedPanelRow
	for rows.Next() {
		var r models.MergedPanelRow
		if err := rows.Scan(&r.Day, &r.PWhale, &r.PLarge, &r.PMedium, &r.PSmall, &r.PMarket); err != nil {
			return nil, fmt.Errorf("failed to scan merged panel row: %w", err)
		}
		panel = append(panel, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read merged panel: %w", err)
	}
	return panel, nil
}

// DeleteRun removes a run and everything stored under it.
func (s *Storage) DeleteRun(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, runID)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored time %q: %w", s, err)
	}
	return t, nil
}
