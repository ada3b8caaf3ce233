// ABOUTME: SQLite journal of discovery cycles for monitoring and debugging.
// ABOUTME: Records per-cycle agent totals and failures, newest first on read.

package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Cycle is one recorded discovery cycle. A failed cycle has Error set and
// zero agent counts.
type Cycle struct {
	ID            string // UUID v4, generated on record if empty
	StartedAt     time.Time
	FinishedAt    time.Time
	SessionName   string
	AgentsTotal   int
	AgentsNew     int
	AgentsStale   int
	AgentsDropped int
	Error         string
}

// Journal persists discovery cycles to SQLite.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the journal database at the given path. The schema
// is created automatically and parent directories are created if needed.
func Open(path string) (*Journal, error) {
	logger := slog.Default().With("component", "journal")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal database: %w", err)
	}

	// WAL mode so readers never block a recording writer.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	j := &Journal{db: db, logger: logger}
	if err := j.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating journal schema: %w", err)
	}
	return j, nil
}

// createSchema creates the cycles table if it does not exist.
func (j *Journal) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS cycles (
			cycle_id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			session_name TEXT NOT NULL DEFAULT '',
			agents_total INTEGER NOT NULL DEFAULT 0,
			agents_new INTEGER NOT NULL DEFAULT 0,
			agents_stale INTEGER NOT NULL DEFAULT 0,
			agents_dropped INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_cycles_started ON cycles(started_at);
	`
	if _, err := j.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Record appends one cycle to the journal, generating its ID if unset.
func (j *Journal) Record(ctx context.Context, c *Cycle) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}

	query := `
		INSERT INTO cycles (cycle_id, started_at, finished_at, session_name, agents_total, agents_new, agents_stale, agents_dropped, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := j.db.ExecContext(ctx, query,
		c.ID,
		c.StartedAt.UTC().Format(time.RFC3339Nano),
		c.FinishedAt.UTC().Format(time.RFC3339Nano),
		c.SessionName,
		c.AgentsTotal,
		c.AgentsNew,
		c.AgentsStale,
		c.AgentsDropped,
		c.Error,
	)
	if err != nil {
		return fmt.Errorf("inserting cycle: %w", err)
	}

	j.logger.Debug("recorded discovery cycle",
		"id", c.ID,
		"agents", c.AgentsTotal,
		"new", c.AgentsNew,
		"dropped", c.AgentsDropped,
	)
	return nil
}

// normalizeLimit applies default (20) and cap (500) to list limits.
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 20
	case limit > 500:
		return 500
	default:
		return limit
	}
}

// List returns the most recent cycles, newest first.
func (j *Journal) List(ctx context.Context, limit int) ([]Cycle, error) {
	query := `
		SELECT cycle_id, started_at, finished_at, session_name, agents_total, agents_new, agents_stale, agents_dropped, error
		FROM cycles
		ORDER BY started_at DESC
		LIMIT ?
	`
	rows, err := j.db.QueryContext(ctx, query, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying cycles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cycles := []Cycle{}
	for rows.Next() {
		var c Cycle
		var startedStr, finishedStr string
		if err := rows.Scan(
			&c.ID,
			&startedStr,
			&finishedStr,
			&c.SessionName,
			&c.AgentsTotal,
			&c.AgentsNew,
			&c.AgentsStale,
			&c.AgentsDropped,
			&c.Error,
		); err != nil {
			return nil, fmt.Errorf("scanning cycle: %w", err)
		}
		if c.StartedAt, err = time.Parse(time.RFC3339Nano, startedStr); err != nil {
			return nil, fmt.Errorf("parsing started_at: %w", err)
		}
		if c.FinishedAt, err = time.Parse(time.RFC3339Nano, finishedStr); err != nil {
			return nil, fmt.Errorf("parsing finished_at: %w", err)
		}
		cycles = append(cycles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cycles: %w", err)
	}
	return cycles, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}
