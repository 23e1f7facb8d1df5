// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package store records clustering runs and their categories in SQLite and
// persists round outputs as JSON files under the output directory.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/litreview-engine/pkg/types"
)

const defaultDBFile = "runs.db"

// ErrRunNotFound is returned when no run matches the requested ID.
var ErrRunNotFound = errors.New("run not found")

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Round names recorded on runs.
const (
	RoundOne = "round1"
	RoundTwo = "round2"
)

// Run is one execution of a clustering round.
type Run struct {
	ID        string    `json:"id" yaml:"id"`
	Round     string    `json:"round" yaml:"round"`
	Status    Status    `json:"status" yaml:"status"`
	Progress  int       `json:"progress" yaml:"progress"`
	Message   string    `json:"message" yaml:"message"`
	Score     float64   `json:"score" yaml:"score"`
	StartedAt time.Time `json:"started_at" yaml:"started_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Store manages the run database and the round output files.
type Store struct {
	db  *sql.DB
	dir string
	now func() time.Time
}

// Open opens or creates the run database at OutputDir/DBFile and creates
// the schema if it does not exist.
func Open(cfg types.StoreConfig) (*Store, error) {
	if cfg.OutputDir == "" {
		cfg.OutputDir = types.DefaultStoreConfig().OutputDir
	}
	if cfg.DBFile == "" {
		cfg.DBFile = defaultDBFile
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	dbPath := filepath.Join(cfg.OutputDir, cfg.DBFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, dir: cfg.OutputDir, now: time.Now}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Dir returns the output directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			round TEXT NOT NULL,
			status TEXT NOT NULL,
			progress INTEGER NOT NULL DEFAULT 0,
			message TEXT,
			score REAL,
			started_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_round ON runs(round, status)`,
		`CREATE TABLE IF NOT EXISTS categories (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			id TEXT NOT NULL,
			parent INTEGER NOT NULL,
			label INTEGER NOT NULL,
			level INTEGER NOT NULL,
			description TEXT,
			keywords TEXT,
			PRIMARY KEY (run_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS assignments (
			run_id TEXT NOT NULL,
			category_id TEXT NOT NULL,
			title TEXT NOT NULL,
			PRIMARY KEY (run_id, category_id, title),
			FOREIGN KEY (run_id, category_id) REFERENCES categories(run_id, id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_assignments_title ON assignments(title)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// StartRun records a new running run for round and returns it.
func (s *Store) StartRun(ctx context.Context, round string) (Run, error) {
	ts := s.timestamp()
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, round, status, progress, message, score, started_at, updated_at)
		 VALUES (?, ?, ?, 0, '', 0, ?, ?)`,
		id, round, string(StatusRunning), ts, ts,
	)
	if err != nil {
		return Run{}, fmt.Errorf("inserting run: %w", err)
	}
	return s.GetRun(ctx, id)
}

// UpdateProgress sets a running run's progress percentage and message.
func (s *Store) UpdateProgress(ctx context.Context, id string, progress int, message string) error {
	return s.update(ctx, id,
		`UPDATE runs SET progress = ?, message = ?, updated_at = ? WHERE id = ?`,
		min(max(progress, 0), 100), message, s.timestamp(), id)
}

// Complete marks a run completed with its final score.
func (s *Store) Complete(ctx context.Context, id string, score float64, message string) error {
	return s.update(ctx, id,
		`UPDATE runs SET status = ?, progress = 100, score = ?, message = ?, updated_at = ? WHERE id = ?`,
		string(StatusCompleted), score, message, s.timestamp(), id)
}

// Fail marks a run failed and records the cause.
func (s *Store) Fail(ctx context.Context, id string, cause error) error {
	msg := "failed"
	if cause != nil {
		msg = cause.Error()
	}
	return s.update(ctx, id,
		`UPDATE runs SET status = ?, message = ?, updated_at = ? WHERE id = ?`,
		string(StatusFailed), msg, s.timestamp(), id)
}

func (s *Store) update(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating run %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

const runColumns = `id, round, status, progress, message, score, started_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		r                Run
		status           string
		message          sql.NullString
		score            sql.NullFloat64
		started, updated string
	)
	if err := row.Scan(&r.ID, &r.Round, &status, &r.Progress, &message, &score, &started, &updated); err != nil {
		return Run{}, err
	}
	r.Status = Status(status)
	r.Message = message.String
	r.Score = score.Float64
	r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return r, nil
}

// GetRun returns the run with the given ID.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return Run{}, fmt.Errorf("reading run %s: %w", id, err)
	}
	return r, nil
}

// ListRuns returns the most recent runs first. A limit of zero or less
// returns every run.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, rowid DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestCompleted returns the most recent completed run of round.
func (s *Store) LatestCompleted(ctx context.Context, round string) (Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE round = ? AND status = ?
		 ORDER BY started_at DESC, rowid DESC LIMIT 1`,
		round, string(StatusCompleted)))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: no completed %s run", ErrRunNotFound, round)
	}
	if err != nil {
		return Run{}, fmt.Errorf("reading latest %s run: %w", round, err)
	}
	return r, nil
}

// SaveCategories replaces the categories and member assignments of a run.
func (s *Store) SaveCategories(ctx context.Context, runID string, cats []types.CategoryRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM categories WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("deleting old categories: %w", err)
	}

	catStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO categories (run_id, id, parent, label, level, description, keywords)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing category insert: %w", err)
	}
	defer catStmt.Close()

	memberStmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO assignments (run_id, category_id, title) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing assignment insert: %w", err)
	}
	defer memberStmt.Close()

	for _, c := range cats {
		keywordsJSON, _ := json.Marshal(c.Keywords)
		if _, err := catStmt.ExecContext(ctx,
			runID, c.ID, c.Parent, c.Label, c.Level, c.Description, string(keywordsJSON),
		); err != nil {
			return fmt.Errorf("inserting category %s: %w", c.ID, err)
		}
		for _, title := range c.Members {
			if _, err := memberStmt.ExecContext(ctx, runID, c.ID, title); err != nil {
				return fmt.Errorf("inserting member of %s: %w", c.ID, err)
			}
		}
	}
	return tx.Commit()
}

// Categories returns the categories of a run ordered by level, parent and
// label, with members sorted by title.
func (s *Store) Categories(ctx context.Context, runID string) ([]types.CategoryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, parent, label, level, description, keywords FROM categories
		 WHERE run_id = ? ORDER BY level, parent, label`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying categories: %w", err)
	}
	defer rows.Close()

	var out []types.CategoryRecord
	index := make(map[string]int)
	for rows.Next() {
		var (
			c            types.CategoryRecord
			desc, kwJSON sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.Parent, &c.Label, &c.Level, &desc, &kwJSON); err != nil {
			return nil, fmt.Errorf("scanning category: %w", err)
		}
		c.Description = desc.String
		if kwJSON.Valid && kwJSON.String != "" {
			json.Unmarshal([]byte(kwJSON.String), &c.Keywords)
		}
		index[c.ID] = len(out)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	members, err := s.db.QueryContext(ctx,
		`SELECT category_id, title FROM assignments WHERE run_id = ? ORDER BY title`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying assignments: %w", err)
	}
	defer members.Close()
	for members.Next() {
		var id, title string
		if err := members.Scan(&id, &title); err != nil {
			return nil, fmt.Errorf("scanning assignment: %w", err)
		}
		if i, ok := index[id]; ok {
			out[i].Members = append(out[i].Members, title)
		}
	}
	return out, members.Err()
}
