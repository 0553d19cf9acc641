// Package storage provides the SQLite-backed run catalog and promotion log.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/pmoforecast/internal/models"
	_ "modernc.org/sqlite"
)

// Storage wraps a SQLite database for all catalog operations.
type Storage struct {
	db      *sql.DB
	maxRuns int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/pmoforecast/catalog.db.
// maxRuns caps the catalog size; 0 keeps every run. Pruning drops catalog
// rows only and leaves run directories on disk.
func New(maxRuns int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "pmoforecast", "catalog.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db, maxRuns: maxRuns}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// MaxRuns returns the catalog cap, 0 when unlimited.
func (s *Storage) MaxRuns() int {
	return s.maxRuns
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_key       TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			run_id        TEXT NOT NULL,
			session_id    TEXT,
			framework     TEXT NOT NULL,
			path          TEXT NOT NULL,
			model_file    TEXT,
			metrics       TEXT NOT NULL DEFAULT '{}',
			config        TEXT NOT NULL DEFAULT '{}',
			registered_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS promotions (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL,
			run_id       TEXT NOT NULL,
			metric       TEXT NOT NULL,
			value        REAL NOT NULL,
			champion_dir TEXT NOT NULL,
			promoted_at  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_name ON runs(name, run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_promotions_at ON promotions(promoted_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveRun inserts or replaces a run. A replaced run moves to the end of the
// registration order.
func (s *Storage) SaveRun(run *models.RunRecord) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}
	metricsJSON, err := json.Marshal(nonNilMetrics(run.Metrics))
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}
	configJSON, err := json.Marshal(nonNilConfig(run.Config))
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO runs
			(run_key, name, run_id, session_id, framework, path, model_file,
			 metrics, config, registered_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		run.Key(), run.Name, run.RunID, run.SessionID, run.Framework, run.Path, run.ModelFile,
		string(metricsJSON), string(configJSON), run.RegisteredAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	if s.maxRuns > 0 {
		if _, err = tx.Exec(`
			DELETE FROM runs WHERE rowid NOT IN (
				SELECT rowid FROM runs ORDER BY rowid DESC LIMIT ?
			)`, s.maxRuns); err != nil {
			return fmt.Errorf("failed to enforce run cap: %w", err)
		}
	}

	return tx.Commit()
}

// GetRun returns the run with the exact name and run id.
func (s *Storage) GetRun(name, runID string) (*models.RunRecord, error) {
	row := s.db.QueryRow(`SELECT `+runCols+` FROM runs WHERE run_key = ?`, models.RunKey(name, runID))
	r, err := scanRun(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", models.RunKey(name, runID), models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return r, nil
}

// LatestRun returns the most recently registered run of name.
func (s *Storage) LatestRun(name string) (*models.RunRecord, error) {
	row := s.db.QueryRow(`SELECT `+runCols+` FROM runs WHERE name = ? ORDER BY rowid DESC LIMIT 1`, name)
	r, err := scanRun(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("model %q: %w", name, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return r, nil
}

// ListRuns returns every run in registration order.
func (s *Storage) ListRuns() ([]*models.RunRecord, error) {
	rows, err := s.db.Query(`SELECT ` + runCols + ` FROM runs ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()
	runs := []*models.RunRecord{}
	for rows.Next() {
		r, err := scanRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// UpdateRunMetrics replaces the metrics of an existing run in place.
func (s *Storage) UpdateRunMetrics(name, runID string, metrics map[string]float64) error {
	metricsJSON, err := json.Marshal(nonNilMetrics(metrics))
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}
	res, err := s.db.Exec(`UPDATE runs SET metrics=? WHERE run_key=?`, string(metricsJSON), models.RunKey(name, runID))
	if err != nil {
		return fmt.Errorf("failed to update metrics: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("run %s: %w", models.RunKey(name, runID), models.ErrNotFound)
	}
	return nil
}

// AddPromotion records a champion promotion. An empty ID is assigned.
func (s *Storage) AddPromotion(p *models.Promotion) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	_, err := s.db.Exec(`
		INSERT INTO promotions (id, name, run_id, metric, value, champion_dir, promoted_at)
		VALUES (?,?,?,?,?,?,?)`,
		p.ID, p.Name, p.RunID, p.Metric, p.Value, p.ChampionDir, p.PromotedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert promotion: %w", err)
	}
	return nil
}

// LatestPromotion returns the newest promotion, or nil when none exists.
func (s *Storage) LatestPromotion() (*models.Promotion, error) {
	ps, err := s.Promotions(1)
	if err != nil {
		return nil, err
	}
	if len(ps) == 0 {
		return nil, nil
	}
	return &ps[0], nil
}

// Promotions returns up to k promotions, newest first.
func (s *Storage) Promotions(k int) ([]models.Promotion, error) {
	rows, err := s.db.Query(`
		SELECT id, name, run_id, metric, value, champion_dir, promoted_at
		FROM promotions ORDER BY promoted_at DESC, rowid DESC LIMIT ?`, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query promotions: %w", err)
	}
	defer rows.Close()

	var out []models.Promotion
	for rows.Next() {
		var p models.Promotion
		var promotedAtNano int64
		if err := rows.Scan(&p.ID, &p.Name, &p.RunID, &p.Metric, &p.Value, &p.ChampionDir, &promotedAtNano); err != nil {
			return nil, fmt.Errorf("failed to scan promotion: %w", err)
		}
		p.PromotedAt = time.Unix(0, promotedAtNano)
		out = append(out, p)
	}
	return out, rows.Err()
}

const runCols = `name, run_id, session_id, framework, path, model_file, metrics, config, registered_at`

func scanRun(scan func(...any) error) (*models.RunRecord, error) {
	var r models.RunRecord
	var sessionID, modelFile sql.NullString
	var metricsJSON, configJSON string
	var registeredAtNano int64
	err := scan(
		&r.Name, &r.RunID, &sessionID, &r.Framework, &r.Path, &modelFile,
		&metricsJSON, &configJSON, &registeredAtNano,
	)
	if err != nil {
		return nil, err
	}
	r.SessionID = sessionID.String
	r.ModelFile = modelFile.String
	if err := json.Unmarshal([]byte(metricsJSON), &r.Metrics); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metrics: %w", err)
	}
	if err := json.Unmarshal([]byte(configJSON), &r.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	r.RegisteredAt = time.Unix(0, registeredAtNano)
	return &r, nil
}

func nonNilMetrics(m map[string]float64) map[string]float64 {
	if m == nil {
		return map[string]float64{}
	}
	return m
}

func nonNilConfig(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
