// Package destore persists differential expression runs and per-gene results using SQLite.
package destore

import (
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Run describes one analysis run.
type Run struct {
	ID        string
	CreatedAt time.Time
	Test      string
	NControl  int
	NLesion   int
	NExcluded int
}

// GeneResult contains the DE result for a single gene.
// Undefined p-values and FDRs are stored as NULL.
type GeneResult struct {
	Gene        string
	MeanControl float64
	MeanLesion  float64
	Log2FC      float64
	PValue      float64
	FDR         float64
	Significant bool
}

// Store provides persistent storage for DE runs using SQLite.
type Store struct {
	db *sql.DB
}

// NewStore creates a new SQLite-based DE store.
func NewStore(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS de_runs (
		run_id TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		test TEXT NOT NULL,
		n_control INTEGER NOT NULL,
		n_lesion INTEGER NOT NULL,
		n_excluded INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS de_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		gene TEXT NOT NULL,
		mean_control REAL NOT NULL,
		mean_lesion REAL NOT NULL,
		log2fc REAL NOT NULL,
		p_value REAL,
		fdr REAL,
		significant INTEGER NOT NULL,
		FOREIGN KEY (run_id) REFERENCES de_runs(run_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_de_results_run ON de_results(run_id);
	CREATE INDEX IF NOT EXISTS idx_de_results_run_p ON de_results(run_id, p_value);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveRun inserts the run row and all gene results in one transaction.
func (s *Store) SaveRun(run *Run, results []*GeneResult) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO de_runs (run_id, created_at, test, n_control, n_lesion, n_excluded)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.ID, run.CreatedAt.UTC().Format(time.RFC3339), run.Test, run.NControl, run.NLesion, run.NExcluded)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO de_results (run_id, gene, mean_control, mean_lesion, log2fc, p_value, fdr, significant)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range results {
		_, err := stmt.Exec(
			run.ID, r.Gene,
			r.MeanControl, r.MeanLesion, r.Log2FC,
			nullFloat(r.PValue), nullFloat(r.FDR), r.Significant,
		)
		if err != nil {
			return fmt.Errorf("failed to insert result for %q: %w", r.Gene, err)
		}
	}

	return tx.Commit()
}

// GetRun retrieves a run by ID, or nil if absent.
func (s *Store) GetRun(runID string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT run_id, created_at, test, n_control, n_lesion, n_excluded
		FROM de_runs WHERE run_id = ?
	`, runID)

	var run Run
	var createdAtStr string
	err := row.Scan(&run.ID, &createdAtStr, &run.Test, &run.NControl, &run.NLesion, &run.NExcluded)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	run.CreatedAt, _ = time.Parse(time.RFC3339, createdAtStr)
	return &run, nil
}

// QueryResults returns the results of a run ordered by p-value, undefined p-values last.
func (s *Store) QueryResults(runID string, offset, limit int) ([]*GeneResult, int, error) {
	var total int
	err := s.db.QueryRow("SELECT COUNT(*) FROM de_results WHERE run_id = ?", runID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.db.Query(`
		SELECT gene, mean_control, mean_lesion, log2fc, p_value, fdr, significant
		FROM de_results
		WHERE run_id = ?
		ORDER BY p_value IS NULL, p_value ASC, ABS(log2fc) DESC, id ASC
		LIMIT ? OFFSET ?
	`, runID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var results []*GeneResult
	for rows.Next() {
		var r GeneResult
		var p, fdr sql.NullFloat64
		if err := rows.Scan(&r.Gene, &r.MeanControl, &r.MeanLesion, &r.Log2FC, &p, &fdr, &r.Significant); err != nil {
			return nil, 0, err
		}
		r.PValue = fromNull(p)
		r.FDR = fromNull(fdr)
		results = append(results, &r)
	}
	return results, total, rows.Err()
}

func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func fromNull(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
