package telemetry

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// Run is one launch of the duocam process.
type Run struct {
	ID        string          `json:"id"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
	Config    json.RawMessage `json:"config"`
}

// RunRepository provides access to runs.
type RunRepository struct {
	db *sql.DB
}

// Runs returns the run repository for this store.
func (s *Store) Runs() *RunRepository {
	return &RunRepository{db: s.db}
}

// Create inserts a new run.
func (r *RunRepository) Create(run *Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	config := run.Config
	if config == nil {
		config = json.RawMessage("{}")
	}

	_, err := r.db.Exec(
		`INSERT INTO runs (id, started_at, config) VALUES (?, ?, ?)`,
		run.ID, run.StartedAt, string(config),
	)
	return err
}

// Finish records the end time of a run.
func (r *RunRepository) Finish(id string, at time.Time) error {
	result, err := r.db.Exec(`UPDATE runs SET ended_at = ? WHERE id = ?`, at, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID retrieves a run by its ID.
func (r *RunRepository) GetByID(id string) (*Run, error) {
	run, err := scanRun(r.db.QueryRow(
		`SELECT id, started_at, ended_at, config FROM runs WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// List returns the most recent runs first, at most limit of them.
func (r *RunRepository) List(limit int) ([]*Run, error) {
	rows, err := r.db.Query(
		`SELECT id, started_at, ended_at, config FROM runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var ended sql.NullTime
	var config string

	if err := row.Scan(&run.ID, &run.StartedAt, &ended, &config); err != nil {
		return nil, err
	}
	if ended.Valid {
		t := ended.Time
		run.EndedAt = &t
	}
	run.Config = json.RawMessage(config)
	return run, nil
}
