package telemetry

import (
	"database/sql"
	"time"
)

// DetectionError is a recorded failed detection.
type DetectionError struct {
	TraceID    string    `json:"trace_id"`
	RunID      string    `json:"run_id"`
	Source     string    `json:"source"`
	ProducedAt int64     `json:"produced_at"`
	Message    string    `json:"message"`
	At         time.Time `json:"at"`
}

// DetectionErrorRepository provides access to detection errors.
type DetectionErrorRepository struct {
	db *sql.DB
}

// DetectionErrors returns the detection error repository for this store.
func (s *Store) DetectionErrors() *DetectionErrorRepository {
	return &DetectionErrorRepository{db: s.db}
}

// Create inserts a detection error.
func (r *DetectionErrorRepository) Create(e *DetectionError) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := r.db.Exec(
		`INSERT INTO detection_errors (trace_id, run_id, source, produced_at, message, at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.TraceID, e.RunID, e.Source, e.ProducedAt, e.Message, e.At,
	)
	return err
}

// ListByRun returns a run's detection errors, newest first.
func (r *DetectionErrorRepository) ListByRun(runID string, limit int) ([]DetectionError, error) {
	rows, err := r.db.Query(
		`SELECT trace_id, run_id, source, produced_at, message, at
		 FROM detection_errors WHERE run_id = ? ORDER BY at DESC LIMIT ?`,
		runID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DetectionError
	for rows.Next() {
		var e DetectionError
		if err := rows.Scan(&e.TraceID, &e.RunID, &e.Source, &e.ProducedAt, &e.Message, &e.At); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns how many detection errors a run recorded.
func (r *DetectionErrorRepository) Count(runID string) (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM detection_errors WHERE run_id = ?`, runID).Scan(&n)
	return n, err
}
