package telemetry

import (
	"database/sql"
	"time"
)

// SessionEvent is one recorded lifecycle transition.
type SessionEvent struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	SessionID string    `json:"session_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// EventRepository provides access to session events.
type EventRepository struct {
	db *sql.DB
}

// Events returns the session event repository for this store.
func (s *Store) Events() *EventRepository {
	return &EventRepository{db: s.db}
}

// Create inserts an event and sets its ID.
func (r *EventRepository) Create(e *SessionEvent) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	result, err := r.db.Exec(
		`INSERT INTO session_events (run_id, session_id, from_state, to_state, reason, at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.RunID, e.SessionID, e.From, e.To, e.Reason, e.At,
	)
	if err != nil {
		return err
	}
	e.ID, err = result.LastInsertId()
	return err
}

// ListByRun returns the events of a run in the order they happened.
func (r *EventRepository) ListByRun(runID string) ([]SessionEvent, error) {
	return r.query(
		`SELECT id, run_id, session_id, from_state, to_state, reason, at
		 FROM session_events WHERE run_id = ? ORDER BY id`,
		runID,
	)
}

// Recent returns the latest limit events across all runs, newest first.
func (r *EventRepository) Recent(limit int) ([]SessionEvent, error) {
	return r.query(
		`SELECT id, run_id, session_id, from_state, to_state, reason, at
		 FROM session_events ORDER BY id DESC LIMIT ?`,
		limit,
	)
}

func (r *EventRepository) query(q string, args ...any) ([]SessionEvent, error) {
	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []SessionEvent
	for rows.Next() {
		var e SessionEvent
		if err := rows.Scan(&e.ID, &e.RunID, &e.SessionID, &e.From, &e.To, &e.Reason, &e.At); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
