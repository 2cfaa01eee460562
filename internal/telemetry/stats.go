package telemetry

import (
	"database/sql"
	"time"
)

// StreamStats is one flush window of router counters for a source.
type StreamStats struct {
	ID               int64     `json:"id"`
	RunID            string    `json:"run_id"`
	Source           string    `json:"source"`
	WindowStart      time.Time `json:"window_start"`
	WindowEnd        time.Time `json:"window_end"`
	Received         uint64    `json:"received"`
	Detected         uint64    `json:"detected"`
	Published        uint64    `json:"published"`
	Cleared          uint64    `json:"cleared"`
	Stale            uint64    `json:"stale"`
	DroppedInactive  uint64    `json:"dropped_inactive"`
	DroppedBusy      uint64    `json:"dropped_busy"`
	DroppedThrottled uint64    `json:"dropped_throttled"`
	Errors           uint64    `json:"errors"`
}

// StatsRepository provides access to stream statistics.
type StatsRepository struct {
	db *sql.DB
}

// Stats returns the stream statistics repository for this store.
func (s *Store) Stats() *StatsRepository {
	return &StatsRepository{db: s.db}
}

// CreateBatch inserts several windows in a single transaction.
func (r *StatsRepository) CreateBatch(stats []StreamStats) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO stream_stats (run_id, source, window_start, window_end, received, detected,
			published, cleared, stale, dropped_inactive, dropped_busy, dropped_throttled, errors)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range stats {
		if _, err := stmt.Exec(
			s.RunID, s.Source, s.WindowStart, s.WindowEnd,
			int64(s.Received), int64(s.Detected), int64(s.Published), int64(s.Cleared), int64(s.Stale),
			int64(s.DroppedInactive), int64(s.DroppedBusy), int64(s.DroppedThrottled), int64(s.Errors),
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Totals sums every window of a run per source.
func (r *StatsRepository) Totals(runID string) ([]StreamStats, error) {
	rows, err := r.db.Query(
		`SELECT source, MIN(window_start), MAX(window_end),
			SUM(received), SUM(detected), SUM(published), SUM(cleared), SUM(stale),
			SUM(dropped_inactive), SUM(dropped_busy), SUM(dropped_throttled), SUM(errors)
		 FROM stream_stats WHERE run_id = ? GROUP BY source ORDER BY source`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StreamStats
	for rows.Next() {
		s := StreamStats{RunID: runID}
		var start, end string
		var received, detected, published, cleared, stale, inactive, busy, throttled, errs int64
		if err := rows.Scan(&s.Source, &start, &end,
			&received, &detected, &published, &cleared, &stale, &inactive, &busy, &throttled, &errs); err != nil {
			return nil, err
		}
		s.WindowStart = parseTime(start)
		s.WindowEnd = parseTime(end)
		s.Received, s.Detected, s.Published = uint64(received), uint64(detected), uint64(published)
		s.Cleared, s.Stale = uint64(cleared), uint64(stale)
		s.DroppedInactive, s.DroppedBusy, s.DroppedThrottled = uint64(inactive), uint64(busy), uint64(throttled)
		s.Errors = uint64(errs)
		out = append(out, s)
	}
	return out, rows.Err()
}

// parseTime reads a time aggregated by SQLite, which loses the column type.
func parseTime(v string) time.Time {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999-07:00",
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}
