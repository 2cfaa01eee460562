package telemetry

// runMigrations creates the journal schema.
func (s *Store) runMigrations() error {
	migrations := []string{
		// One row per process run
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at DATETIME NOT NULL,
			ended_at DATETIME,
			config TEXT NOT NULL DEFAULT '{}'
		)`,

		// Lifecycle transitions
		`CREATE TABLE IF NOT EXISTS session_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			session_id TEXT NOT NULL DEFAULT '',
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			at DATETIME NOT NULL
		)`,

		// Router counters, one row per source per flush window
		`CREATE TABLE IF NOT EXISTS stream_stats (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			source TEXT NOT NULL CHECK(source IN ('front', 'rear')),
			window_start DATETIME NOT NULL,
			window_end DATETIME NOT NULL,
			received INTEGER NOT NULL DEFAULT 0,
			detected INTEGER NOT NULL DEFAULT 0,
			published INTEGER NOT NULL DEFAULT 0,
			cleared INTEGER NOT NULL DEFAULT 0,
			stale INTEGER NOT NULL DEFAULT 0,
			dropped_inactive INTEGER NOT NULL DEFAULT 0,
			dropped_busy INTEGER NOT NULL DEFAULT 0,
			dropped_throttled INTEGER NOT NULL DEFAULT 0,
			errors INTEGER NOT NULL DEFAULT 0
		)`,

		// Failed detections, keyed by the trace id written to the log
		`CREATE TABLE IF NOT EXISTS detection_errors (
			trace_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			source TEXT NOT NULL,
			produced_at INTEGER NOT NULL,
			message TEXT NOT NULL,
			at DATETIME NOT NULL
		)`,

		// Application settings as key-value pairs
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_session_events_run_id ON session_events(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_stream_stats_run_id ON stream_stats(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_detection_errors_run_id ON detection_errors(run_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
