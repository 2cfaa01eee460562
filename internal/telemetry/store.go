// Package telemetry keeps a SQLite journal of duocam runs: session
// transitions, per-stream frame statistics and detection errors.
package telemetry

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// busyTimeout is how long a statement waits on a locked database.
const busyTimeout = 5 * time.Second

// Store is the SQLite database behind the journal. Each repository accessor
// returns a thin view sharing the same connection.
type Store struct {
	db   *sql.DB
	path string
}

// New opens or creates the journal at dbPath and brings its schema up to
// date. Foreign keys are enforced so deleting a run removes its rows.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", dbPath, err)
	}
	// One writer at a time; pragmas are per connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open journal %s: %w", dbPath, err)
	}

	s := &Store{db: db, path: dbPath}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return s, nil
}

func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()))
	return "file:" + path + "?" + q.Encode()
}

// Prune deletes finished runs that started before cutoff, together with
// their events, stats and errors. It returns the number of runs removed.
func (s *Store) Prune(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec(
		`DELETE FROM runs WHERE ended_at IS NOT NULL AND started_at < ?`, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the connection for ad hoc queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}
