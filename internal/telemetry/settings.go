package telemetry

import (
	"database/sql"
	"errors"

	jsoniter "github.com/json-iterator/go"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// SettingsRepository stores application settings as JSON values.
type SettingsRepository struct {
	db *sql.DB
}

// Settings returns the settings repository for this store.
func (s *Store) Settings() *SettingsRepository {
	return &SettingsRepository{db: s.db}
}

// Put stores v under key, replacing any previous value.
func (r *SettingsRepository) Put(key string, v any) error {
	data, err := codec.Marshal(v)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, string(data),
	)
	return err
}

// Get decodes the value stored under key into v. It returns ErrNotFound
// when the key is missing.
func (r *SettingsRepository) Get(key string, v any) error {
	var data string
	err := r.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return codec.Unmarshal([]byte(data), v)
}
