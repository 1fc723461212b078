package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetPreference returns the value stored under key. ok is false when the
// key has never been written.
func (s *Storage) GetPreference(key string) (value string, ok bool, err error) {
	err = s.db.QueryRow("SELECT value FROM preferences WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get preference %q: %w", key, err)
	}
	return value, true, nil
}

// PutPreference stores value under key, replacing any previous value.
func (s *Storage) PutPreference(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to put preference %q: %w", key, err)
	}
	return nil
}
