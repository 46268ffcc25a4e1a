package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/yegors/atc-scanner/pkg/logger"
)

// SessionStorage records scanner runs
type SessionStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewSessionStorage creates a new SQLite session storage
func NewSessionStorage(db *sql.DB, logger *logger.Logger) (*SessionStorage, error) {
	storage := &SessionStorage{
		db:     db,
		logger: logger.Named("sqlite-sess"),
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS scanner_sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			is_active INTEGER NOT NULL DEFAULT 1,
			transmissions_count INTEGER NOT NULL DEFAULT 0,
			settings_snapshot TEXT NOT NULL DEFAULT '{}'
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create scanner_sessions table: %w", err)
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON scanner_sessions(started_at DESC)`); err != nil {
		return nil, fmt.Errorf("failed to create session index: %w", err)
	}

	return storage, nil
}

// StartSession opens a session and returns its ID
func (s *SessionStorage) StartSession(settings map[string]interface{}) (int64, error) {
	if settings == nil {
		settings = map[string]interface{}{}
	}
	snapshot, err := json.Marshal(settings)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal settings snapshot: %w", err)
	}

	result, err := s.db.Exec(
		`INSERT INTO scanner_sessions (started_at, is_active, transmissions_count, settings_snapshot)
		VALUES (?, 1, 0, ?)`,
		time.Now().UTC().Format(time.RFC3339),
		string(snapshot),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert session: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	return id, nil
}

// IncrementTransmissions bumps a session's transmission count
func (s *SessionStorage) IncrementTransmissions(id int64) error {
	_, err := s.db.Exec(
		`UPDATE scanner_sessions SET transmissions_count = transmissions_count + 1 WHERE id = ?`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update session count: %w", err)
	}
	return nil
}

// EndSession marks a session inactive
func (s *SessionStorage) EndSession(id int64) error {
	_, err := s.db.Exec(
		`UPDATE scanner_sessions SET is_active = 0, ended_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	return nil
}

// CloseStaleSessions ends sessions left active by a previous process
func (s *SessionStorage) CloseStaleSessions() (int64, error) {
	result, err := s.db.Exec(
		`UPDATE scanner_sessions SET is_active = 0, ended_at = ? WHERE is_active = 1`,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to close stale sessions: %w", err)
	}
	return result.RowsAffected()
}

// GetRecentSessions returns the newest sessions first
func (s *SessionStorage) GetRecentSessions(limit int) ([]*SessionRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, started_at, ended_at, is_active, transmissions_count, settings_snapshot
		FROM scanner_sessions
		ORDER BY id DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*SessionRecord{}
	for rows.Next() {
		var rec SessionRecord
		var startedAt, snapshot string
		var endedAt sql.NullString
		var active int

		if err := rows.Scan(&rec.ID, &startedAt, &endedAt, &active, &rec.TransmissionsCount, &snapshot); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}

		rec.StartedAt, err = time.Parse(time.RFC3339, startedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse started_at: %w", err)
		}
		if endedAt.Valid {
			t, err := time.Parse(time.RFC3339, endedAt.String)
			if err != nil {
				return nil, fmt.Errorf("failed to parse ended_at: %w", err)
			}
			rec.EndedAt = &t
		}
		rec.IsActive = active != 0

		if err := json.Unmarshal([]byte(snapshot), &rec.SettingsSnapshot); err != nil {
			s.logger.Warn("Ignoring unreadable settings snapshot",
				logger.Int64("session_id", rec.ID),
				logger.Error(err))
		}

		sessions = append(sessions, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	return sessions, nil
}
