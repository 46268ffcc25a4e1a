package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/yegors/atc-scanner/internal/scanner"
	"github.com/yegors/atc-scanner/pkg/logger"
)

// TransmissionStorage handles storage of delivered transmissions
type TransmissionStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewTransmissionStorage creates a new SQLite transmission storage
func NewTransmissionStorage(db *sql.DB, logger *logger.Logger) (*TransmissionStorage, error) {
	storage := &TransmissionStorage{
		db:     db,
		logger: logger.Named("sqlite-tx"),
	}

	if err := storage.initDB(); err != nil {
		return nil, err
	}

	return storage, nil
}

// initDB initializes the database tables
func (s *TransmissionStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS audio_transmissions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			transmission_id INTEGER NOT NULL UNIQUE,
			url TEXT NOT NULL,
			who_from TEXT NOT NULL,
			frequency TEXT NOT NULL,
			station_name TEXT NOT NULL,
			pilot TEXT NOT NULL,
			airport TEXT NOT NULL,
			position TEXT NOT NULL,
			voice_name TEXT NOT NULL,
			from_userid TEXT NOT NULL,
			flight_rules TEXT NOT NULL,
			latitude REAL,
			longitude REAL,
			stamp TEXT,
			timestamp TEXT NOT NULL,
			created_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create audio_transmissions table: %w", err)
	}

	// Databases created before the stamp column existed
	var hasStamp int
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info('audio_transmissions') WHERE name = 'stamp'`,
	).Scan(&hasStamp); err != nil {
		return fmt.Errorf("failed to inspect audio_transmissions: %w", err)
	}
	if hasStamp == 0 {
		if _, err := s.db.Exec(`ALTER TABLE audio_transmissions ADD COLUMN stamp TEXT`); err != nil {
			return fmt.Errorf("failed to add stamp column: %w", err)
		}
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_transmissions_tid ON audio_transmissions(transmission_id DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_transmissions_airport ON audio_transmissions(airport)`,
		`CREATE INDEX IF NOT EXISTS idx_transmissions_flight_rules ON audio_transmissions(flight_rules)`,
	}

	for _, indexSQL := range indexes {
		if _, err := s.db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create transmission index: %w", err)
		}
	}

	return nil
}

// StoreTransmission stores a delivered record. A transmission ID that is already
// stored is ignored and reported as not inserted. The upstream stamp is kept verbatim;
// timestamp is the stamp when it is RFC3339 and the receive time otherwise.
func (s *TransmissionStorage) StoreTransmission(rec scanner.AudioRecord) (bool, error) {
	now := time.Now().UTC()
	timestamp := now
	var stamp sql.NullString
	if rec.Stamp != nil {
		stamp = sql.NullString{String: *rec.Stamp, Valid: true}
		if t, err := time.Parse(time.RFC3339, *rec.Stamp); err == nil {
			timestamp = t.UTC()
		} else {
			s.logger.Debug("Stamp is not RFC3339, using receive time",
				logger.Int64("id", rec.ID),
				logger.String("stamp", *rec.Stamp))
		}
	}

	result, err := s.db.Exec(
		`INSERT OR IGNORE INTO audio_transmissions
		(transmission_id, url, who_from, frequency, station_name, pilot, airport, position,
		 voice_name, from_userid, flight_rules, latitude, longitude, stamp, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.URL,
		rec.WhoFrom,
		rec.Frequency,
		rec.StationName,
		rec.Pilot,
		rec.Airport,
		rec.Position,
		rec.VoiceName,
		rec.FromUserID,
		rec.FlightRules,
		nullFloat(rec.Lat),
		nullFloat(rec.Lon),
		stamp,
		timestamp.Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert transmission: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return n > 0, nil
}

// GetRecentTransmissions returns the newest transmissions by upstream ID
func (s *TransmissionStorage) GetRecentTransmissions(limit int) ([]*TransmissionRecord, error) {
	rows, err := s.db.Query(
		`SELECT `+transmissionColumns+`
		FROM audio_transmissions
		ORDER BY transmission_id DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent transmissions: %w", err)
	}
	defer rows.Close()

	return s.scanTransmissionRows(rows)
}

// GetTransmissionsByAirport returns the newest transmissions for one airport
func (s *TransmissionStorage) GetTransmissionsByAirport(airport string, limit int) ([]*TransmissionRecord, error) {
	rows, err := s.db.Query(
		`SELECT `+transmissionColumns+`
		FROM audio_transmissions
		WHERE airport = ?
		ORDER BY transmission_id DESC
		LIMIT ?`,
		airport, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transmissions by airport: %w", err)
	}
	defer rows.Close()

	return s.scanTransmissionRows(rows)
}

// CountTransmissions returns how many transmissions are stored
func (s *TransmissionStorage) CountTransmissions() (int64, error) {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM audio_transmissions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count transmissions: %w", err)
	}
	return n, nil
}

const transmissionColumns = `id, transmission_id, url, who_from, frequency, station_name, pilot, airport,
		position, voice_name, from_userid, flight_rules, latitude, longitude, stamp, timestamp, created_at`

// scanTransmissionRows scans database rows into TransmissionRecord structs
func (s *TransmissionStorage) scanTransmissionRows(rows *sql.Rows) ([]*TransmissionRecord, error) {
	records := []*TransmissionRecord{}
	for rows.Next() {
		var record TransmissionRecord
		var timestamp, createdAt string
		var lat, lon sql.NullFloat64
		var stamp sql.NullString

		if err := rows.Scan(
			&record.ID,
			&record.TransmissionID,
			&record.URL,
			&record.WhoFrom,
			&record.Frequency,
			&record.StationName,
			&record.Pilot,
			&record.Airport,
			&record.Position,
			&record.VoiceName,
			&record.FromUserID,
			&record.FlightRules,
			&lat,
			&lon,
			&stamp,
			&timestamp,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transmission: %w", err)
		}

		var err error
		record.Timestamp, err = time.Parse(time.RFC3339, timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to parse timestamp: %w", err)
		}
		record.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}

		if lat.Valid {
			record.Latitude = &lat.Float64
		}
		if lon.Valid {
			record.Longitude = &lon.Float64
		}
		if stamp.Valid {
			record.Stamp = &stamp.String
		}

		records = append(records, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transmissions: %w", err)
	}

	return records, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
