package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/ironfield/rtuhub/internal/rtuerr"
)

// SensorConfigRow is the persisted form of a sensor configuration:
// the variant tag plus its JSON-encoded payload. Decoding the payload
// into the concrete variant struct is the sensor package's job, kept
// out of store to avoid an import cycle.
type SensorConfigRow struct {
	ModuleID int64
	Kind     string
	Payload  string
}

// UpsertSensorConfig stores or replaces a module's sensor
// configuration.
func (s *Store) UpsertSensorConfig(row SensorConfigRow) error {
	_, err := s.conn.Exec(`
		INSERT INTO sensor_configs (module_id, kind, payload) VALUES (?, ?, ?)
		ON CONFLICT(module_id) DO UPDATE SET kind=excluded.kind, payload=excluded.payload
	`, row.ModuleID, row.Kind, row.Payload)
	if err != nil {
		return rtuerr.Wrap(err, rtuerr.IoError, "store", "UpsertSensorConfig", "upsert sensor config")
	}
	return nil
}

// GetSensorConfig fetches a module's sensor configuration.
func (s *Store) GetSensorConfig(moduleID int64) (SensorConfigRow, error) {
	var row SensorConfigRow
	row.ModuleID = moduleID
	err := s.conn.QueryRow(`SELECT kind, payload FROM sensor_configs WHERE module_id=?`, moduleID).Scan(&row.Kind, &row.Payload)
	if errors.Is(err, sql.ErrNoRows) {
		return SensorConfigRow{}, rtuerr.New(rtuerr.NotFound, "store", "GetSensorConfig", "sensor config not found")
	}
	if err != nil {
		return SensorConfigRow{}, rtuerr.Wrap(err, rtuerr.IoError, "store", "GetSensorConfig", "query sensor config")
	}
	return row, nil
}

// ListSensorConfigs returns every sensor config alongside its owning
// module, used by reload_sensors.
func (s *Store) ListSensorConfigs() ([]SensorConfigRow, error) {
	rows, err := s.conn.Query(`SELECT module_id, kind, payload FROM sensor_configs`)
	if err != nil {
		return nil, rtuerr.Wrap(err, rtuerr.IoError, "store", "ListSensorConfigs", "query sensor configs")
	}
	defer rows.Close()

	var out []SensorConfigRow
	for rows.Next() {
		var row SensorConfigRow
		if err := rows.Scan(&row.ModuleID, &row.Kind, &row.Payload); err != nil {
			return nil, rtuerr.Wrap(err, rtuerr.IoError, "store", "ListSensorConfigs", "scan sensor config")
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// SensorStatusRow is the persisted runtime snapshot of a sensor,
// written with INSERT OR REPLACE semantics.
type SensorStatusRow struct {
	ModuleID              int64
	CurrentValue          float64
	RawValue              float64
	Quality               string
	Connected             bool
	ConsecutiveSuccesses  int64
	ConsecutiveFailures   int64
	TotalReads            int64
	TotalFailures         int64
	LastReadTimestamp     *time.Time
}

// UpsertSensorStatus replaces the status row for a module.
func (s *Store) UpsertSensorStatus(row SensorStatusRow) error {
	_, err := s.conn.Exec(`
		INSERT INTO sensor_status (
			module_id, current_value, raw_value, quality, connected,
			consecutive_successes, consecutive_failures, total_reads, total_failures, last_read_timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(module_id) DO UPDATE SET
			current_value=excluded.current_value, raw_value=excluded.raw_value, quality=excluded.quality,
			connected=excluded.connected, consecutive_successes=excluded.consecutive_successes,
			consecutive_failures=excluded.consecutive_failures, total_reads=excluded.total_reads,
			total_failures=excluded.total_failures, last_read_timestamp=excluded.last_read_timestamp
	`, row.ModuleID, row.CurrentValue, row.RawValue, row.Quality, boolToInt(row.Connected),
		row.ConsecutiveSuccesses, row.ConsecutiveFailures, row.TotalReads, row.TotalFailures, nullTime(row.LastReadTimestamp))
	if err != nil {
		return rtuerr.Wrap(err, rtuerr.IoError, "store", "UpsertSensorStatus", "upsert sensor status")
	}
	return nil
}

// GetSensorStatus fetches the persisted runtime snapshot for a
// module.
func (s *Store) GetSensorStatus(moduleID int64) (SensorStatusRow, error) {
	var row SensorStatusRow
	var connected int
	var ts sql.NullTime
	row.ModuleID = moduleID
	err := s.conn.QueryRow(`
		SELECT current_value, raw_value, quality, connected, consecutive_successes,
		       consecutive_failures, total_reads, total_failures, last_read_timestamp
		FROM sensor_status WHERE module_id=?
	`, moduleID).Scan(&row.CurrentValue, &row.RawValue, &row.Quality, &connected,
		&row.ConsecutiveSuccesses, &row.ConsecutiveFailures, &row.TotalReads, &row.TotalFailures, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return SensorStatusRow{}, rtuerr.New(rtuerr.NotFound, "store", "GetSensorStatus", "sensor status not found")
	}
	if err != nil {
		return SensorStatusRow{}, rtuerr.Wrap(err, rtuerr.IoError, "store", "GetSensorStatus", "query sensor status")
	}
	row.Connected = intToBool(connected)
	if ts.Valid {
		row.LastReadTimestamp = &ts.Time
	}
	return row, nil
}
