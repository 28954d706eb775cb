package store

import (
	"time"

	"github.com/ironfield/rtuhub/internal/rtuerr"
)

// SensorLogEntry is one row of the local sensor_data_log table,
// written by the data logger's batch insert.
type SensorLogEntry struct {
	ModuleID  int64
	Value     float64
	Status    string
	Timestamp time.Time
}

// InsertSensorLogBatch writes a batch of entries in a single
// transaction, the local half of the store-and-forward path.
func (s *Store) InsertSensorLogBatch(entries []SensorLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.conn.Begin()
	if err != nil {
		return rtuerr.Wrap(err, rtuerr.IoError, "store", "InsertSensorLogBatch", "begin transaction")
	}
	stmt, err := tx.Prepare(`INSERT INTO sensor_data_log (module_id, value, status, timestamp) VALUES (?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return rtuerr.Wrap(err, rtuerr.IoError, "store", "InsertSensorLogBatch", "prepare insert")
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.Exec(e.ModuleID, e.Value, e.Status, e.Timestamp); err != nil {
			tx.Rollback()
			return rtuerr.Wrap(err, rtuerr.IoError, "store", "InsertSensorLogBatch", "insert row")
		}
	}
	if err := tx.Commit(); err != nil {
		return rtuerr.Wrap(err, rtuerr.IoError, "store", "InsertSensorLogBatch", "commit transaction")
	}
	return nil
}

// RecentSensorLog returns the newest limit rows for a module, ordered
// newest first, exercising the sensor_data_log(module_id, timestamp)
// index.
func (s *Store) RecentSensorLog(moduleID int64, limit int) ([]SensorLogEntry, error) {
	rows, err := s.conn.Query(`
		SELECT module_id, value, status, timestamp FROM sensor_data_log
		WHERE module_id=? ORDER BY timestamp DESC LIMIT ?
	`, moduleID, limit)
	if err != nil {
		return nil, rtuerr.Wrap(err, rtuerr.IoError, "store", "RecentSensorLog", "query sensor log")
	}
	defer rows.Close()

	var out []SensorLogEntry
	for rows.Next() {
		var e SensorLogEntry
		if err := rows.Scan(&e.ModuleID, &e.Value, &e.Status, &e.Timestamp); err != nil {
			return nil, rtuerr.Wrap(err, rtuerr.IoError, "store", "RecentSensorLog", "scan row")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SensorLogCleanup deletes sensor_data_log rows older than the
// retention window.
func (s *Store) SensorLogCleanup(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	res, err := s.conn.Exec(`DELETE FROM sensor_data_log WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, rtuerr.Wrap(err, rtuerr.IoError, "store", "SensorLogCleanup", "delete old rows")
	}
	return res.RowsAffected()
}
