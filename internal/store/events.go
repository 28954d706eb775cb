package store

import (
	"time"

	"github.com/ironfield/rtuhub/internal/rtuerr"
)

// Event is a structured log-book entry shared by every component
// that needs to record a human-readable, queryable occurrence
// (degraded mode, safety shutoff, alarm raise/clear, PROFINET
// connect/disconnect).
type Event struct {
	ID        int64
	Severity  string
	Source    string
	Message   string
	Timestamp time.Time
}

// InsertEvent records a new event.
func (s *Store) InsertEvent(e Event) (int64, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	res, err := s.conn.Exec(`INSERT INTO events (severity, source, message, timestamp) VALUES (?, ?, ?, ?)`,
		e.Severity, e.Source, e.Message, e.Timestamp)
	if err != nil {
		return 0, rtuerr.Wrap(err, rtuerr.IoError, "store", "InsertEvent", "insert event")
	}
	return res.LastInsertId()
}

// RecentEvents returns the newest limit events, newest first.
func (s *Store) RecentEvents(limit int) ([]Event, error) {
	rows, err := s.conn.Query(`SELECT id, severity, source, message, timestamp FROM events ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, rtuerr.Wrap(err, rtuerr.IoError, "store", "RecentEvents", "query events")
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Severity, &e.Source, &e.Message, &e.Timestamp); err != nil {
			return nil, rtuerr.Wrap(err, rtuerr.IoError, "store", "RecentEvents", "scan event")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// EventCleanup deletes events older than the retention window.
func (s *Store) EventCleanup(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	res, err := s.conn.Exec(`DELETE FROM events WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, rtuerr.Wrap(err, rtuerr.IoError, "store", "EventCleanup", "delete old events")
	}
	return res.RowsAffected()
}
