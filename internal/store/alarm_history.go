package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/ironfield/rtuhub/internal/rtuerr"
)

// AlarmHistoryRow is one row of the append-only alarm history table.
// At most one non-CLEARED row exists per rule id at any time.
type AlarmHistoryRow struct {
	ID             int64
	CorrelationID  string
	RuleID         int64
	ModuleID       int64
	Severity       string
	State          string
	TriggerValue   float64
	Message        string
	RaisedAt       time.Time
	AcknowledgedAt *time.Time
	ClearedAt      *time.Time
	AcknowledgedBy string
}

// InsertAlarmHistory raises a new alarm history row. CorrelationID
// ties this raise-to-clear lifecycle to the events and remote log
// entries emitted around it, letting a downstream consumer join them
// without guessing from timestamps.
func (s *Store) InsertAlarmHistory(row AlarmHistoryRow) (int64, error) {
	res, err := s.conn.Exec(`
		INSERT INTO alarm_history (correlation_id, rule_id, module_id, severity, state, trigger_value, message, raised_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, row.CorrelationID, row.RuleID, row.ModuleID, row.Severity, row.State, row.TriggerValue, row.Message, row.RaisedAt)
	if err != nil {
		return 0, rtuerr.Wrap(err, rtuerr.IoError, "store", "InsertAlarmHistory", "insert alarm history")
	}
	return res.LastInsertId()
}

// ActiveHistoryForRule returns the current non-CLEARED row for a
// rule, if any.
func (s *Store) ActiveHistoryForRule(ruleID int64) (*AlarmHistoryRow, error) {
	row := s.conn.QueryRow(`
		SELECT id, correlation_id, rule_id, module_id, severity, state, trigger_value, message, raised_at, acknowledged_at, cleared_at, acknowledged_by
		FROM alarm_history WHERE rule_id=? AND state != 'CLEARED' ORDER BY id DESC LIMIT 1
	`, ruleID)
	r, err := scanHistoryRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, rtuerr.Wrap(err, rtuerr.IoError, "store", "ActiveHistoryForRule", "query active history")
	}
	return &r, nil
}

// SetAlarmState transitions a history row's state and optionally its
// timestamp/actor fields.
func (s *Store) SetAlarmState(id int64, state string, at time.Time, ackBy string) error {
	switch state {
	case "ACKNOWLEDGED":
		_, err := s.conn.Exec(`UPDATE alarm_history SET state=?, acknowledged_at=?, acknowledged_by=? WHERE id=?`, state, at, ackBy, id)
		if err != nil {
			return rtuerr.Wrap(err, rtuerr.IoError, "store", "SetAlarmState", "acknowledge alarm")
		}
	case "CLEARED":
		_, err := s.conn.Exec(`UPDATE alarm_history SET state=?, cleared_at=? WHERE id=?`, state, at, id)
		if err != nil {
			return rtuerr.Wrap(err, rtuerr.IoError, "store", "SetAlarmState", "clear alarm")
		}
	default:
		_, err := s.conn.Exec(`UPDATE alarm_history SET state=? WHERE id=?`, state, id)
		if err != nil {
			return rtuerr.Wrap(err, rtuerr.IoError, "store", "SetAlarmState", "update alarm state")
		}
	}
	return nil
}

// ListActiveAlarms returns every non-CLEARED history row, using the
// alarm_history(state) index.
func (s *Store) ListActiveAlarms() ([]AlarmHistoryRow, error) {
	rows, err := s.conn.Query(`
		SELECT id, correlation_id, rule_id, module_id, severity, state, trigger_value, message, raised_at, acknowledged_at, cleared_at, acknowledged_by
		FROM alarm_history WHERE state != 'CLEARED' ORDER BY raised_at DESC
	`)
	if err != nil {
		return nil, rtuerr.Wrap(err, rtuerr.IoError, "store", "ListActiveAlarms", "query active alarms")
	}
	defer rows.Close()
	return scanHistoryRows(rows)
}

// ListHistory returns the most recent limit history rows, newest
// first.
func (s *Store) ListHistory(limit int) ([]AlarmHistoryRow, error) {
	rows, err := s.conn.Query(`
		SELECT id, correlation_id, rule_id, module_id, severity, state, trigger_value, message, raised_at, acknowledged_at, cleared_at, acknowledged_by
		FROM alarm_history ORDER BY raised_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, rtuerr.Wrap(err, rtuerr.IoError, "store", "ListHistory", "query history")
	}
	defer rows.Close()
	return scanHistoryRows(rows)
}

func scanHistoryRow(row *sql.Row) (AlarmHistoryRow, error) {
	var r AlarmHistoryRow
	var ack, cleared sql.NullTime
	err := row.Scan(&r.ID, &r.CorrelationID, &r.RuleID, &r.ModuleID, &r.Severity, &r.State, &r.TriggerValue, &r.Message,
		&r.RaisedAt, &ack, &cleared, &r.AcknowledgedBy)
	if err != nil {
		return AlarmHistoryRow{}, err
	}
	if ack.Valid {
		r.AcknowledgedAt = &ack.Time
	}
	if cleared.Valid {
		r.ClearedAt = &cleared.Time
	}
	return r, nil
}

func scanHistoryRows(rows *sql.Rows) ([]AlarmHistoryRow, error) {
	var out []AlarmHistoryRow
	for rows.Next() {
		var r AlarmHistoryRow
		var ack, cleared sql.NullTime
		if err := rows.Scan(&r.ID, &r.CorrelationID, &r.RuleID, &r.ModuleID, &r.Severity, &r.State, &r.TriggerValue, &r.Message,
			&r.RaisedAt, &ack, &cleared, &r.AcknowledgedBy); err != nil {
			return nil, rtuerr.Wrap(err, rtuerr.IoError, "store", "scanHistoryRows", "scan history row")
		}
		if ack.Valid {
			r.AcknowledgedAt = &ack.Time
		}
		if cleared.Valid {
			r.ClearedAt = &cleared.Time
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
