package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/ironfield/rtuhub/internal/rtuerr"
)

// Actuator is the persisted configuration of an actuator.
type Actuator struct {
	Slot           int
	Name           string
	Type           string
	GPIOPin        int
	ActiveLow      bool
	SafeState      string
	MinOnTimeMs    int64
	MaxOnTimeMs    int64
	PWMFrequencyHz int
	Enabled        bool
}

// ActuatorStateRow is the persisted runtime state of an actuator.
type ActuatorStateRow struct {
	Slot                 int
	State                string
	PWMDuty              int
	ManualMode           bool
	LastStateChange      *time.Time
	LastCommandTime      *time.Time
	CycleCount           int64
	ControllerConnected  bool
}

// UpsertActuator inserts or replaces an actuator's configuration by
// slot.
func (s *Store) UpsertActuator(a Actuator) error {
	_, err := s.conn.Exec(`
		INSERT INTO actuators (slot, name, type, gpio_pin, active_low, safe_state, min_on_time_ms, max_on_time_ms, pwm_frequency_hz, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET
			name=excluded.name, type=excluded.type, gpio_pin=excluded.gpio_pin, active_low=excluded.active_low,
			safe_state=excluded.safe_state, min_on_time_ms=excluded.min_on_time_ms, max_on_time_ms=excluded.max_on_time_ms,
			pwm_frequency_hz=excluded.pwm_frequency_hz, enabled=excluded.enabled
	`, a.Slot, a.Name, a.Type, a.GPIOPin, boolToInt(a.ActiveLow), a.SafeState, a.MinOnTimeMs, a.MaxOnTimeMs, a.PWMFrequencyHz, boolToInt(a.Enabled))
	if err != nil {
		return rtuerr.Wrap(err, rtuerr.IoError, "store", "UpsertActuator", "upsert actuator")
	}
	return nil
}

// DeleteActuator removes an actuator; its state row cascades.
func (s *Store) DeleteActuator(slot int) error {
	_, err := s.conn.Exec(`DELETE FROM actuators WHERE slot=?`, slot)
	if err != nil {
		return rtuerr.Wrap(err, rtuerr.IoError, "store", "DeleteActuator", "delete actuator")
	}
	return nil
}

// ListActuators returns every configured actuator.
func (s *Store) ListActuators() ([]Actuator, error) {
	rows, err := s.conn.Query(`SELECT slot, name, type, gpio_pin, active_low, safe_state, min_on_time_ms, max_on_time_ms, pwm_frequency_hz, enabled FROM actuators ORDER BY slot`)
	if err != nil {
		return nil, rtuerr.Wrap(err, rtuerr.IoError, "store", "ListActuators", "query actuators")
	}
	defer rows.Close()

	var out []Actuator
	for rows.Next() {
		var a Actuator
		var activeLow, enabled int
		if err := rows.Scan(&a.Slot, &a.Name, &a.Type, &a.GPIOPin, &activeLow, &a.SafeState, &a.MinOnTimeMs, &a.MaxOnTimeMs, &a.PWMFrequencyHz, &enabled); err != nil {
			return nil, rtuerr.Wrap(err, rtuerr.IoError, "store", "ListActuators", "scan actuator")
		}
		a.ActiveLow = intToBool(activeLow)
		a.Enabled = intToBool(enabled)
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertActuatorState replaces the runtime state row for a slot.
func (s *Store) UpsertActuatorState(row ActuatorStateRow) error {
	_, err := s.conn.Exec(`
		INSERT INTO actuator_state (slot, state, pwm_duty, manual_mode, last_state_change, last_command_time, cycle_count, controller_connected)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET
			state=excluded.state, pwm_duty=excluded.pwm_duty, manual_mode=excluded.manual_mode,
			last_state_change=excluded.last_state_change, last_command_time=excluded.last_command_time,
			cycle_count=excluded.cycle_count, controller_connected=excluded.controller_connected
	`, row.Slot, row.State, row.PWMDuty, boolToInt(row.ManualMode), nullTime(row.LastStateChange),
		nullTime(row.LastCommandTime), row.CycleCount, boolToInt(row.ControllerConnected))
	if err != nil {
		return rtuerr.Wrap(err, rtuerr.IoError, "store", "UpsertActuatorState", "upsert actuator state")
	}
	return nil
}

// GetActuatorState fetches the runtime state row for a slot.
func (s *Store) GetActuatorState(slot int) (ActuatorStateRow, error) {
	var row ActuatorStateRow
	var manual, connected int
	var lastChange, lastCmd sql.NullTime
	row.Slot = slot
	err := s.conn.QueryRow(`
		SELECT state, pwm_duty, manual_mode, last_state_change, last_command_time, cycle_count, controller_connected
		FROM actuator_state WHERE slot=?
	`, slot).Scan(&row.State, &row.PWMDuty, &manual, &lastChange, &lastCmd, &row.CycleCount, &connected)
	if errors.Is(err, sql.ErrNoRows) {
		return ActuatorStateRow{}, rtuerr.New(rtuerr.NotFound, "store", "GetActuatorState", "actuator state not found")
	}
	if err != nil {
		return ActuatorStateRow{}, rtuerr.Wrap(err, rtuerr.IoError, "store", "GetActuatorState", "query actuator state")
	}
	row.ManualMode = intToBool(manual)
	row.ControllerConnected = intToBool(connected)
	if lastChange.Valid {
		row.LastStateChange = &lastChange.Time
	}
	if lastCmd.Valid {
		row.LastCommandTime = &lastCmd.Time
	}
	return row, nil
}
