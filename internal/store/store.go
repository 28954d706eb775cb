// Package store is the persistence layer: a transactional row store
// for modules, sensor configs, alarm rules and history, actuators,
// the sensor data log, and the event log. It is opened with
// write-ahead journaling, foreign keys enforced, and a busy timeout.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ironfield/rtuhub/internal/rtuerr"
)

// BusyTimeout is how long a statement waits on SQLITE_BUSY before
// giving up.
const BusyTimeout = 5 * time.Second

// Store wraps the sqlite connection and provides typed accessors for
// every table: modules, sensor configs, alarm rules and history,
// actuators, the sensor data log, and the event log.
type Store struct {
	conn *sql.DB
	path string
}

// Open opens or creates the sqlite database at path, enabling WAL
// journaling and foreign-key enforcement and initializing the schema
// if needed.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, rtuerr.Wrap(err, rtuerr.IoError, "store", "Open", "create database directory")
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)", path, BusyTimeout.Milliseconds())
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, rtuerr.Wrap(err, rtuerr.IoError, "store", "Open", "open database")
	}
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, rtuerr.Wrap(err, rtuerr.IoError, "store", "Open", "enable WAL mode")
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, rtuerr.Wrap(err, rtuerr.IoError, "store", "Open", "enable foreign keys")
	}

	s := &Store{conn: conn, path: path}
	if err := s.initSchema(); err != nil {
		conn.Close()
		return nil, rtuerr.Wrap(err, rtuerr.IoError, "store", "Open", "initialize schema")
	}
	return s, nil
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.conn.Close()
}

// Flush forces a WAL checkpoint, used before backups or clean
// shutdown.
func (s *Store) Flush() error {
	_, err := s.conn.Exec("PRAGMA wal_checkpoint(RESTART)")
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS modules (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	slot INTEGER NOT NULL UNIQUE,
	subslot INTEGER NOT NULL DEFAULT 1,
	name TEXT NOT NULL,
	module_type TEXT NOT NULL,
	module_ident INTEGER NOT NULL DEFAULT 0,
	submodule_ident INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'unknown',
	enabled INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS sensor_configs (
	module_id INTEGER PRIMARY KEY REFERENCES modules(id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	payload TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sensor_status (
	module_id INTEGER PRIMARY KEY REFERENCES modules(id) ON DELETE CASCADE,
	current_value REAL NOT NULL DEFAULT 0,
	raw_value REAL NOT NULL DEFAULT 0,
	quality TEXT NOT NULL DEFAULT 'NOT_CONNECTED',
	connected INTEGER NOT NULL DEFAULT 0,
	consecutive_successes INTEGER NOT NULL DEFAULT 0,
	consecutive_failures INTEGER NOT NULL DEFAULT 0,
	total_reads INTEGER NOT NULL DEFAULT 0,
	total_failures INTEGER NOT NULL DEFAULT 0,
	last_read_timestamp DATETIME
);

CREATE TABLE IF NOT EXISTS alarm_rules (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	scope TEXT NOT NULL DEFAULT 'module',
	module_id INTEGER REFERENCES modules(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	condition TEXT NOT NULL,
	threshold_high REAL NOT NULL DEFAULT 0,
	threshold_low REAL NOT NULL DEFAULT 0,
	setpoint REAL NOT NULL DEFAULT 0,
	severity TEXT NOT NULL,
	enabled INTEGER NOT NULL DEFAULT 1,
	auto_clear INTEGER NOT NULL DEFAULT 1,
	hysteresis_percent REAL NOT NULL DEFAULT 0,
	interlock_enabled INTEGER NOT NULL DEFAULT 0,
	interlock_target_slot INTEGER NOT NULL DEFAULT 0,
	interlock_action TEXT NOT NULL DEFAULT 'NONE',
	interlock_pwm_duty INTEGER NOT NULL DEFAULT 0,
	interlock_release_on_clear INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS alarm_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	correlation_id TEXT NOT NULL DEFAULT '',
	rule_id INTEGER NOT NULL REFERENCES alarm_rules(id) ON DELETE CASCADE,
	module_id INTEGER NOT NULL,
	severity TEXT NOT NULL,
	state TEXT NOT NULL,
	trigger_value REAL NOT NULL,
	message TEXT NOT NULL DEFAULT '',
	raised_at DATETIME NOT NULL,
	acknowledged_at DATETIME,
	cleared_at DATETIME,
	acknowledged_by TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_alarm_history_state ON alarm_history(state);

CREATE TABLE IF NOT EXISTS actuators (
	slot INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	gpio_pin INTEGER NOT NULL DEFAULT 0,
	active_low INTEGER NOT NULL DEFAULT 0,
	safe_state TEXT NOT NULL DEFAULT 'OFF',
	min_on_time_ms INTEGER NOT NULL DEFAULT 0,
	max_on_time_ms INTEGER NOT NULL DEFAULT 0,
	pwm_frequency_hz INTEGER NOT NULL DEFAULT 0,
	enabled INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS actuator_state (
	slot INTEGER PRIMARY KEY REFERENCES actuators(slot) ON DELETE CASCADE,
	state TEXT NOT NULL DEFAULT 'OFF',
	pwm_duty INTEGER NOT NULL DEFAULT 0,
	manual_mode INTEGER NOT NULL DEFAULT 0,
	last_state_change DATETIME,
	last_command_time DATETIME,
	cycle_count INTEGER NOT NULL DEFAULT 0,
	controller_connected INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sensor_data_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	module_id INTEGER NOT NULL,
	value REAL NOT NULL,
	status TEXT NOT NULL,
	timestamp DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sensor_data_log_module_ts ON sensor_data_log(module_id, timestamp);

CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	severity TEXT NOT NULL,
	source TEXT NOT NULL,
	message TEXT NOT NULL,
	timestamp DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);

CREATE TABLE IF NOT EXISTS profinet_slots (
	slot INTEGER NOT NULL,
	subslot INTEGER NOT NULL,
	module_ident INTEGER NOT NULL,
	submodule_ident INTEGER NOT NULL,
	input_size INTEGER NOT NULL,
	output_size INTEGER NOT NULL,
	plugged INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (slot, subslot)
);
`

func (s *Store) initSchema() error {
	_, err := s.conn.Exec(schema)
	return err
}
