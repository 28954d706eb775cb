package store

import (
	"database/sql"

	"github.com/ironfield/rtuhub/internal/rtuerr"
)

// Rule is the persisted form of an alarm rule. A system-scoped rule
// (Scope == "system") has no owning module and ModuleID is 0, kept
// out of the modules foreign key by the nullable column rather than
// a sentinel row.
type Rule struct {
	ID                      int64
	Scope                   string
	ModuleID                int64
	Name                    string
	Condition               string
	ThresholdHigh           float64
	ThresholdLow            float64
	Setpoint                float64
	Severity                string
	Enabled                 bool
	AutoClear               bool
	HysteresisPercent       float64
	InterlockEnabled        bool
	InterlockTargetSlot     int
	InterlockAction         string
	InterlockPWMDuty        int
	InterlockReleaseOnClear bool
}

// UpsertRule inserts a new rule or updates an existing one by id (id
// 0 means insert).
func (s *Store) UpsertRule(r Rule) (int64, error) {
	moduleID := nullableModuleID(r)

	if r.ID == 0 {
		res, err := s.conn.Exec(`
			INSERT INTO alarm_rules (
				scope, module_id, name, condition, threshold_high, threshold_low, setpoint, severity, enabled, auto_clear,
				hysteresis_percent, interlock_enabled, interlock_target_slot, interlock_action,
				interlock_pwm_duty, interlock_release_on_clear
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, r.Scope, moduleID, r.Name, r.Condition, r.ThresholdHigh, r.ThresholdLow, r.Setpoint, r.Severity,
			boolToInt(r.Enabled), boolToInt(r.AutoClear), r.HysteresisPercent,
			boolToInt(r.InterlockEnabled), r.InterlockTargetSlot, r.InterlockAction,
			r.InterlockPWMDuty, boolToInt(r.InterlockReleaseOnClear))
		if err != nil {
			return 0, rtuerr.Wrap(err, rtuerr.IoError, "store", "UpsertRule", "insert rule")
		}
		return res.LastInsertId()
	}

	_, err := s.conn.Exec(`
		UPDATE alarm_rules SET
			scope=?, module_id=?, name=?, condition=?, threshold_high=?, threshold_low=?, setpoint=?, severity=?, enabled=?,
			auto_clear=?, hysteresis_percent=?, interlock_enabled=?, interlock_target_slot=?,
			interlock_action=?, interlock_pwm_duty=?, interlock_release_on_clear=?
		WHERE id=?
	`, r.Scope, moduleID, r.Name, r.Condition, r.ThresholdHigh, r.ThresholdLow, r.Setpoint, r.Severity,
		boolToInt(r.Enabled), boolToInt(r.AutoClear), r.HysteresisPercent,
		boolToInt(r.InterlockEnabled), r.InterlockTargetSlot, r.InterlockAction,
		r.InterlockPWMDuty, boolToInt(r.InterlockReleaseOnClear), r.ID)
	if err != nil {
		return 0, rtuerr.Wrap(err, rtuerr.IoError, "store", "UpsertRule", "update rule")
	}
	return r.ID, nil
}

func nullableModuleID(r Rule) any {
	if r.Scope == "system" {
		return nil
	}
	return r.ModuleID
}

// DeleteRule removes a rule; its history rows cascade.
func (s *Store) DeleteRule(id int64) error {
	_, err := s.conn.Exec(`DELETE FROM alarm_rules WHERE id=?`, id)
	if err != nil {
		return rtuerr.Wrap(err, rtuerr.IoError, "store", "DeleteRule", "delete rule")
	}
	return nil
}

// ListRules returns every rule, enabled or not; the alarm engine
// filters to enabled rules when rebuilding its cache.
func (s *Store) ListRules() ([]Rule, error) {
	rows, err := s.conn.Query(`
		SELECT id, scope, module_id, name, condition, threshold_high, threshold_low, setpoint, severity, enabled, auto_clear,
		       hysteresis_percent, interlock_enabled, interlock_target_slot, interlock_action,
		       interlock_pwm_duty, interlock_release_on_clear
		FROM alarm_rules ORDER BY id
	`)
	if err != nil {
		return nil, rtuerr.Wrap(err, rtuerr.IoError, "store", "ListRules", "query rules")
	}
	defer rows.Close()

	var out []Rule
	for rows.Next() {
		var r Rule
		var moduleID sql.NullInt64
		var enabled, autoClear, interlockEnabled, releaseOnClear int
		if err := rows.Scan(&r.ID, &r.Scope, &moduleID, &r.Name, &r.Condition, &r.ThresholdHigh, &r.ThresholdLow, &r.Setpoint,
			&r.Severity, &enabled, &autoClear, &r.HysteresisPercent, &interlockEnabled,
			&r.InterlockTargetSlot, &r.InterlockAction, &r.InterlockPWMDuty, &releaseOnClear); err != nil {
			return nil, rtuerr.Wrap(err, rtuerr.IoError, "store", "ListRules", "scan rule")
		}
		if moduleID.Valid {
			r.ModuleID = moduleID.Int64
		}
		r.Enabled = intToBool(enabled)
		r.AutoClear = intToBool(autoClear)
		r.InterlockEnabled = intToBool(interlockEnabled)
		r.InterlockReleaseOnClear = intToBool(releaseOnClear)
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRule fetches a single rule by id.
func (s *Store) GetRule(id int64) (Rule, error) {
	rules, err := s.ListRules()
	if err != nil {
		return Rule{}, err
	}
	for _, r := range rules {
		if r.ID == id {
			return r, nil
		}
	}
	return Rule{}, rtuerr.New(rtuerr.NotFound, "store", "GetRule", "rule not found")
}
