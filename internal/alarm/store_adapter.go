package alarm

import (
	"time"

	"github.com/ironfield/rtuhub/internal/store"
)

// StoreAdapter implements Persistence over internal/store, translating
// between the engine's in-memory types and the store's row types.
type StoreAdapter struct {
	DB *store.Store
}

func (a StoreAdapter) ActiveHistoryForRule(ruleID int64) (*History, error) {
	row, err := a.DB.ActiveHistoryForRule(ruleID)
	if err != nil || row == nil {
		return nil, err
	}
	h := fromRow(*row)
	return &h, nil
}

func (a StoreAdapter) ListActiveHistory() ([]History, error) {
	rows, err := a.DB.ListActiveAlarms()
	if err != nil {
		return nil, err
	}
	out := make([]History, len(rows))
	for i, r := range rows {
		out[i] = fromRow(r)
	}
	return out, nil
}

func (a StoreAdapter) InsertHistory(h History) (int64, error) {
	return a.DB.InsertAlarmHistory(store.AlarmHistoryRow{
		CorrelationID: h.CorrelationID,
		RuleID:        h.RuleID,
		ModuleID:      h.ModuleID,
		Severity:      string(h.Severity),
		State:         string(h.State),
		TriggerValue:  h.TriggerValue,
		Message:       h.Message,
		RaisedAt:      h.RaisedAt,
	})
}

func (a StoreAdapter) SetHistoryState(id int64, state State, at time.Time, ackBy string) error {
	return a.DB.SetAlarmState(id, string(state), at, ackBy)
}

func (a StoreAdapter) InsertEvent(severity, source, message string) error {
	_, err := a.DB.InsertEvent(store.Event{Severity: severity, Source: source, Message: message})
	return err
}

// LoadRulesFromStore converts every persisted rule into the engine's
// in-memory Rule type, ready for Engine.LoadRules.
func LoadRulesFromStore(db *store.Store) ([]Rule, error) {
	rows, err := db.ListRules()
	if err != nil {
		return nil, err
	}
	out := make([]Rule, len(rows))
	for i, r := range rows {
		scope := ScopeModule
		if r.Scope == "system" {
			scope = ScopeSystem
		}
		out[i] = Rule{
			ID:                r.ID,
			Scope:             scope,
			ModuleID:          r.ModuleID,
			Name:              r.Name,
			Condition:         Condition(r.Condition),
			ThresholdHigh:     r.ThresholdHigh,
			ThresholdLow:      r.ThresholdLow,
			Setpoint:          r.Setpoint,
			Severity:          Severity(r.Severity),
			Enabled:           r.Enabled,
			AutoClear:         r.AutoClear,
			HysteresisPercent: r.HysteresisPercent,
			Interlock: Interlock{
				Enabled:        r.InterlockEnabled,
				TargetSlot:     r.InterlockTargetSlot,
				Action:         InterlockAction(r.InterlockAction),
				PWMDuty:        r.InterlockPWMDuty,
				ReleaseOnClear: r.InterlockReleaseOnClear,
			},
		}
	}
	return out, nil
}

func fromRow(r store.AlarmHistoryRow) History {
	return History{
		ID:             r.ID,
		CorrelationID:  r.CorrelationID,
		RuleID:         r.RuleID,
		ModuleID:       r.ModuleID,
		Severity:       Severity(r.Severity),
		State:          State(r.State),
		TriggerValue:   r.TriggerValue,
		Message:        r.Message,
		RaisedAt:       r.RaisedAt,
		AcknowledgedAt: r.AcknowledgedAt,
		ClearedAt:      r.ClearedAt,
		AcknowledgedBy: r.AcknowledgedBy,
	}
}
