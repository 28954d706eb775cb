package alarm

import (
	"testing"
	"time"
)

type fakeStore struct {
	history    map[int64]*History
	nextID     int64
	events     []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{history: make(map[int64]*History)}
}

func (f *fakeStore) ActiveHistoryForRule(ruleID int64) (*History, error) {
	for _, h := range f.history {
		if h.RuleID == ruleID && h.State != StateCleared {
			cp := *h
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ListActiveHistory() ([]History, error) {
	var out []History
	for _, h := range f.history {
		if h.State != StateCleared {
			out = append(out, *h)
		}
	}
	return out, nil
}

func (f *fakeStore) InsertHistory(h History) (int64, error) {
	f.nextID++
	h.ID = f.nextID
	f.history[h.ID] = &h
	return h.ID, nil
}

func (f *fakeStore) SetHistoryState(id int64, state State, at time.Time, ackBy string) error {
	h, ok := f.history[id]
	if !ok {
		return nil
	}
	h.State = state
	switch state {
	case StateAcknowledged:
		h.AcknowledgedAt = &at
		h.AcknowledgedBy = ackBy
	case StateCleared:
		h.ClearedAt = &at
	}
	return nil
}

func (f *fakeStore) InsertEvent(severity, source, message string) error {
	f.events = append(f.events, message)
	return nil
}

// TestHysteresisRaiseAndClear feeds an ABOVE rule with high=50,
// hysteresis=10% the sequence [45, 49.9, 50.0, 50.1, 48, 45.1, 44.9]
// and checks it raises only past the threshold and clears only once
// the value drops below the hysteresis band.
func TestHysteresisRaiseAndClear(t *testing.T) {
	st := newFakeStore()
	e := NewEngine(st, nil, Callbacks{}, nil)
	e.LoadRules([]Rule{{
		ID: 1, ModuleID: 7, Name: "high-pressure", Enabled: true, AutoClear: true,
		Condition: ConditionAbove, ThresholdHigh: 50, HysteresisPercent: 10,
	}})

	values := []float64{45, 49.9, 50.0, 50.1, 48, 45.1, 44.9}
	base := time.Now()
	for i, v := range values {
		e.CheckValue(7, v, base.Add(time.Duration(i)*time.Second))
	}

	active, err := st.ActiveHistoryForRule(1)
	if err != nil {
		t.Fatalf("ActiveHistoryForRule failed: %v", err)
	}
	if active != nil {
		t.Fatalf("expected alarm cleared by 44.9, got active state %v", active.State)
	}
	if len(st.history) != 1 {
		t.Fatalf("expected exactly one raise (idempotent within hysteresis band), got %d", len(st.history))
	}
}

func TestInterlockDispatchedOnRaiseAndReleasedOnClear(t *testing.T) {
	st := newFakeStore()
	var engaged []bool
	e := NewEngine(st, nil, Callbacks{
		Interlock: func(slot int, action InterlockAction, pwmDuty int, engage bool) {
			engaged = append(engaged, engage)
		},
	}, nil)
	e.LoadRules([]Rule{{
		ID: 1, ModuleID: 3, Name: "interlock-rule", Enabled: true, AutoClear: true,
		Condition: ConditionAbove, ThresholdHigh: 50, HysteresisPercent: 0,
		Interlock: Interlock{Enabled: true, TargetSlot: 10, Action: InterlockOff, ReleaseOnClear: true},
	}})

	now := time.Now()
	e.CheckValue(3, 60, now)
	e.CheckValue(3, 10, now.Add(time.Second))

	if len(engaged) != 2 || engaged[0] != true || engaged[1] != false {
		t.Fatalf("expected interlock engage then release, got %v", engaged)
	}
}

func TestAcknowledgeDoesNotClear(t *testing.T) {
	st := newFakeStore()
	e := NewEngine(st, nil, Callbacks{}, nil)
	e.LoadRules([]Rule{{ID: 1, ModuleID: 1, Enabled: true, Condition: ConditionAbove, ThresholdHigh: 5}})
	e.CheckValue(1, 10, time.Now())

	active, _ := st.ActiveHistoryForRule(1)
	if active == nil {
		t.Fatal("expected active alarm")
	}
	if err := e.Acknowledge(active.ID, "operator"); err != nil {
		t.Fatalf("Acknowledge failed: %v", err)
	}

	got := st.history[active.ID]
	if got.State != StateAcknowledged {
		t.Errorf("state = %v, want ACKNOWLEDGED", got.State)
	}
}
