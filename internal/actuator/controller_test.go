package actuator

import (
	"testing"
	"time"
)

type fakeDriver struct {
	writes []struct {
		slot  int
		state State
		duty  int
	}
}

func (d *fakeDriver) Write(slot int, state State, duty int) error {
	d.writes = append(d.writes, struct {
		slot  int
		state State
		duty  int
	}{slot, state, duty})
	return nil
}

func newTestController(t *testing.T) (*Controller, *fakeDriver) {
	t.Helper()
	drv := &fakeDriver{}
	ctrl := NewController(drv, nil, Callbacks{})
	ctrl.LoadActuators([]Config{{Slot: 10, Name: "pump", Enabled: true}})
	return ctrl, drv
}

func TestHandleOutputAppliesCommand(t *testing.T) {
	ctrl, drv := newTestController(t)
	if err := ctrl.HandleOutput(10, []byte{byte(CommandOn), 0}); err != nil {
		t.Fatalf("HandleOutput failed: %v", err)
	}
	if len(drv.writes) != 1 || drv.writes[0].state != StateOn {
		t.Fatalf("expected one ON write, got %+v", drv.writes)
	}
}

func TestHandleOutputRejectsUnknownSlot(t *testing.T) {
	ctrl, _ := newTestController(t)
	if err := ctrl.HandleOutput(99, []byte{byte(CommandOn), 0}); err == nil {
		t.Error("expected error for unknown slot")
	}
}

func TestHandleOutputRejectsWrongLength(t *testing.T) {
	ctrl, _ := newTestController(t)
	if err := ctrl.HandleOutput(10, []byte{1}); err == nil {
		t.Error("expected error for wrong-length payload")
	}
}

// TestInterlockTakesPrecedenceOverPROFINET confirms an actuator under
// alarm interlock ignores subsequent PROFINET commands until
// released.
func TestInterlockTakesPrecedenceOverPROFINET(t *testing.T) {
	ctrl, drv := newTestController(t)
	if err := ctrl.HandleOutput(10, []byte{byte(CommandOn), 0}); err != nil {
		t.Fatalf("HandleOutput failed: %v", err)
	}

	ctrl.ApplyInterlock(10, StateOff, 0)
	drv.writes = nil

	if err := ctrl.HandleOutput(10, []byte{byte(CommandOn), 0}); err != nil {
		t.Fatalf("HandleOutput failed: %v", err)
	}
	if len(drv.writes) != 0 {
		t.Fatalf("expected PROFINET command to be dropped while interlocked, got %+v", drv.writes)
	}

	ctrl.ReleaseInterlock(10)
	if err := ctrl.HandleOutput(10, []byte{byte(CommandOn), 0}); err != nil {
		t.Fatalf("HandleOutput failed: %v", err)
	}
	if len(drv.writes) != 1 {
		t.Fatalf("expected command to apply after release, got %+v", drv.writes)
	}
}

func TestManualModeClearedByNextPROFINETCommand(t *testing.T) {
	ctrl, _ := newTestController(t)
	if err := ctrl.ManualSet(10, StateOn, 0); err != nil {
		t.Fatalf("ManualSet failed: %v", err)
	}
	if err := ctrl.HandleOutput(10, []byte{byte(CommandOff), 0}); err != nil {
		t.Fatalf("HandleOutput failed: %v", err)
	}

	snaps := ctrl.Snapshot()
	if len(snaps) != 1 || snaps[0].ManualMode {
		t.Errorf("expected manual_mode cleared after valid PROFINET command, got %+v", snaps)
	}
}

func TestMinCycleTimeDropsRapidCommands(t *testing.T) {
	drv := &fakeDriver{}
	ctrl := NewController(drv, nil, Callbacks{})
	ctrl.LoadActuators([]Config{{Slot: 10, Enabled: true, MinOnTimeMs: 10000}})

	if err := ctrl.HandleOutput(10, []byte{byte(CommandOn), 0}); err != nil {
		t.Fatalf("HandleOutput failed: %v", err)
	}
	if err := ctrl.HandleOutput(10, []byte{byte(CommandOff), 0}); err != nil {
		t.Fatalf("HandleOutput failed: %v", err)
	}
	if len(drv.writes) != 1 {
		t.Fatalf("expected second command dropped by min cycle time, got %+v", drv.writes)
	}
}

// TestMaxOnTimeForcesShutoff confirms the watchdog forces an actuator
// off once it exceeds its configured max-on-time.
func TestMaxOnTimeForcesShutoff(t *testing.T) {
	drv := &fakeDriver{}
	var events []string
	ctrl := NewController(drv, nil, Callbacks{OnEvent: func(sev, msg string) { events = append(events, msg) }})
	ctrl.LoadActuators([]Config{{Slot: 10, Enabled: true, MaxOnTimeMs: 20}})

	if err := ctrl.HandleOutput(10, []byte{byte(CommandOn), 0}); err != nil {
		t.Fatalf("HandleOutput failed: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	w := NewWatchdog(ctrl, DefaultCommandTimeout, DefaultDegradedAlarmDelay)
	w.tick()

	snaps := ctrl.Snapshot()
	if len(snaps) != 1 || snaps[0].State != StateOff {
		t.Fatalf("expected actuator forced OFF after max on time, got %+v", snaps)
	}
	if len(events) == 0 {
		t.Error("expected a safety-shutoff event")
	}
}

func TestEmergencyStopForcesAllOff(t *testing.T) {
	ctrl, drv := newTestController(t)
	ctrl.LoadActuators([]Config{{Slot: 10, Enabled: true}, {Slot: 11, Enabled: true}})
	ctrl.HandleOutput(10, []byte{byte(CommandOn), 0})
	ctrl.HandleOutput(11, []byte{byte(CommandOn), 0})
	drv.writes = nil

	ctrl.EmergencyStop()

	for _, s := range ctrl.Snapshot() {
		if s.State != StateOff {
			t.Errorf("slot %d state = %v, want OFF after emergency stop", s.Slot, s.State)
		}
	}
}
