package hub

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/ironfield/rtuhub/internal/actuator"
	"github.com/ironfield/rtuhub/internal/config"
	"github.com/ironfield/rtuhub/internal/sensor"
	"github.com/ironfield/rtuhub/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, nil))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

// seedInterlockFixture builds a module, an actuator, and an interlock
// rule between them for the interlock precedence scenario.
func seedInterlockFixture(t *testing.T, dbPath string) int64 {
	t.Helper()
	db, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer db.Close()

	moduleID, err := db.UpsertModule(store.Module{
		Slot: 3, Subslot: 1, Name: "tank level", ModuleType: "sensor", Enabled: true,
	})
	if err != nil {
		t.Fatalf("upsert module: %v", err)
	}

	cfg, err := encodeSensorConfig(sensor.Config{
		ModuleID: moduleID,
		Slot:     3,
		Variant:  sensor.VariantStatic,
		Static:   sensor.StaticConfig{Value: 0},
	})
	if err != nil {
		t.Fatalf("encode sensor config: %v", err)
	}
	if err := db.UpsertSensorConfig(cfg); err != nil {
		t.Fatalf("upsert sensor config: %v", err)
	}

	if err := db.UpsertActuator(store.Actuator{
		Slot: 10, Name: "pump", Type: "relay", SafeState: "OFF", Enabled: true,
	}); err != nil {
		t.Fatalf("upsert actuator: %v", err)
	}

	if _, err := db.UpsertRule(store.Rule{
		Scope:                   "module",
		ModuleID:                moduleID,
		Name:                    "high level interlock",
		Condition:               "ABOVE",
		ThresholdHigh:           50,
		Severity:                "CRITICAL",
		Enabled:                 true,
		AutoClear:               true,
		HysteresisPercent:       10,
		InterlockEnabled:        true,
		InterlockTargetSlot:     10,
		InterlockAction:         "OFF",
		InterlockReleaseOnClear: true,
	}); err != nil {
		t.Fatalf("upsert rule: %v", err)
	}

	return moduleID
}

// TestInterlockOverridesProfinetCommandUntilCleared confirms an
// alarm-driven interlock forces an actuator off and blocks PROFINET
// output until the alarm clears.
func TestInterlockOverridesProfinetCommandUntilCleared(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "hub.db")
	moduleID := seedInterlockFixture(t, dbPath)

	cfg := config.Default()
	cfg.DBPath = dbPath
	cfg.ProfinetEnabled = false

	h, err := New(cfg, testLogger(), Callbacks{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Shutdown()

	if err := h.actuators.HandleOutput(10, []byte{byte(actuator.CommandOn), 0}); err != nil {
		t.Fatalf("HandleOutput (initial ON): %v", err)
	}
	if snap := snapshotFor(h, 10); snap.State != actuator.StateOn {
		t.Fatalf("expected actuator ON before alarm, got %s", snap.State)
	}

	h.onSensorReading(moduleID, 3, sensor.Reading{Value: 60, Quality: sensor.Good, Timestamp: time.Now()})

	snap := snapshotFor(h, 10)
	if snap.State != actuator.StateOff || !snap.Interlocked {
		t.Fatalf("expected actuator OFF and interlocked after alarm raise, got %+v", snap)
	}

	if err := h.actuators.HandleOutput(10, []byte{byte(actuator.CommandOn), 0}); err != nil {
		t.Fatalf("HandleOutput (under interlock): %v", err)
	}
	if snap := snapshotFor(h, 10); snap.State != actuator.StateOff {
		t.Fatalf("expected actuator to stay OFF under interlock, got %s", snap.State)
	}

	h.onSensorReading(moduleID, 3, sensor.Reading{Value: 40, Quality: sensor.Good, Timestamp: time.Now()})

	if snap := snapshotFor(h, 10); snap.Interlocked {
		t.Fatalf("expected interlock released after alarm clear, got %+v", snap)
	}

	if err := h.actuators.HandleOutput(10, []byte{byte(actuator.CommandOn), 0}); err != nil {
		t.Fatalf("HandleOutput (after release): %v", err)
	}
	if snap := snapshotFor(h, 10); snap.State != actuator.StateOn {
		t.Fatalf("expected actuator ON again after interlock release, got %s", snap.State)
	}
}

func snapshotFor(h *Hub, slot int) actuator.Snapshot {
	for _, s := range h.actuators.Snapshot() {
		if s.Slot == slot {
			return s
		}
	}
	return actuator.Snapshot{}
}

// TestReloadAppliesPersistedConfiguration confirms New's reload step
// round-trips modules, sensor configs, rules, and actuators from the
// store into the live subsystems.
func TestReloadAppliesPersistedConfiguration(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "hub.db")
	seedInterlockFixture(t, dbPath)

	cfg := config.Default()
	cfg.DBPath = dbPath
	cfg.ProfinetEnabled = false

	h, err := New(cfg, testLogger(), Callbacks{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Shutdown()

	sensorSnaps := h.sensors.Snapshot()
	if len(sensorSnaps) != 1 {
		t.Fatalf("expected 1 sensor instance loaded, got %d", len(sensorSnaps))
	}

	if len(h.actuators.Snapshot()) != 1 {
		t.Fatalf("expected 1 actuator loaded, got %d", len(h.actuators.Snapshot()))
	}
}

// TestHealthSnapshotAggregatesSubsystems confirms buildSnapshot pulls
// a consistent picture across sensors, actuators, and the logger.
func TestHealthSnapshotAggregatesSubsystems(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "hub.db")
	seedInterlockFixture(t, dbPath)

	cfg := config.Default()
	cfg.DBPath = dbPath
	cfg.ProfinetEnabled = false

	h, err := New(cfg, testLogger(), Callbacks{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Shutdown()

	snap := h.buildSnapshot()
	if snap.Sensors.InstanceCount != 1 {
		t.Fatalf("expected 1 sensor instance in snapshot, got %d", snap.Sensors.InstanceCount)
	}
	if snap.Actuators.Count != 1 {
		t.Fatalf("expected 1 actuator in snapshot, got %d", snap.Actuators.Count)
	}
}

// TestAlarmHysteresisSuppressesClearUntilBelowBand confirms a value
// that drops back below the raise threshold but stays inside the
// hysteresis band keeps the interlock engaged, and only a value past
// the band releases it.
func TestAlarmHysteresisSuppressesClearUntilBelowBand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "hub.db")
	moduleID := seedInterlockFixture(t, dbPath)

	cfg := config.Default()
	cfg.DBPath = dbPath
	cfg.ProfinetEnabled = false

	h, err := New(cfg, testLogger(), Callbacks{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Shutdown()

	if err := h.actuators.HandleOutput(10, []byte{byte(actuator.CommandOn), 0}); err != nil {
		t.Fatalf("HandleOutput (initial ON): %v", err)
	}

	// Rule raises ABOVE 50 with 10% hysteresis, so the clear band is
	// below 45 (50 - 10%*50).
	h.onSensorReading(moduleID, 3, sensor.Reading{Value: 60, Quality: sensor.Good, Timestamp: time.Now()})
	if snap := snapshotFor(h, 10); !snap.Interlocked {
		t.Fatalf("expected interlock engaged after raise, got %+v", snap)
	}

	h.onSensorReading(moduleID, 3, sensor.Reading{Value: 48, Quality: sensor.Good, Timestamp: time.Now()})
	if snap := snapshotFor(h, 10); !snap.Interlocked {
		t.Fatalf("expected interlock to stay engaged inside the hysteresis band, got %+v", snap)
	}

	h.onSensorReading(moduleID, 3, sensor.Reading{Value: 40, Quality: sensor.Good, Timestamp: time.Now()})
	if snap := snapshotFor(h, 10); snap.Interlocked {
		t.Fatalf("expected interlock released once value cleared the hysteresis band, got %+v", snap)
	}
}

// seedMaxOnTimeFixture builds a single actuator whose max_on_time_ms
// is short enough to exercise the watchdog's safety shutoff within a
// test's patience.
func seedMaxOnTimeFixture(t *testing.T, dbPath string, maxOnTimeMs int64) {
	t.Helper()
	db, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer db.Close()

	if err := db.UpsertActuator(store.Actuator{
		Slot: 10, Name: "pump", Type: "relay", SafeState: "OFF", Enabled: true,
		MaxOnTimeMs: maxOnTimeMs,
	}); err != nil {
		t.Fatalf("upsert actuator: %v", err)
	}
}

// TestWatchdogForcesOffAfterMaxOnTime confirms the 1Hz watchdog shuts
// an actuator off once it has held ON longer than its configured
// max_on_time_ms, independent of any PROFINET or manual command.
func TestWatchdogForcesOffAfterMaxOnTime(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "hub.db")
	seedMaxOnTimeFixture(t, dbPath, 200)

	cfg := config.Default()
	cfg.DBPath = dbPath
	cfg.ProfinetEnabled = false

	h, err := New(cfg, testLogger(), Callbacks{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.watchdog.Start(ctx)
	defer h.watchdog.Stop()

	if err := h.actuators.HandleOutput(10, []byte{byte(actuator.CommandOn), 0}); err != nil {
		t.Fatalf("HandleOutput (ON): %v", err)
	}
	if snap := snapshotFor(h, 10); snap.State != actuator.StateOn {
		t.Fatalf("expected actuator ON, got %s", snap.State)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if snapshotFor(h, 10).State == actuator.StateOff {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("expected watchdog to force actuator OFF after max_on_time_ms, still %s", snapshotFor(h, 10).State)
}

// TestWatchdogEntersDegradedModeAfterSilentConnect confirms a
// controller that reports connected but never receives a command
// still reaches degraded mode once CommandTimeout+DegradedAlarmDelay
// elapses, anchored on the connect event rather than never triggering.
func TestWatchdogEntersDegradedModeAfterSilentConnect(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "hub.db")
	seedMaxOnTimeFixture(t, dbPath, 0)

	cfg := config.Default()
	cfg.DBPath = dbPath
	cfg.ProfinetEnabled = false
	cfg.CommandTimeout = 50 * time.Millisecond
	cfg.DegradedAlarmDelay = 50 * time.Millisecond

	degraded := make(chan bool, 1)
	h, err := New(cfg, testLogger(), Callbacks{
		OnDegradedMode: func(d bool) {
			select {
			case degraded <- d:
			default:
			}
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.watchdog.Start(ctx)
	defer h.watchdog.Stop()

	h.actuators.NotifyConnected(true)

	select {
	case d := <-degraded:
		if !d {
			t.Fatalf("expected degraded=true, got false")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("expected watchdog to enter degraded mode for a connected-but-silent controller")
	}
}

// TestDataLoggerDrainsFullQueueInOneWake confirms a burst of queued
// entries larger than one MaxLogBatchSize batch all reach local
// storage within a single flush interval, not spread across several.
func TestDataLoggerDrainsFullQueueInOneWake(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "hub.db")
	moduleID := seedInterlockFixture(t, dbPath)

	cfg := config.Default()
	cfg.DBPath = dbPath
	cfg.ProfinetEnabled = false
	cfg.LogFlushInterval = 50 * time.Millisecond

	h, err := New(cfg, testLogger(), Callbacks{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.logd.Start(ctx)
	defer h.logd.Stop()

	const entryCount = 200
	for i := 0; i < entryCount; i++ {
		h.logd.Log(moduleID, float64(i), "GOOD")
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if h.logd.Stats().QueueDepth == 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if depth := h.logd.Stats().QueueDepth; depth != 0 {
		t.Fatalf("expected queue fully drained within one wake, %d entries left", depth)
	}

	rows, err := h.db.RecentSensorLog(moduleID, entryCount+10)
	if err != nil {
		t.Fatalf("RecentSensorLog: %v", err)
	}
	if len(rows) != entryCount {
		t.Fatalf("expected %d rows persisted locally, got %d", entryCount, len(rows))
	}
}

// TestSensorReadingQualityPropagatesToModuleStatus confirms
// onSensorReading persists the reading's quality verbatim through to
// the module's status column, including a degrade from UNCERTAIN to
// BAD across consecutive readings.
func TestSensorReadingQualityPropagatesToModuleStatus(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "hub.db")
	moduleID := seedInterlockFixture(t, dbPath)

	cfg := config.Default()
	cfg.DBPath = dbPath
	cfg.ProfinetEnabled = false

	h, err := New(cfg, testLogger(), Callbacks{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Shutdown()

	h.onSensorReading(moduleID, 3, sensor.Reading{Value: 10, Quality: sensor.Uncertain, Timestamp: time.Now()})
	mod, err := h.db.GetModule(moduleID)
	if err != nil {
		t.Fatalf("GetModule: %v", err)
	}
	if mod.Status != string(sensor.Uncertain) {
		t.Fatalf("expected status UNCERTAIN, got %s", mod.Status)
	}

	h.onSensorReading(moduleID, 3, sensor.Reading{Value: 10, Quality: sensor.Bad, Timestamp: time.Now()})
	mod, err = h.db.GetModule(moduleID)
	if err != nil {
		t.Fatalf("GetModule: %v", err)
	}
	if mod.Status != string(sensor.Bad) {
		t.Fatalf("expected status BAD, got %s", mod.Status)
	}
}
