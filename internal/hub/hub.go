// Package hub is the top-level orchestrator: it wires persistence,
// the sensor manager, the alarm engine, the actuator controller and
// its watchdog, the PROFINET bridge, the data logger, and the health
// collector into one process, and exposes the init/start/stop/
// shutdown/get_stats surface.
package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ironfield/rtuhub/internal/actuator"
	"github.com/ironfield/rtuhub/internal/alarm"
	"github.com/ironfield/rtuhub/internal/config"
	"github.com/ironfield/rtuhub/internal/datalogger"
	"github.com/ironfield/rtuhub/internal/health"
	"github.com/ironfield/rtuhub/internal/profinet"
	"github.com/ironfield/rtuhub/internal/profinet/profinetsim"
	"github.com/ironfield/rtuhub/internal/rtuerr"
	"github.com/ironfield/rtuhub/internal/sensor"
	"github.com/ironfield/rtuhub/internal/store"
)

// Callbacks are the process-wide hooks: degraded mode, alarm
// raised/cleared, and PROFINET connect/disconnect. There is no hook for
// PROFINET output data.
type Callbacks struct {
	OnDegradedMode    func(degraded bool)
	OnAlarmRaised     func(rule alarm.Rule, h alarm.History)
	OnAlarmCleared    func(rule alarm.Rule, h alarm.History)
	OnProfinetConnect func()
	OnProfinetDisconnect func()
}

// Hub owns every subsystem container and the cross-wiring between
// them: components never hold a direct handle to one another, only
// callbacks the hub installs.
type Hub struct {
	cfg    config.Config
	logger *slog.Logger
	cb     Callbacks

	db        *store.Store
	sensors   *sensor.Manager
	alarms    *alarm.Engine
	actuators *actuator.Controller
	watchdog  *actuator.Watchdog
	bridge    *profinet.Bridge
	logd      *datalogger.Logger
	health    *health.Collector

	mu       sync.Mutex
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	eg       *errgroup.Group
}

// New initializes the hub: opens the store, loads configuration from
// it, and wires every subsystem's callbacks. It does not start any
// worker goroutine; call Start for that.
func New(cfg config.Config, logger *slog.Logger, cb Callbacks) (*Hub, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, rtuerr.Wrap(err, rtuerr.IoError, "hub", "New", "open persistence store")
	}

	h := &Hub{cfg: cfg, logger: logger, cb: cb, db: db}

	h.actuators = actuator.NewController(loggingGPIODriver{logger: logger}, logger, actuator.Callbacks{
		OnEvent: h.onActuatorEvent,
		OnDegradedModeChange: func(degraded bool) {
			if h.logd != nil {
				h.logd.NotifyConnection(!degraded)
			}
			if h.cb.OnDegradedMode != nil {
				h.cb.OnDegradedMode(degraded)
			}
		},
		OnStateChange: h.onActuatorStateChange,
	})
	h.watchdog = actuator.NewWatchdog(h.actuators, cfg.CommandTimeout, cfg.DegradedAlarmDelay)

	h.alarms = alarm.NewEngine(alarm.StoreAdapter{DB: db}, logger, alarm.Callbacks{
		OnRaised: func(r alarm.Rule, hist alarm.History) {
			if h.cb.OnAlarmRaised != nil {
				h.cb.OnAlarmRaised(r, hist)
			}
		},
		OnCleared: func(r alarm.Rule, hist alarm.History) {
			if h.cb.OnAlarmCleared != nil {
				h.cb.OnAlarmCleared(r, hist)
			}
		},
		Interlock: func(targetSlot int, action alarm.InterlockAction, pwmDuty int, engage bool) {
			if engage {
				h.actuators.ApplyInterlock(targetSlot, actuator.State(action), pwmDuty)
			} else {
				h.actuators.ReleaseInterlock(targetSlot)
			}
		},
	}, nil)

	h.logd = datalogger.NewLogger(datalogger.Config{
		Device:           cfg.DeviceName,
		Interval:         cfg.LogFlushInterval,
		MaxQueueAge:      cfg.LogMaxQueueAge,
		LocalEnabled:     true,
		RemoteEnabled:    cfg.RemoteEnabled,
		RemoteURL:        cfg.RemoteURL,
		RemoteAPIKey:     cfg.RemoteAPIKey,
		FlushOnReconnect: cfg.FlushOnReconnect,
	}, storeLogAdapter{db: db}, logger)

	h.sensors = sensor.NewManager(cfg.SensorTick, logger, sensor.Callbacks{
		OnReading: h.onSensorReading,
	})

	if cfg.ProfinetEnabled {
		stack := profinetsim.New()
		h.bridge = profinet.NewBridge(stack, cfg.ProfinetTick, logger, profinet.Callbacks{
			OnConnect: func() {
				h.actuators.NotifyConnected(true)
				h.logd.NotifyConnection(true)
				if h.cb.OnProfinetConnect != nil {
					h.cb.OnProfinetConnect()
				}
			},
			OnDisconnect: func() {
				h.actuators.NotifyConnected(false)
				h.logd.NotifyConnection(false)
				if h.cb.OnProfinetDisconnect != nil {
					h.cb.OnProfinetDisconnect()
				}
			},
			OnData: func(slot, subslot int, data []byte) {
				if err := h.actuators.HandleOutput(slot, data); err != nil {
					h.logger.Error("hub: actuator output rejected", "slot", slot, "error", err)
				}
			},
		})
	}

	h.health = health.NewCollector(nil)

	if err := h.reload(); err != nil {
		db.Close()
		return nil, err
	}
	return h, nil
}

// ReloadAll re-runs reload against the live subsystems. It is the
// entry point for both an operator-triggered reload and the
// config-file watcher installed by Start.
func (h *Hub) ReloadAll() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reload()
}

// reload loads modules, sensor configs, alarm rules, and actuators
// from the store and applies them to the live subsystems. Config
// written to the store always reaches a running hub through this
// path, whether at startup or on a later reload.
func (h *Hub) reload() error {
	modules, err := h.db.ListModules()
	if err != nil {
		return rtuerr.Wrap(err, rtuerr.IoError, "hub", "reload", "list modules")
	}

	var instances []*sensor.Instance
	for _, m := range modules {
		row, err := h.db.GetSensorConfig(m.ID)
		if err != nil {
			if rtuerr.KindOf(err) == rtuerr.NotFound {
				continue
			}
			return rtuerr.Wrap(err, rtuerr.IoError, "hub", "reload", "get sensor config")
		}
		cfg, err := decodeSensorConfig(m, row)
		if err != nil {
			h.logger.Error("hub: failed to decode sensor config", "module_id", m.ID, "error", err)
			continue
		}
		in, err := sensor.NewInstance(cfg, h.sensors)
		if err != nil {
			h.logger.Error("hub: failed to build sensor instance", "module_id", m.ID, "error", err)
			continue
		}
		instances = append(instances, in)
	}
	h.sensors.ReloadSensors(instances)

	rules, err := alarm.LoadRulesFromStore(h.db)
	if err != nil {
		return rtuerr.Wrap(err, rtuerr.IoError, "hub", "reload", "load alarm rules")
	}
	h.alarms.LoadRules(rules)

	actRows, err := h.db.ListActuators()
	if err != nil {
		return rtuerr.Wrap(err, rtuerr.IoError, "hub", "reload", "list actuators")
	}
	actCfgs := make([]actuator.Config, len(actRows))
	for i, a := range actRows {
		actCfgs[i] = actuator.Config{
			Slot:           a.Slot,
			Name:           a.Name,
			Type:           a.Type,
			GPIOPin:        a.GPIOPin,
			ActiveLow:      a.ActiveLow,
			SafeState:      actuator.State(a.SafeState),
			MinOnTimeMs:    a.MinOnTimeMs,
			MaxOnTimeMs:    a.MaxOnTimeMs,
			PWMFrequencyHz: a.PWMFrequencyHz,
			Enabled:        a.Enabled,
		}
	}
	h.actuators.LoadActuators(actCfgs)

	if h.bridge != nil {
		for _, m := range modules {
			if m.ModuleType == "sensor" {
				if err := h.bridge.AddModule(m.Slot, m.ModuleIdent, m.Subslot, m.SubmoduleIdent, 5, 0); err != nil {
					h.logger.Error("hub: failed to add profinet input module", "slot", m.Slot, "error", err)
				}
			}
		}
		for _, a := range actRows {
			if err := h.bridge.AddModule(a.Slot, 0, 0, 0, 0, 2); err != nil {
				h.logger.Error("hub: failed to add profinet output module", "slot", a.Slot, "error", err)
			}
		}
	}
	return nil
}

// onSensorReading fans a fresh reading out to the alarm engine, the
// PROFINET input cache, and the data logger. Alarm evaluation runs
// synchronously on the sensor manager's goroutine so a reading and
// its alarm check always observe the same value.
func (h *Hub) onSensorReading(moduleID int64, slot int, r sensor.Reading) {
	h.alarms.CheckValue(moduleID, r.Value, r.Timestamp)

	if h.bridge != nil {
		iops := sensor.WireIOPS(r.Quality)
		if err := h.bridge.UpdateInputFloat(slot, 1, float32(r.Value), sensor.QualityByte(r.Quality)); err != nil {
			h.logger.Debug("hub: profinet input update failed", "slot", slot, "error", err)
		}
		if err := h.bridge.SetInputIOPS(slot, 1, profinet.IOPS(iops)); err != nil {
			h.logger.Debug("hub: profinet iops update failed", "slot", slot, "error", err)
		}
	}

	h.logd.Log(moduleID, r.Value, string(r.Quality))

	if err := h.db.SetModuleStatus(moduleID, string(r.Quality)); err != nil {
		h.logger.Debug("hub: failed to persist module status", "module_id", moduleID, "error", err)
	}
}

func (h *Hub) onActuatorEvent(severity, message string) {
	if _, err := h.db.InsertEvent(store.Event{Severity: severity, Source: "actuator", Message: message}); err != nil {
		h.logger.Error("hub: failed to persist actuator event", "error", err)
	}
}

func (h *Hub) onActuatorStateChange(slot int, state actuator.State, pwmDuty int) {
	now := time.Now()
	if err := h.db.UpsertActuatorState(store.ActuatorStateRow{
		Slot:            slot,
		State:           string(state),
		PWMDuty:         pwmDuty,
		LastStateChange: &now,
		LastCommandTime: &now,
	}); err != nil {
		h.logger.Error("hub: failed to persist actuator state", "slot", slot, "error", err)
	}
}

// Start launches every subsystem worker, each owning exactly one
// goroutine; Start just sequences their individual Start/Run entry
// points under a shared cancellation context.
func (h *Hub) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.cancel = cancel
	eg, egCtx := errgroup.WithContext(ctx)
	h.eg = eg
	h.mu.Unlock()

	h.sensors.Start(ctx)
	h.watchdog.Start(ctx)
	h.logd.Start(ctx)
	if h.bridge != nil {
		if err := h.bridge.Start(ctx); err != nil {
			cancel()
			return rtuerr.Wrap(err, rtuerr.IoError, "hub", "Start", "start profinet bridge")
		}
	}

	if err := config.WatchFile(ctx, h.cfg.ConfigFile, h.logger, func() {
		if err := h.ReloadAll(); err != nil {
			h.logger.Error("hub: config reload failed", "error", err)
		}
	}); err != nil {
		h.logger.Error("hub: failed to watch config file", "path", h.cfg.ConfigFile, "error", err)
	}

	eg.Go(func() error {
		return h.runHealthUpdater(egCtx)
	})

	h.logger.Info("hub started", "device", h.cfg.DeviceName, "profinet_enabled", h.cfg.ProfinetEnabled)
	return nil
}

// runHealthUpdater is the 1Hz health-snapshot producer.
func (h *Hub) runHealthUpdater(ctx context.Context) error {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.health.Update(h.buildSnapshot())
		}
	}
}

func (h *Hub) buildSnapshot() health.Snapshot {
	sensorSnaps := h.sensors.Snapshot()
	var totalReads, totalFailures int64
	for _, s := range sensorSnaps {
		totalReads += s.TotalReads
		totalFailures += s.TotalFailures
	}

	actSnaps := h.actuators.Snapshot()
	degraded := false
	connected := false
	for _, a := range actSnaps {
		if a.ControllerConnected {
			connected = true
		}
	}

	snap := health.Snapshot{
		Sensors: health.SensorStats{
			InstanceCount: len(sensorSnaps),
			TotalReads:    totalReads,
			TotalFailures: totalFailures,
		},
		Actuators: health.ActuatorStats{
			Count:               len(actSnaps),
			Degraded:            degraded,
			ControllerConnected: connected,
		},
		Logger: health.LoggerStats{
			QueueDepth:     h.logd.Stats().QueueDepth,
			RemoteFailures: h.logd.Stats().RemoteFailures,
		},
	}
	if h.bridge != nil {
		bs := h.bridge.Snapshot()
		snap.Profinet = health.ProfinetStats{Connected: bs.Connected, State: string(bs.State)}
	}
	active, err := h.db.ListActiveAlarms()
	if err == nil {
		snap.Alarms = health.AlarmStats{ActiveCount: len(active)}
	}
	return snap
}

// Stop halts every worker but leaves the store open, so GetStats
// keeps working during an orderly shutdown window.
func (h *Hub) Stop() {
	h.mu.Lock()
	cancel := h.cancel
	eg := h.eg
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	h.sensors.Stop()
	h.watchdog.Stop()
	h.logd.Stop()
	if h.bridge != nil {
		h.bridge.Stop()
	}
	if eg != nil {
		eg.Wait()
	}
	h.logger.Info("hub stopped")
}

// Shutdown stops every worker and closes the store.
func (h *Hub) Shutdown() error {
	h.Stop()
	return h.db.Close()
}

// SetCallbacks replaces the process-wide callback set.
func (h *Hub) SetCallbacks(cb Callbacks) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cb = cb
}

// GetStats returns the latest health snapshot.
func (h *Hub) GetStats() health.Snapshot {
	return h.health.Snapshot()
}

// EmergencyStop forces every actuator OFF immediately, bypassing
// every other command-precedence rule.
func (h *Hub) EmergencyStop() {
	h.actuators.EmergencyStop()
}

// loggingGPIODriver stands in for real GPIO/PWM hardware access: it
// logs every write. A target-specific backend swaps in behind the
// same actuator.Driver interface.
type loggingGPIODriver struct {
	logger *slog.Logger
}

func (d loggingGPIODriver) Write(slot int, state actuator.State, pwmDuty int) error {
	d.logger.Debug("gpio write", "slot", slot, "state", state, "pwm_duty", pwmDuty)
	return nil
}

// storeLogAdapter implements datalogger.Persistence over
// internal/store without the datalogger package importing it
// directly.
type storeLogAdapter struct {
	db *store.Store
}

func (a storeLogAdapter) InsertSensorLogBatch(entries []datalogger.LocalEntry) error {
	rows := make([]store.SensorLogEntry, len(entries))
	for i, e := range entries {
		rows[i] = store.SensorLogEntry{ModuleID: e.ModuleID, Value: e.Value, Status: e.Status, Timestamp: e.Timestamp}
	}
	return a.db.InsertSensorLogBatch(rows)
}
