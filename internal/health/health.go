// Package health aggregates a point-in-time snapshot of every
// subsystem (component H) and exposes it both as a plain struct for
// the hub's get_stats surface and as Prometheus gauges for scraping.
// HTTP exposition of those gauges is out of scope here; the hub wires
// the registerer into whatever transport the deployment chooses.
package health

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ironfield/rtuhub/internal/store"
)

// SensorStats summarizes the sensor manager.
type SensorStats struct {
	InstanceCount int
	TotalReads    int64
	TotalFailures int64
}

// AlarmStats summarizes the alarm engine.
type AlarmStats struct {
	ActiveCount int
}

// ActuatorStats summarizes the actuator controller.
type ActuatorStats struct {
	Count               int
	Degraded            bool
	ControllerConnected bool
}

// ProfinetStats summarizes the PROFINET bridge.
type ProfinetStats struct {
	Connected bool
	State     string
}

// LoggerStats summarizes the data logger.
type LoggerStats struct {
	QueueDepth     int
	RemoteFailures int64
}

// Snapshot is the full cross-subsystem health picture, replaced
// atomically by the collector on every Update: readers take a
// snapshot under its own mutex, producers write atomically by
// replace.
type Snapshot struct {
	Sensors    SensorStats
	Alarms     AlarmStats
	Actuators  ActuatorStats
	Profinet   ProfinetStats
	Logger     LoggerStats
	UpdatedAt  time.Time
}

// Collector holds the current Snapshot and mirrors it into Prometheus
// gauges for scraping.
type Collector struct {
	mu  sync.RWMutex
	cur Snapshot

	sensorReads     prometheus.Gauge
	sensorFailures  prometheus.Gauge
	activeAlarms    prometheus.Gauge
	actuatorCount   prometheus.Gauge
	degraded        prometheus.Gauge
	profinetUp      prometheus.Gauge
	loggerQueue     prometheus.Gauge
	remoteFailures  prometheus.Gauge
}

// NewCollector registers its gauges with registerer (pass
// prometheus.DefaultRegisterer, or a fresh prometheus.NewRegistry()
// in tests).
func NewCollector(registerer prometheus.Registerer) *Collector {
	c := &Collector{
		sensorReads:    prometheus.NewGauge(prometheus.GaugeOpts{Name: "rtuhub_sensor_total_reads", Help: "Cumulative sensor reads across all instances."}),
		sensorFailures: prometheus.NewGauge(prometheus.GaugeOpts{Name: "rtuhub_sensor_total_failures", Help: "Cumulative sensor read failures across all instances."}),
		activeAlarms:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "rtuhub_alarms_active", Help: "Currently active (non-CLEARED) alarm history rows."}),
		actuatorCount:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "rtuhub_actuators_configured", Help: "Configured actuator count."}),
		degraded:       prometheus.NewGauge(prometheus.GaugeOpts{Name: "rtuhub_actuators_degraded", Help: "1 if the actuator controller is in degraded mode."}),
		profinetUp:     prometheus.NewGauge(prometheus.GaugeOpts{Name: "rtuhub_profinet_connected", Help: "1 if the PROFINET bridge reports CONNECTED."}),
		loggerQueue:    prometheus.NewGauge(prometheus.GaugeOpts{Name: "rtuhub_logger_queue_depth", Help: "Current data-logger queue depth."}),
		remoteFailures: prometheus.NewGauge(prometheus.GaugeOpts{Name: "rtuhub_logger_remote_failures", Help: "Consecutive remote POST failures."}),
	}
	if registerer != nil {
		registerer.MustRegister(c.sensorReads, c.sensorFailures, c.activeAlarms, c.actuatorCount, c.degraded, c.profinetUp, c.loggerQueue, c.remoteFailures)
	}
	return c
}

// Update replaces the current snapshot and mirrors it into the
// registered gauges.
func (c *Collector) Update(s Snapshot) {
	s.UpdatedAt = time.Now()

	c.mu.Lock()
	c.cur = s
	c.mu.Unlock()

	c.sensorReads.Set(float64(s.Sensors.TotalReads))
	c.sensorFailures.Set(float64(s.Sensors.TotalFailures))
	c.activeAlarms.Set(float64(s.Alarms.ActiveCount))
	c.actuatorCount.Set(float64(s.Actuators.Count))
	c.loggerQueue.Set(float64(s.Logger.QueueDepth))
	c.remoteFailures.Set(float64(s.Logger.RemoteFailures))
	if s.Actuators.Degraded {
		c.degraded.Set(1)
	} else {
		c.degraded.Set(0)
	}
	if s.Profinet.Connected {
		c.profinetUp.Set(1)
	} else {
		c.profinetUp.Set(0)
	}
}

// Snapshot returns the most recently published snapshot.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cur
}

// EventLog reads the persisted event book (component A's events
// table) for health/diagnostics endpoints.
type EventLog struct {
	db *store.Store
}

// NewEventLog wraps db for event-log reads.
func NewEventLog(db *store.Store) *EventLog {
	return &EventLog{db: db}
}

// Recent returns the newest limit events, newest first.
func (l *EventLog) Recent(limit int) ([]store.Event, error) {
	return l.db.RecentEvents(limit)
}
