package sensor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ironfield/rtuhub/internal/rtuerr"
)

func notStaticError(moduleID int64) error {
	return rtuerr.New(rtuerr.InvalidParam, "sensor", "SetStaticValue", fmt.Sprintf("module %d is not a writable static sensor", moduleID))
}

// Instance is one running sensor: its driver, calibration, and
// smoothing, plus the connection/failure bookkeeping that feeds
// quality classification.
type Instance struct {
	ModuleID int64
	Slot     int

	cfg        Config
	drv        driver
	calibrator Calibrator
	smoother   *smoother

	mu                   sync.RWMutex
	lastValue            float64
	lastQuality          Quality
	lastReadAt           time.Time
	connected            bool
	consecutiveSuccesses int64
	consecutiveFailures  int64
	totalReads           int64
	totalFailures        int64
}

// NewInstance builds a running Instance from persisted configuration.
func NewInstance(cfg Config, resolver InputResolver) (*Instance, error) {
	drv, err := NewDriver(cfg, resolver)
	if err != nil {
		return nil, err
	}
	return &Instance{
		ModuleID:    cfg.ModuleID,
		Slot:        cfg.Slot,
		cfg:         cfg,
		drv:         drv,
		calibrator:  NewCalibrator(cfg.Calibration),
		smoother:    newSmoother(cfg.EMA),
		lastQuality: NotConnected,
	}, nil
}

// Read performs one full cycle: raw driver read, calibration, EMA
// smoothing, then quality classification and counter bookkeeping.
func (in *Instance) Read(ctx context.Context) Reading {
	now := time.Now()
	raw, err := in.drv.read(ctx)

	in.mu.Lock()
	defer in.mu.Unlock()

	in.totalReads++
	if err != nil || !raw.connected {
		in.totalFailures++
		in.consecutiveFailures++
		in.consecutiveSuccesses = 0
		in.connected = false
		in.lastQuality = in.classifyFailureLocked(now)
		return Reading{Value: in.lastValue, Quality: in.lastQuality, Timestamp: now}
	}

	in.consecutiveSuccesses++
	in.consecutiveFailures = 0
	wasDisconnected := !in.connected
	in.connected = true

	value := in.calibrator.Apply(raw.value)
	if in.smoother != nil {
		if wasDisconnected {
			in.smoother.reset()
		}
		value = in.smoother.push(value)
	}

	quality := Good
	if in.cfg.ValidMax > in.cfg.ValidMin && (value < in.cfg.ValidMin || value > in.cfg.ValidMax) {
		quality = Uncertain
	}

	in.lastValue = value
	in.lastQuality = quality
	in.lastReadAt = now

	return Reading{Value: value, Quality: quality, Timestamp: now}
}

// classifyFailureLocked decides the reported quality after a failed
// read: NOT_CONNECTED once the last good read is older than
// StaleTimeoutMs, UNCERTAIN while the failure streak is still below
// FailureThreshold, and BAD once it reaches FailureThreshold. Caller
// must hold in.mu.
func (in *Instance) classifyFailureLocked(now time.Time) Quality {
	if in.cfg.StaleTimeoutMs > 0 && !in.lastReadAt.IsZero() {
		if now.Sub(in.lastReadAt) > time.Duration(in.cfg.StaleTimeoutMs)*time.Millisecond {
			return NotConnected
		}
	}
	if in.cfg.FailureThreshold > 0 && in.consecutiveFailures >= in.cfg.FailureThreshold {
		return Bad
	}
	return Uncertain
}

// Snapshot is the read-only view of an instance's current state,
// used by the PROFINET bridge, health reporting, and the data logger.
type Snapshot struct {
	ModuleID             int64
	Slot                 int
	Value                float64
	Quality              Quality
	Connected            bool
	ConsecutiveSuccesses int64
	ConsecutiveFailures  int64
	TotalReads           int64
	TotalFailures        int64
	LastReadAt           time.Time
}

// Snapshot returns the instance's current state without performing a
// read.
func (in *Instance) Snapshot() Snapshot {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return Snapshot{
		ModuleID:             in.ModuleID,
		Slot:                 in.Slot,
		Value:                in.lastValue,
		Quality:              in.lastQuality,
		Connected:            in.connected,
		ConsecutiveSuccesses: in.consecutiveSuccesses,
		ConsecutiveFailures:  in.consecutiveFailures,
		TotalReads:           in.totalReads,
		TotalFailures:        in.totalFailures,
		LastReadAt:           in.lastReadAt,
	}
}

// Value returns the current engineering-unit value and whether the
// instance has ever produced a successful reading. It implements
// InputResolver for the Calculated variant.
func (in *Instance) Value() (float64, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.lastValue, !in.lastReadAt.IsZero()
}

// SetStaticValue updates a writable Static sensor's value in place.
func (in *Instance) SetStaticValue(v float64) error {
	sd, ok := in.drv.(*staticDriver)
	if !ok {
		return notStaticError(in.ModuleID)
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	return sd.setValue(v)
}

func (in *Instance) PollInterval() time.Duration {
	var ms int64
	switch in.cfg.Variant {
	case VariantPhysical:
		ms = in.cfg.Physical.PollRateMs
	case VariantADC:
		ms = in.cfg.ADC.PollRateMs
	case VariantWebPoll:
		ms = in.cfg.WebPoll.PollRateMs
	case VariantCalculated:
		ms = in.cfg.Calculated.PollRateMs
	case VariantStatic:
		return 0
	}
	if ms <= 0 {
		ms = 1000
	}
	return time.Duration(ms) * time.Millisecond
}
