package actuator

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ironfield/rtuhub/internal/rtuerr"
)

// Callbacks lets owners react to controller events (degraded mode
// entry/exit, safety shutoff) without the controller importing the
// health or store packages directly.
type Callbacks struct {
	OnEvent func(severity, message string)
	// OnDegradedModeChange is invoked with degraded=true on entry and
	// degraded=false on exit.
	OnDegradedModeChange func(degraded bool)
	// OnStateChange is invoked after every committed state change, used
	// to persist actuator_state rows.
	OnStateChange func(slot int, state State, pwmDuty int)
}

// Controller owns the actuator array and applies commands with a
// fixed precedence: alarm interlock > manual override > PROFINET
// cyclic output.
type Controller struct {
	driver Driver
	logger *slog.Logger
	cb     Callbacks

	mu        sync.Mutex
	actuators map[int]*runtimeState

	connected      bool
	connectedAt    time.Time
	degraded       bool
	noCommandSince *time.Time
}

// NewController builds a Controller over the given physical driver.
func NewController(driver Driver, logger *slog.Logger, cb Callbacks) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		driver:    driver,
		logger:    logger,
		cb:        cb,
		actuators: make(map[int]*runtimeState),
	}
}

// LoadActuators replaces the actuator table from configuration.
func (c *Controller) LoadActuators(configs []Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := make(map[int]*runtimeState, len(configs))
	for _, cfg := range configs {
		if existing, ok := c.actuators[cfg.Slot]; ok {
			existing.cfg = cfg
			next[cfg.Slot] = existing
			continue
		}
		next[cfg.Slot] = &runtimeState{cfg: cfg, state: cfg.SafeState}
	}
	c.actuators = next
}

// HandleOutput applies a PROFINET cyclic output command. data is the
// 2-byte {command, pwm_duty} record.
func (c *Controller) HandleOutput(slot int, data []byte) error {
	if len(data) != 2 {
		return rtuerr.New(rtuerr.InvalidParam, "actuator", "HandleOutput", "output record must be 2 bytes")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rs, ok := c.actuators[slot]
	if !ok {
		return rtuerr.New(rtuerr.NotFound, "actuator", "HandleOutput", fmt.Sprintf("unknown actuator slot %d", slot))
	}

	c.touchCommandLocked()

	newState, newPWM, err := decodeCommand(data[0], data[1])
	if err != nil {
		return err
	}

	now := time.Now()
	if rs.interlocked {
		c.logger.Debug("actuator: output dropped, interlock active", "slot", slot)
		return nil
	}
	if !rs.lastStateChange.IsZero() && rs.cfg.MinOnTimeMs > 0 && now.Sub(rs.lastStateChange) < time.Duration(rs.cfg.MinOnTimeMs)*time.Millisecond {
		c.logger.Debug("actuator: output dropped, below min cycle time", "slot", slot)
		return nil
	}
	if rs.manualMode {
		// The manual override blocks exactly one PROFINET cycle, then
		// clears on the next valid PROFINET command.
		c.logger.Debug("actuator: output dropped, manual override active", "slot", slot)
		rs.manualMode = false
		return nil
	}

	if err := c.applyLocked(rs, newState, newPWM, now); err != nil {
		return err
	}
	c.exitDegradedLocked()
	return nil
}

// ManualSet applies an operator-commanded state immediately and sets
// manual_mode. It bypasses min-cycle-time but is itself subject to
// interlock precedence.
func (c *Controller) ManualSet(slot int, state State, pwmDuty int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rs, ok := c.actuators[slot]
	if !ok {
		return rtuerr.New(rtuerr.NotFound, "actuator", "ManualSet", fmt.Sprintf("unknown actuator slot %d", slot))
	}
	if rs.interlocked {
		return rtuerr.New(rtuerr.NotSupported, "actuator", "ManualSet", "actuator is under alarm interlock")
	}
	if err := c.applyLocked(rs, state, pwmDuty, time.Now()); err != nil {
		return err
	}
	rs.manualMode = true
	return nil
}

// EmergencyStop forces every actuator OFF immediately, overriding
// manual mode and interlocks, and emits a critical event.
func (c *Controller) EmergencyStop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for _, rs := range c.actuators {
		rs.interlocked = false
		rs.manualMode = false
		c.applyLocked(rs, StateOff, 0, now)
	}
	if c.cb.OnEvent != nil {
		c.cb.OnEvent("CRITICAL", "emergency stop: all actuators forced OFF")
	}
}

// ApplyInterlock is called by the alarm engine to force an actuator
// into a state and hold it there, taking precedence over manual
// override and PROFINET output.
func (c *Controller) ApplyInterlock(slot int, action State, pwmDuty int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rs, ok := c.actuators[slot]
	if !ok {
		return
	}
	rs.interlocked = true
	rs.interlockAction = action
	rs.interlockDuty = pwmDuty
	c.applyLocked(rs, action, pwmDuty, time.Now())
}

// ReleaseInterlock returns an actuator to normal command precedence.
func (c *Controller) ReleaseInterlock(slot int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rs, ok := c.actuators[slot]; ok {
		rs.interlocked = false
	}
}

// applyLocked writes through the driver and updates bookkeeping.
// Caller must hold c.mu.
func (c *Controller) applyLocked(rs *runtimeState, state State, pwmDuty int, now time.Time) error {
	if err := c.driver.Write(rs.cfg.Slot, state, pwmDuty); err != nil {
		return rtuerr.Wrap(err, rtuerr.IoError, "actuator", "applyLocked", "driver write failed")
	}
	if rs.state != state || rs.pwmDuty != pwmDuty {
		rs.lastStateChange = now
	}
	rs.state = state
	rs.pwmDuty = pwmDuty
	rs.lastCommandTime = now
	rs.cycleCount++

	if c.cb.OnStateChange != nil {
		c.cb.OnStateChange(rs.cfg.Slot, state, pwmDuty)
	}
	return nil
}

func decodeCommand(cmdByte, pwmByte byte) (State, int, error) {
	switch Command(cmdByte) {
	case CommandOff:
		return StateOff, 0, nil
	case CommandOn:
		return StateOn, 100, nil
	case CommandPWM:
		duty := int(pwmByte)
		if duty > 100 {
			duty = 100
		}
		return StatePWM, duty, nil
	default:
		return "", 0, rtuerr.New(rtuerr.InvalidParam, "actuator", "decodeCommand", fmt.Sprintf("unknown command byte %d", cmdByte))
	}
}

// NotifyConnected tells the controller the PROFINET bridge reports a
// connected application relationship. It does not by itself clear
// degraded mode; only a subsequent valid command does.
func (c *Controller) NotifyConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	wasConnected := c.connected
	c.connected = connected
	if connected {
		c.touchCommandLocked()
		if !wasConnected {
			c.connectedAt = time.Now()
		}
	}
}

func (c *Controller) touchCommandLocked() {
	c.noCommandSince = nil
}

func (c *Controller) exitDegradedLocked() {
	if !c.degraded {
		return
	}
	c.degraded = false
	c.noCommandSince = nil
	if c.cb.OnEvent != nil {
		c.cb.OnEvent("INFO", "actuator controller exited degraded mode")
	}
	if c.cb.OnDegradedModeChange != nil {
		c.cb.OnDegradedModeChange(false)
	}
}

// Snapshot returns the current state of every actuator.
func (c *Controller) Snapshot() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Snapshot, 0, len(c.actuators))
	for _, rs := range c.actuators {
		out = append(out, Snapshot{
			Slot:                rs.cfg.Slot,
			State:               rs.state,
			PWMDuty:             rs.pwmDuty,
			ManualMode:          rs.manualMode,
			Interlocked:         rs.interlocked,
			LastStateChange:     rs.lastStateChange,
			LastCommandTime:     rs.lastCommandTime,
			CycleCount:          rs.cycleCount,
			ControllerConnected: c.connected,
		})
	}
	return out
}
