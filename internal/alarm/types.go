// Package alarm implements the alarm engine: rule evaluation with
// hysteresis, the raise/acknowledge/clear state machine, and
// interlock dispatch to the actuator controller.
package alarm

import "time"

// Condition selects how a rule decides in_alarm from a reading.
type Condition string

const (
	ConditionAbove      Condition = "ABOVE"
	ConditionBelow      Condition = "BELOW"
	ConditionOutOfRange Condition = "OUT_OF_RANGE"
	ConditionRate       Condition = "RATE"
	ConditionDeviation  Condition = "DEVIATION"
)

// Severity ranks a rule for operator triage and Prometheus labeling.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// State is a history row's position in the raise/ack/clear machine.
type State string

const (
	StateActive       State = "ACTIVE"
	StateAcknowledged State = "ACKNOWLEDGED"
	StateCleared      State = "CLEARED"
)

// Scope distinguishes a rule that targets a configured sensor module
// from a system-level rule with no owning module, avoiding a
// module_id=0 foreign-key sentinel.
type Scope string

const (
	ScopeModule Scope = "module"
	ScopeSystem Scope = "system"
)

// InterlockAction is the actuator action an alarm may force while
// active.
type InterlockAction string

const (
	InterlockNone InterlockAction = "NONE"
	InterlockOff  InterlockAction = "OFF"
	InterlockOn   InterlockAction = "ON"
	InterlockPWM  InterlockAction = "PWM"
)

// Interlock is the actuator override a rule may apply while active.
type Interlock struct {
	Enabled       bool
	TargetSlot    int
	Action        InterlockAction
	PWMDuty       int
	ReleaseOnClear bool
}

// Rule is one persisted alarm rule definition.
type Rule struct {
	ID                int64
	Scope             Scope
	ModuleID          int64
	Name              string
	Condition         Condition
	ThresholdHigh     float64
	ThresholdLow      float64
	Severity          Severity
	Enabled           bool
	AutoClear         bool
	HysteresisPercent float64
	Setpoint          float64
	Interlock         Interlock
}

// History is one alarm_history row: a single raise-to-clear
// lifecycle of a rule. Invariant: at most one non-CLEARED row per
// RuleID, enforced by the engine consulting ActiveHistoryForRule
// before raising.
type History struct {
	ID              int64
	CorrelationID   string
	RuleID          int64
	ModuleID        int64
	Severity        Severity
	State           State
	TriggerValue    float64
	Message         string
	RaisedAt        time.Time
	AcknowledgedAt  *time.Time
	ClearedAt       *time.Time
	AcknowledgedBy  string
}

// Callbacks lets owners react to alarm transitions and dispatch
// interlock commands without the engine importing the actuator or
// health packages.
type Callbacks struct {
	OnRaised  func(rule Rule, h History)
	OnCleared func(rule Rule, h History)
	// Interlock is invoked to apply/release an actuator override; the
	// actuator controller implements this.
	Interlock func(targetSlot int, action InterlockAction, pwmDuty int, engage bool)
}
