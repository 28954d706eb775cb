package alarm

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ironfield/rtuhub/internal/rtuerr"
)

// Persistence is the subset of internal/store the engine needs,
// expressed as an interface so engine.go can be tested against a fake
// without pulling in sqlite.
type Persistence interface {
	ActiveHistoryForRule(ruleID int64) (*History, error)
	ListActiveHistory() ([]History, error)
	InsertHistory(h History) (int64, error)
	SetHistoryState(id int64, state State, at time.Time, ackBy string) error
	InsertEvent(severity, source, message string) error
}

// sampleState tracks the per-rule data the engine needs between calls:
// whether the rule is currently latched in alarm (post-hysteresis) and
// the previous value/time for RATE evaluation.
type sampleState struct {
	latched      bool
	prevValue    float64
	prevTime     time.Time
	havePrevious bool
}

// Engine evaluates rules against incoming readings and drives the
// raise/acknowledge/clear state machine.
type Engine struct {
	logger *slog.Logger
	store  Persistence
	cb     Callbacks

	raisedTotal  *prometheus.CounterVec
	clearedTotal *prometheus.CounterVec

	mu        sync.Mutex
	rulesByMod map[int64][]*Rule
	states     map[int64]*sampleState // keyed by rule id
}

// NewEngine builds an Engine. registerer may be nil to skip metrics
// registration (useful in tests).
func NewEngine(store Persistence, logger *slog.Logger, cb Callbacks, registerer prometheus.Registerer) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		logger:     logger,
		store:      store,
		cb:         cb,
		rulesByMod: make(map[int64][]*Rule),
		states:     make(map[int64]*sampleState),
		raisedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alarms_raised_total",
			Help: "Total alarms raised, by severity.",
		}, []string{"severity"}),
		clearedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alarms_cleared_total",
			Help: "Total alarms cleared, by severity.",
		}, []string{"severity"}),
	}
	if registerer != nil {
		registerer.MustRegister(e.raisedTotal, e.clearedTotal)
	}
	return e
}

// LoadRules replaces the in-memory rule cache, indexed by module id.
func (e *Engine) LoadRules(rules []Rule) {
	byMod := make(map[int64][]*Rule, len(rules))
	for i := range rules {
		r := rules[i]
		if !r.Enabled {
			continue
		}
		byMod[r.ModuleID] = append(byMod[r.ModuleID], &r)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rulesByMod = byMod
	// Reset per-rule hysteresis/rate state; fresh config means fresh
	// evaluation rather than carrying over stale latches.
	e.states = make(map[int64]*sampleState)
}

// CheckValue evaluates every enabled rule targeting moduleID against
// value. The hub calls this for every reading the sensor manager
// delivers, failed reads included; a failed read carries the
// instance's last value.
func (e *Engine) CheckValue(moduleID int64, value float64, at time.Time) {
	e.mu.Lock()
	rules := e.rulesByMod[moduleID]
	e.mu.Unlock()

	for _, r := range rules {
		e.evaluateRule(r, value, at)
	}
}

func (e *Engine) evaluateRule(r *Rule, value float64, at time.Time) {
	e.mu.Lock()
	st, ok := e.states[r.ID]
	if !ok {
		st = &sampleState{}
		e.states[r.ID] = st
	}
	prevValue, prevTime, havePrevious := st.prevValue, st.prevTime, st.havePrevious
	st.prevValue, st.prevTime, st.havePrevious = value, at, true
	wasLatched := st.latched
	e.mu.Unlock()

	inAlarm := evaluateCondition(r, value, prevValue, prevTime, at, havePrevious)

	// Hysteresis never applies on the rising edge: only suppress the
	// clear transition.
	if wasLatched && !inAlarm {
		if !clearsHysteresis(r, value) {
			inAlarm = true
		}
	}

	e.mu.Lock()
	st.latched = inAlarm
	e.mu.Unlock()

	active, err := e.store.ActiveHistoryForRule(r.ID)
	if err != nil {
		e.logger.Error("alarm: failed to query active history", "rule_id", r.ID, "error", err)
		return
	}

	switch {
	case inAlarm && active == nil:
		e.raise(r, value, at)
	case !inAlarm && active != nil && active.State != StateCleared && r.AutoClear:
		e.clear(r, *active, at)
	}
}

// evaluateCondition computes in_alarm for one rule/reading pair
// across the five condition kinds.
func evaluateCondition(r *Rule, value, prevValue float64, prevTime, at time.Time, havePrevious bool) bool {
	switch r.Condition {
	case ConditionAbove:
		return value > r.ThresholdHigh
	case ConditionBelow:
		return value < r.ThresholdLow
	case ConditionOutOfRange:
		return value < r.ThresholdLow || value > r.ThresholdHigh
	case ConditionRate:
		if !havePrevious {
			return false
		}
		dt := at.Sub(prevTime).Seconds()
		if dt <= 0 {
			return false
		}
		rate := math.Abs(value-prevValue) / dt
		return rate > r.ThresholdHigh
	case ConditionDeviation:
		return math.Abs(value-r.Setpoint) > r.ThresholdHigh
	default:
		return false
	}
}

// clearsHysteresis reports whether value has receded far enough past
// the raise threshold to permit a clear.
func clearsHysteresis(r *Rule, value float64) bool {
	switch r.Condition {
	case ConditionBelow:
		band := r.ThresholdLow + r.HysteresisPercent/100*math.Abs(r.ThresholdLow)
		return value > band
	default:
		band := r.ThresholdHigh - r.HysteresisPercent/100*r.ThresholdHigh
		return value < band
	}
}

func (e *Engine) raise(r *Rule, value float64, at time.Time) {
	h := History{
		CorrelationID: uuid.NewString(),
		RuleID:        r.ID,
		ModuleID:      r.ModuleID,
		Severity:      r.Severity,
		State:         StateActive,
		TriggerValue:  value,
		Message:       fmt.Sprintf("%s rule %q raised at %.3f", r.Condition, r.Name, value),
		RaisedAt:      at,
	}
	id, err := e.store.InsertHistory(h)
	if err != nil {
		// Log and proceed with the in-memory intent; re-raising next
		// tick is idempotent because state is re-derived from
		// ActiveHistoryForRule each call.
		e.logger.Error("alarm: failed to persist raise", "rule_id", r.ID, "error", err)
	} else {
		h.ID = id
	}

	e.raisedTotal.WithLabelValues(string(r.Severity)).Inc()
	if err := e.store.InsertEvent(string(r.Severity), "alarm", h.Message); err != nil {
		e.logger.Error("alarm: failed to log raise event", "rule_id", r.ID, "error", err)
	}

	if e.cb.OnRaised != nil {
		e.cb.OnRaised(*r, h)
	}
	if r.Interlock.Enabled && e.cb.Interlock != nil {
		e.cb.Interlock(r.Interlock.TargetSlot, r.Interlock.Action, r.Interlock.PWMDuty, true)
	}
}

func (e *Engine) clear(r *Rule, active History, at time.Time) {
	if err := e.store.SetHistoryState(active.ID, StateCleared, at, ""); err != nil {
		e.logger.Error("alarm: failed to persist clear", "rule_id", r.ID, "error", err)
	}
	active.State = StateCleared
	active.ClearedAt = &at

	if err := e.store.InsertEvent(string(r.Severity), "alarm", fmt.Sprintf("rule %q cleared", r.Name)); err != nil {
		e.logger.Error("alarm: failed to log clear event", "rule_id", r.ID, "error", err)
	}
	e.clearedTotal.WithLabelValues(string(r.Severity)).Inc()

	if e.cb.OnCleared != nil {
		e.cb.OnCleared(*r, active)
	}
	if r.Interlock.Enabled && r.Interlock.ReleaseOnClear && e.cb.Interlock != nil {
		e.cb.Interlock(r.Interlock.TargetSlot, r.Interlock.Action, r.Interlock.PWMDuty, false)
	}
}

// Acknowledge transitions one ACTIVE history row to ACKNOWLEDGED.
// Acknowledging does not clear.
func (e *Engine) Acknowledge(historyID int64, user string) error {
	if err := e.store.SetHistoryState(historyID, StateAcknowledged, time.Now(), user); err != nil {
		return rtuerr.Wrap(err, rtuerr.IoError, "alarm", "Acknowledge", "persist acknowledgement")
	}
	return nil
}

// AcknowledgeAll applies Acknowledge to every currently ACTIVE history
// row.
func (e *Engine) AcknowledgeAll(user string) error {
	active, err := e.store.ListActiveHistory()
	if err != nil {
		return rtuerr.Wrap(err, rtuerr.IoError, "alarm", "AcknowledgeAll", "list active history")
	}
	now := time.Now()
	for _, h := range active {
		if h.State != StateActive {
			continue
		}
		if err := e.store.SetHistoryState(h.ID, StateAcknowledged, now, user); err != nil {
			e.logger.Error("alarm: failed to acknowledge", "history_id", h.ID, "error", err)
		}
	}
	return nil
}
