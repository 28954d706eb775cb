// Package profinetsim provides a deterministic in-memory fake of the
// profinet.Stack contract, used by profinet's own tests and by the
// hub as the stack behind its bridge when PROFINET is enabled.
package profinetsim

import (
	"sync"

	"github.com/ironfield/rtuhub/internal/profinet"
)

type slotKey struct {
	slot    int
	subslot int
}

type simOutput struct {
	data    []byte
	newData bool
	iops    profinet.IOPS
}

// Alarm records one AlarmSendProcessAlarm call for test assertions.
type Alarm struct {
	Slot      int
	Subslot   int
	AlarmType uint16
	Data      []byte
}

// SimStack is a fake profinet.Stack with test-only helpers to drive
// its connection state machine and simulate controller-side output
// writes, so callers can exercise Bridge without real fieldbus
// hardware.
type SimStack struct {
	mu sync.Mutex

	cb      profinet.StackCallbacks
	plugged map[slotKey]bool

	inputs  map[slotKey]recordedInput
	outputs map[slotKey]*simOutput

	alarms []Alarm
	state  profinet.State
	arep   uint32
}

type recordedInput struct {
	data []byte
	iops profinet.IOPS
}

// New returns a SimStack in IDLE state.
func New() *SimStack {
	return &SimStack{
		plugged: make(map[slotKey]bool),
		inputs:  make(map[slotKey]recordedInput),
		outputs: make(map[slotKey]*simOutput),
		state:   profinet.StateIdle,
	}
}

func (s *SimStack) PlugModule(slot int, moduleIdent uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plugged[slotKey{slot: slot}] = true
	return nil
}

func (s *SimStack) PlugSubmodule(slot, subslot int, submoduleIdent uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plugged[slotKey{slot: slot, subslot: subslot}] = true
	if s.outputs[slotKey{slot: slot, subslot: subslot}] == nil {
		s.outputs[slotKey{slot: slot, subslot: subslot}] = &simOutput{iops: profinet.IOPSBad}
	}
	return nil
}

func (s *SimStack) InputSetDataAndIOPS(slot, subslot int, data []byte, iops profinet.IOPS) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs[slotKey{slot: slot, subslot: subslot}] = recordedInput{data: append([]byte(nil), data...), iops: iops}
	return nil
}

func (s *SimStack) OutputGetDataAndIOPS(slot, subslot int) (bool, []byte, profinet.IOPS, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, ok := s.outputs[slotKey{slot: slot, subslot: subslot}]
	if !ok || !out.newData {
		return false, nil, profinet.IOPSBad, nil
	}
	out.newData = false
	return true, append([]byte(nil), out.data...), out.iops, nil
}

func (s *SimStack) AlarmSendProcessAlarm(slot, subslot int, alarmType uint16, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alarms = append(s.alarms, Alarm{Slot: slot, Subslot: subslot, AlarmType: alarmType, Data: append([]byte(nil), data...)})
	return nil
}

func (s *SimStack) HandlePeriodic() error {
	return nil
}

func (s *SimStack) SetCallbacks(cb profinet.StackCallbacks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cb = cb
}

// QueueOutput simulates the remote controller publishing a new
// cyclic output value, to be picked up on the bridge's next tick.
func (s *SimStack) QueueOutput(slot, subslot int, data []byte, iops profinet.IOPS) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs[slotKey{slot: slot, subslot: subslot}] = &simOutput{data: append([]byte(nil), data...), newData: true, iops: iops}
}

// RecordedInput returns the last bytes and IOPS the bridge pushed for
// a slot, for test assertions.
func (s *SimStack) RecordedInput(slot, subslot int) ([]byte, profinet.IOPS, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.inputs[slotKey{slot: slot, subslot: subslot}]
	return in.data, in.iops, ok
}

// Alarms returns every alarm recorded so far.
func (s *SimStack) Alarms() []Alarm {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Alarm(nil), s.alarms...)
}

// SimulateConnect advances straight to CONNECTED and latches arep,
// mirroring the READY→CONNECTING→CONNECTED path a real stack takes.
func (s *SimStack) SimulateConnect(arep uint32) {
	s.mu.Lock()
	s.state = profinet.StateConnected
	s.arep = arep
	cb := s.cb
	s.mu.Unlock()
	if cb.OnStateChange != nil {
		cb.OnStateChange(profinet.StateConnected, arep)
	}
}

// SimulateAbort returns the connection to READY, as on an abort
// indication from real hardware.
func (s *SimStack) SimulateAbort() {
	s.mu.Lock()
	s.state = profinet.StateReady
	cb := s.cb
	s.mu.Unlock()
	if cb.OnStateChange != nil {
		cb.OnStateChange(profinet.StateReady, 0)
	}
}

// SimulateFatal transitions to ERROR, as on an unrecoverable stack
// failure.
func (s *SimStack) SimulateFatal() {
	s.mu.Lock()
	s.state = profinet.StateError
	cb := s.cb
	s.mu.Unlock()
	if cb.OnStateChange != nil {
		cb.OnStateChange(profinet.StateError, 0)
	}
}
