package profinet

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/ironfield/rtuhub/internal/rtuerr"
)

const maxCyclicBytes = 256

// Bridge wraps a Stack with the plugged-module table, cyclic buffer
// cache, and connection state machine that together bridge field I/O
// onto a PROFINET controller's cyclic data exchange.
type Bridge struct {
	stack  Stack
	logger *slog.Logger
	cb     Callbacks
	tick   time.Duration

	mu       sync.Mutex
	modules  map[SlotKey]*ModuleEntry
	state    State
	arep     uint32
	lastTick time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBridge builds a Bridge over stack, polling it every tick
// (1ms is typical for cyclic I/O).
func NewBridge(stack Stack, tick time.Duration, logger *slog.Logger, cb Callbacks) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if tick <= 0 {
		tick = time.Millisecond
	}
	b := &Bridge{
		stack:   stack,
		logger:  logger,
		cb:      cb,
		tick:    tick,
		modules: make(map[SlotKey]*ModuleEntry),
		state:   StateIdle,
	}
	stack.SetCallbacks(StackCallbacks{
		OnStateChange:    b.onStackStateChange,
		OnDataIndication: func(slot, subslot int) {},
	})
	return b
}

// AddModule records a plugged-module entry; it is plugged into the
// underlying stack on Start.
func (b *Bridge) AddModule(slot int, moduleIdent uint32, subslot int, submoduleIdent uint32, inputLen, outputLen int) error {
	if inputLen > maxCyclicBytes || outputLen > maxCyclicBytes {
		return rtuerr.New(rtuerr.InvalidParam, "profinet", "AddModule", "cyclic payload exceeds 256 bytes")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	key := SlotKey{Slot: slot, Subslot: subslot}
	b.modules[key] = &ModuleEntry{
		Slot:           slot,
		Subslot:        subslot,
		ModuleIdent:    moduleIdent,
		SubmoduleIdent: submoduleIdent,
		InputSize:      inputLen,
		OutputSize:     outputLen,
		inputBuf:       make([]byte, inputLen),
		inputIOPS:      IOPSBad,
		outputBuf:      make([]byte, outputLen),
	}
	return nil
}

// Start plugs every recorded module/submodule into the underlying
// stack and begins the tick loop.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	for key, m := range b.modules {
		if err := b.stack.PlugModule(key.Slot, m.ModuleIdent); err != nil {
			b.mu.Unlock()
			return rtuerr.Wrap(err, rtuerr.IoError, "profinet", "Start", fmt.Sprintf("plug_module slot %d", key.Slot))
		}
		if err := b.stack.PlugSubmodule(key.Slot, key.Subslot, m.SubmoduleIdent); err != nil {
			b.mu.Unlock()
			return rtuerr.Wrap(err, rtuerr.IoError, "profinet", "Start", fmt.Sprintf("plug_submodule slot %d.%d", key.Slot, key.Subslot))
		}
		m.plugged = true
	}
	b.state = StateReady
	b.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.wg.Add(1)
	go b.run(ctx)
	return nil
}

// Stop halts the tick loop.
func (b *Bridge) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
}

func (b *Bridge) run(ctx context.Context) {
	defer b.wg.Done()
	ticker := time.NewTicker(b.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.onTick()
		}
	}
}

// onTick advances the stack, then, while connected, polls each
// output-bearing slot for new data and dedupes against the cache
// before delivering on_data.
func (b *Bridge) onTick() {
	if err := b.stack.HandlePeriodic(); err != nil {
		b.logger.Error("profinet: handle_periodic failed", "error", err)
	}

	b.mu.Lock()
	connected := b.state == StateConnected
	now := time.Now()
	b.lastTick = now
	if !connected {
		b.mu.Unlock()
		return
	}
	var due []*ModuleEntry
	for _, m := range b.modules {
		if m.plugged && m.OutputSize > 0 {
			due = append(due, m)
		}
	}
	b.mu.Unlock()

	for _, m := range due {
		newData, data, iops, err := b.stack.OutputGetDataAndIOPS(m.Slot, m.Subslot)
		if err != nil {
			b.logger.Error("profinet: output_get_data_and_iops failed", "slot", m.Slot, "subslot", m.Subslot, "error", err)
			continue
		}
		if !newData || iops != IOPSGood {
			continue
		}

		b.mu.Lock()
		if bytesEqual(m.outputBuf, data) {
			b.mu.Unlock()
			continue
		}
		m.outputBuf = append([]byte(nil), data...)
		b.mu.Unlock()

		if b.cb.OnData != nil {
			b.cb.OnData(m.Slot, m.Subslot, data)
		}
	}
}

// UpdateInput copies raw bytes (max 256) into the slot's input cache
// and, when connected, pushes them to the stack with the current IOPS.
func (b *Bridge) UpdateInput(slot, subslot int, data []byte) error {
	if len(data) > maxCyclicBytes {
		return rtuerr.New(rtuerr.InvalidParam, "profinet", "UpdateInput", "input payload exceeds 256 bytes")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.modules[SlotKey{Slot: slot, Subslot: subslot}]
	if !ok {
		return rtuerr.New(rtuerr.NotFound, "profinet", "UpdateInput", fmt.Sprintf("no module plugged at %d.%d", slot, subslot))
	}
	m.inputBuf = append(m.inputBuf[:0], data...)
	if b.state == StateConnected {
		if err := b.stack.InputSetDataAndIOPS(slot, subslot, m.inputBuf, m.inputIOPS); err != nil {
			return rtuerr.Wrap(err, rtuerr.IoError, "profinet", "UpdateInput", "input_set_data_and_iops failed")
		}
	}
	return nil
}

// UpdateInputFloat encodes value and quality into the 5-byte input
// submodule payload (4-byte big-endian float, 1-byte quality) and
// pushes it through UpdateInput.
func (b *Bridge) UpdateInputFloat(slot, subslot int, value float32, quality byte) error {
	buf := make([]byte, 5)
	binary.BigEndian.PutUint32(buf[:4], math.Float32bits(value))
	buf[4] = quality
	return b.UpdateInput(slot, subslot, buf)
}

// SetInputIOPS updates the cached provider-status byte for a slot.
func (b *Bridge) SetInputIOPS(slot, subslot int, iops IOPS) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.modules[SlotKey{Slot: slot, Subslot: subslot}]
	if !ok {
		return rtuerr.New(rtuerr.NotFound, "profinet", "SetInputIOPS", fmt.Sprintf("no module plugged at %d.%d", slot, subslot))
	}
	m.inputIOPS = iops
	return nil
}

// GetOutput returns a copy of the cached output payload and whether the
// module is plugged. The payload is all zeros until the first output
// frame is delivered; the bool does not report whether any output has
// been received.
func (b *Bridge) GetOutput(slot, subslot int) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.modules[SlotKey{Slot: slot, Subslot: subslot}]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), m.outputBuf...), m.plugged
}

// SendAlarm emits a process alarm when connected; it is a no-op
// otherwise since the stack has no application relationship to carry
// it on.
func (b *Bridge) SendAlarm(slot, subslot int, alarmType uint16, data []byte) error {
	b.mu.Lock()
	connected := b.state == StateConnected
	b.mu.Unlock()
	if !connected {
		return nil
	}
	if err := b.stack.AlarmSendProcessAlarm(slot, subslot, alarmType, data); err != nil {
		return rtuerr.Wrap(err, rtuerr.IoError, "profinet", "SendAlarm", "alarm_send_process_alarm failed")
	}
	return nil
}

// Snapshot reports the bridge's current connection state.
func (b *Bridge) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:     b.state,
		AREP:      b.arep,
		Connected: b.state == StateConnected,
		LastTick:  b.lastTick,
	}
}

// onStackStateChange drives the IDLE→READY→CONNECTING→CONNECTED
// machine: abort returns to READY, fatal to ERROR.
func (b *Bridge) onStackStateChange(state State, arep uint32) {
	b.mu.Lock()
	prev := b.state
	b.state = state
	if state == StateConnected {
		b.arep = arep
	}
	b.mu.Unlock()

	if prev != StateConnected && state == StateConnected && b.cb.OnConnect != nil {
		b.cb.OnConnect()
	}
	if prev == StateConnected && state != StateConnected && b.cb.OnDisconnect != nil {
		b.cb.OnDisconnect()
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
