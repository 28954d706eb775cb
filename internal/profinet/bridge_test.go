package profinet_test

import (
	"context"
	"testing"
	"time"

	"github.com/ironfield/rtuhub/internal/profinet"
	"github.com/ironfield/rtuhub/internal/profinet/profinetsim"
)

func newTestBridge(t *testing.T, cb profinet.Callbacks) (*profinet.Bridge, *profinetsim.SimStack) {
	t.Helper()
	stack := profinetsim.New()
	b := profinet.NewBridge(stack, time.Millisecond, nil, cb)
	if err := b.AddModule(1, 0x100, 1, 0x8000, 5, 0); err != nil {
		t.Fatalf("AddModule input: %v", err)
	}
	if err := b.AddModule(2, 0x101, 1, 0x8001, 0, 2); err != nil {
		t.Fatalf("AddModule output: %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(b.Stop)
	return b, stack
}

func TestConnectionStateMachineTransitions(t *testing.T) {
	var connected, disconnected int
	b, stack := newTestBridge(t, profinet.Callbacks{
		OnConnect:    func() { connected++ },
		OnDisconnect: func() { disconnected++ },
	})

	if snap := b.Snapshot(); snap.State != profinet.StateReady {
		t.Fatalf("expected READY after Start, got %v", snap.State)
	}

	stack.SimulateConnect(42)
	if snap := b.Snapshot(); snap.State != profinet.StateConnected || snap.AREP != 42 {
		t.Fatalf("expected CONNECTED arep=42, got %+v", snap)
	}
	if connected != 1 {
		t.Fatalf("expected OnConnect called once, got %d", connected)
	}

	stack.SimulateAbort()
	if snap := b.Snapshot(); snap.State != profinet.StateReady {
		t.Fatalf("expected READY after abort, got %v", snap.State)
	}
	if disconnected != 1 {
		t.Fatalf("expected OnDisconnect called once, got %d", disconnected)
	}
}

func TestUpdateInputFloatPushesWhenConnected(t *testing.T) {
	b, stack := newTestBridge(t, profinet.Callbacks{})
	stack.SimulateConnect(1)

	if err := b.SetInputIOPS(1, 1, profinet.IOPSGood); err != nil {
		t.Fatalf("SetInputIOPS: %v", err)
	}
	if err := b.UpdateInputFloat(1, 1, 21.5, 0x80); err != nil {
		t.Fatalf("UpdateInputFloat: %v", err)
	}
	data, iops, ok := stack.RecordedInput(1, 1)
	if !ok {
		t.Fatal("expected input to be pushed to stack")
	}
	if len(data) != 5 || iops != profinet.IOPSGood {
		t.Fatalf("unexpected recorded input: %v iops=%v", data, iops)
	}
}

func TestOutputDedupeOnlyDeliversNewDistinctGoodData(t *testing.T) {
	var delivered [][]byte
	_, stack := newTestBridge(t, profinet.Callbacks{
		OnData: func(slot, subslot int, data []byte) {
			delivered = append(delivered, append([]byte(nil), data...))
		},
	})
	stack.SimulateConnect(1)

	stack.QueueOutput(2, 1, []byte{1, 50}, profinet.IOPSGood)
	waitFor(t, func() bool { return len(delivered) == 1 })

	// Re-queuing identical bytes must not redeliver.
	stack.QueueOutput(2, 1, []byte{1, 50}, profinet.IOPSGood)
	time.Sleep(20 * time.Millisecond)
	if len(delivered) != 1 {
		t.Fatalf("expected no redelivery of identical output, got %d deliveries", len(delivered))
	}

	// Bad IOPS must not be delivered even though bytes differ.
	stack.QueueOutput(2, 1, []byte{0, 0}, profinet.IOPSBad)
	time.Sleep(20 * time.Millisecond)
	if len(delivered) != 1 {
		t.Fatalf("expected BAD-IOPS output to be dropped, got %d deliveries", len(delivered))
	}

	// Distinct bytes with GOOD IOPS deliver again.
	stack.QueueOutput(2, 1, []byte{0, 0}, profinet.IOPSGood)
	waitFor(t, func() bool { return len(delivered) == 2 })
}

func TestSendAlarmNoopWhenNotConnected(t *testing.T) {
	b, stack := newTestBridge(t, profinet.Callbacks{})
	if err := b.SendAlarm(1, 1, 1, []byte{1}); err != nil {
		t.Fatalf("SendAlarm: %v", err)
	}
	if len(stack.Alarms()) != 0 {
		t.Fatal("expected no alarm sent while not connected")
	}

	stack.SimulateConnect(1)
	if err := b.SendAlarm(1, 1, 1, []byte{1}); err != nil {
		t.Fatalf("SendAlarm: %v", err)
	}
	if len(stack.Alarms()) != 1 {
		t.Fatal("expected alarm sent once connected")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
