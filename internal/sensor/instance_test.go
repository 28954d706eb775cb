package sensor

import (
	"context"
	"testing"
	"time"
)

type fakeResolver map[int64]float64

func (f fakeResolver) ValueOf(moduleID int64) (float64, bool) {
	v, ok := f[moduleID]
	return v, ok
}

func TestStaticInstanceAlwaysGood(t *testing.T) {
	in, err := NewInstance(Config{
		ModuleID: 1,
		Variant:  VariantStatic,
		Static:   StaticConfig{Value: 42, Writable: true},
	}, nil)
	if err != nil {
		t.Fatalf("NewInstance failed: %v", err)
	}

	r := in.Read(context.Background())
	if r.Quality != Good {
		t.Errorf("Quality = %v, want Good", r.Quality)
	}
	if r.Value != 42 {
		t.Errorf("Value = %v, want 42", r.Value)
	}

	if err := in.SetStaticValue(100); err != nil {
		t.Fatalf("SetStaticValue failed: %v", err)
	}
	r = in.Read(context.Background())
	if r.Value != 100 {
		t.Errorf("Value after SetStaticValue = %v, want 100", r.Value)
	}
}

func TestStaticInstanceNotWritableRejectsSet(t *testing.T) {
	in, err := NewInstance(Config{
		ModuleID: 2,
		Variant:  VariantStatic,
		Static:   StaticConfig{Value: 1, Writable: false},
	}, nil)
	if err != nil {
		t.Fatalf("NewInstance failed: %v", err)
	}
	if err := in.SetStaticValue(2); err == nil {
		t.Error("expected error setting a non-writable static sensor")
	}
}

func TestCalculatedInstanceReadsResolver(t *testing.T) {
	resolver := fakeResolver{10: 5, 11: 7}
	in, err := NewInstance(Config{
		ModuleID: 3,
		Variant:  VariantCalculated,
		Calculated: CalculatedConfig{
			Formula:      "s0 + s1",
			InputSensors: []int64{10, 11},
		},
	}, resolver)
	if err != nil {
		t.Fatalf("NewInstance failed: %v", err)
	}

	r := in.Read(context.Background())
	if r.Quality != Good {
		t.Errorf("Quality = %v, want Good", r.Quality)
	}
	if r.Value != 12 {
		t.Errorf("Value = %v, want 12", r.Value)
	}
}

func TestInstanceClassifiesUncertainThenBad(t *testing.T) {
	in, err := NewInstance(Config{
		ModuleID:         4,
		Variant:          VariantPhysical,
		Physical:         PhysicalConfig{Interface: "unregistered-bus"},
		FailureThreshold: 3,
	}, nil)
	if err != nil {
		t.Fatalf("NewInstance failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		r := in.Read(context.Background())
		if r.Quality != Uncertain {
			t.Errorf("Quality after %d consecutive failures = %v, want Uncertain", i+1, r.Quality)
		}
		if WireIOPS(r.Quality) != byte(IOPSBad) {
			t.Errorf("WireIOPS after %d consecutive failures = %#x, want IOPSBad", i+1, WireIOPS(r.Quality))
		}
	}

	last := in.Read(context.Background())
	if last.Quality != Bad {
		t.Errorf("Quality after 3 consecutive failures = %v, want Bad", last.Quality)
	}
	if WireIOPS(last.Quality) != byte(IOPSBad) {
		t.Errorf("WireIOPS after 3 consecutive failures = %#x, want IOPSBad", WireIOPS(last.Quality))
	}
}

func TestInstanceValidRangeMarksUncertain(t *testing.T) {
	in, err := NewInstance(Config{
		ModuleID: 5,
		Variant:  VariantStatic,
		Static:   StaticConfig{Value: 1000},
		ValidMin: 0,
		ValidMax: 100,
	}, nil)
	if err != nil {
		t.Fatalf("NewInstance failed: %v", err)
	}
	r := in.Read(context.Background())
	if r.Quality != Uncertain {
		t.Errorf("Quality = %v, want Uncertain (out of valid range)", r.Quality)
	}
}

func TestManagerScheduleAndReadInstances(t *testing.T) {
	m := NewManager(5*time.Millisecond, nil, Callbacks{})
	in, err := NewInstance(Config{ModuleID: 1, Variant: VariantStatic, Static: StaticConfig{Value: 9}}, nil)
	if err != nil {
		t.Fatalf("NewInstance failed: %v", err)
	}
	m.AddInstance(in)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		snaps := m.Snapshot()
		if len(snaps) == 1 && snaps[0].Value == 9 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("manager did not read the static instance in time")
}
