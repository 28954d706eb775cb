package datalogger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type fakePersistence struct {
	mu      sync.Mutex
	batches [][]LocalEntry
}

func (f *fakePersistence) InsertSensorLogBatch(entries []LocalEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, entries)
	return nil
}

func (f *fakePersistence) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func TestLogWritesLocalBatchOnDrain(t *testing.T) {
	store := &fakePersistence{}
	l := NewLogger(Config{Device: "rtu-1", LocalEnabled: true, Interval: time.Hour}, store, nil)
	l.Log(1, 21.5, "GOOD")
	l.Log(2, 22.0, "GOOD")

	l.drain(context.Background())

	if store.count() != 2 {
		t.Fatalf("expected 2 rows written locally, got %d", store.count())
	}
}

func TestRemoteFlushSuccessClearsFailuresAndFlushPending(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	l := NewLogger(Config{
		Device:        "rtu-1",
		RemoteEnabled: true,
		RemoteURL:     srv.URL,
		RemoteAPIKey:  "secret",
		Interval:      time.Hour,
	}, nil, nil)
	l.NotifyConnection(true)
	l.ForceFlush()
	l.Log(1, 1.0, "GOOD")

	l.drain(context.Background())

	if gotAuth != "Bearer secret" {
		t.Fatalf("expected bearer auth header, got %q", gotAuth)
	}
	stats := l.Stats()
	if stats.RemoteFailures != 0 {
		t.Fatalf("expected 0 remote failures after success, got %d", stats.RemoteFailures)
	}
	l.mu.Lock()
	pending := l.flushPending
	l.mu.Unlock()
	if pending {
		t.Fatal("expected flushPending cleared after a successful remote flush")
	}
}

func TestRemoteFailureIncrementsFailuresAndBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	l := NewLogger(Config{
		Device:        "rtu-1",
		RemoteEnabled: true,
		RemoteURL:     srv.URL,
		Interval:      time.Hour,
	}, nil, nil)
	l.NotifyConnection(true)
	l.ForceFlush()
	l.Log(1, 1.0, "GOOD")
	l.drain(context.Background())

	if l.Stats().RemoteFailures != 1 {
		t.Fatalf("expected 1 remote failure, got %d", l.Stats().RemoteFailures)
	}

	// Second drain without flush_pending should be skipped by backoff.
	l.Log(2, 2.0, "GOOD")
	l.drain(context.Background())
	if l.Stats().RemoteFailures != 1 {
		t.Fatalf("expected backoff to suppress retry, failures still %d", l.Stats().RemoteFailures)
	}
}

func TestNotifyConnectionReconnectRaisesFlushPending(t *testing.T) {
	l := NewLogger(Config{RemoteEnabled: true, FlushOnReconnect: true, Interval: time.Hour}, nil, nil)
	l.NotifyConnection(false)
	l.NotifyConnection(true)

	l.mu.Lock()
	pending := l.flushPending
	l.mu.Unlock()
	if !pending {
		t.Fatal("expected flush_pending raised on false->true reconnect")
	}
}

func TestQueueFullDropsOldestOnLog(t *testing.T) {
	l := NewLogger(Config{Interval: time.Hour}, nil, nil)
	for i := 0; i < LogQueueSize+5; i++ {
		l.Log(int64(i), float64(i), "GOOD")
	}
	if l.Stats().QueueDepth != LogQueueSize {
		t.Fatalf("expected queue capped at %d, got %d", LogQueueSize, l.Stats().QueueDepth)
	}
}
