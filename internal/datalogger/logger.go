package datalogger

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Logger is the store-and-forward worker: it queues sensor samples in
// memory, persists them locally, and forwards them to a remote
// endpoint when one is configured.
type Logger struct {
	cfg    Config
	store  Persistence
	remote *remoteClient
	logger *slog.Logger

	q *queue

	mu                 sync.Mutex
	remoteAvailable    bool
	networkConnected   bool
	flushPending       bool
	remoteFailures     int64
	lastRemoteAttempt  time.Time
	totalDroppedAge    int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLogger builds a Logger. store may be nil if cfg.LocalEnabled is
// false.
func NewLogger(cfg Config, store Persistence, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.MaxQueueAge <= 0 {
		cfg.MaxQueueAge = time.Hour
	}
	return &Logger{
		cfg:             cfg,
		store:           store,
		remote:          newRemoteClient(cfg),
		logger:          logger,
		q:               newQueue(LogQueueSize),
		remoteAvailable: cfg.RemoteEnabled,
	}
}

// Log enqueues one sample. Safe to call from any goroutine.
func (l *Logger) Log(moduleID int64, value float64, status string) {
	evicted := l.q.push(Entry{ModuleID: moduleID, Value: value, Status: status, Timestamp: time.Now()})
	if evicted {
		l.logger.Warn("datalogger: queue full, dropped oldest entry", "module_id", moduleID)
	}
}

// NotifyConnection is invoked by the actuator controller's connection
// callback. A false→true transition with flush_on_reconnect raises
// flush_pending and resets the remote backoff.
func (l *Logger) NotifyConnection(connected bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	wasConnected := l.networkConnected
	l.networkConnected = connected
	if !wasConnected && connected && l.cfg.FlushOnReconnect {
		l.flushPending = true
		l.remoteFailures = 0
	}
}

// ForceFlush has the same effect as a reconnect: the next worker wake
// attempts a remote flush regardless of backoff state.
func (l *Logger) ForceFlush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.flushPending = true
	l.remoteFailures = 0
}

// Start begins the periodic worker loop.
func (l *Logger) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.wg.Add(1)
	go l.run(ctx)
}

// Stop cancels the worker loop and waits for it to exit.
func (l *Logger) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
}

func (l *Logger) run(ctx context.Context) {
	defer l.wg.Done()
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.drain(ctx)
		}
	}
}

// drain runs one worker wake: drop stale entries, then flush every
// queued entry to local storage and, if due, remote, in repeated
// MaxLogBatchSize batches until the queue is empty. A single wake
// must not leave entries behind for a busy queue to catch up on the
// next tick.
func (l *Logger) drain(ctx context.Context) {
	cutoff := time.Now().Add(-l.cfg.MaxQueueAge)
	dropped := l.q.dropOlderThan(func(e Entry) bool { return e.Timestamp.Before(cutoff) })
	if dropped > 0 {
		l.mu.Lock()
		l.totalDroppedAge += int64(dropped)
		l.mu.Unlock()
		l.logger.Warn("datalogger: dropped aged entries", "count", dropped)
	}

	for {
		batch := l.q.drainBatch(MaxLogBatchSize)
		if len(batch) == 0 {
			return
		}

		if l.cfg.LocalEnabled && l.store != nil {
			local := make([]LocalEntry, len(batch))
			for i, e := range batch {
				local[i] = LocalEntry{ModuleID: e.ModuleID, Value: e.Value, Status: e.Status, Timestamp: e.Timestamp}
			}
			if err := l.store.InsertSensorLogBatch(local); err != nil {
				l.logger.Error("datalogger: local write failed", "error", err)
			}
		}

		if l.shouldAttemptRemote() {
			l.flushRemote(ctx, batch)
		}

		if len(batch) < MaxLogBatchSize {
			return
		}
	}
}

func (l *Logger) shouldAttemptRemote() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.cfg.RemoteEnabled {
		return false
	}
	if l.flushPending {
		return true
	}
	if !l.remoteAvailable || !l.networkConnected {
		return false
	}
	if !l.lastRemoteAttempt.IsZero() && time.Since(l.lastRemoteAttempt) < RemoteRetryInterval && l.remoteFailures > 0 {
		return false
	}
	return true
}

func (l *Logger) flushRemote(ctx context.Context, batch []Entry) {
	for start := 0; start < len(batch); start += RemoteBatchSize {
		end := start + RemoteBatchSize
		if end > len(batch) {
			end = len(batch)
		}
		sub := batch[start:end]

		l.mu.Lock()
		l.lastRemoteAttempt = time.Now()
		l.mu.Unlock()

		if err := l.remote.post(ctx, sub); err != nil {
			l.logger.Error("datalogger: remote post failed", "error", err)
			l.mu.Lock()
			l.remoteFailures++
			l.flushPending = false
			l.mu.Unlock()
			return
		}
		l.mu.Lock()
		l.remoteFailures = 0
		l.flushPending = false
		l.mu.Unlock()
	}
}

// Stats returns the logger's observable counters.
func (l *Logger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		QueueDepth:        l.q.len(),
		TotalDroppedAge:   l.totalDroppedAge,
		TotalDroppedFull:  l.q.droppedFullCount(),
		RemoteFailures:    l.remoteFailures,
		LastRemoteAttempt: l.lastRemoteAttempt,
	}
}
