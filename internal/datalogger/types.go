// Package datalogger implements the store-and-forward sensor data
// logger: a bounded in-memory queue drained by a worker that writes
// local batches and, when remote logging is enabled and reachable,
// forwards sub-batches over HTTP.
package datalogger

import "time"

const (
	// LogQueueSize bounds the in-memory queue.
	LogQueueSize = 1000
	// MaxLogBatchSize bounds a single local-write batch.
	MaxLogBatchSize = 100
	// RemoteBatchSize bounds a single remote POST sub-batch.
	RemoteBatchSize = 50
	// RemoteRetryInterval is the backoff after a failed remote POST.
	RemoteRetryInterval = 60 * time.Second
)

// Entry is one queued sample.
type Entry struct {
	ModuleID  int64
	Value     float64
	Status    string
	Timestamp time.Time
}

// Config configures a Logger.
type Config struct {
	Device            string
	Interval          time.Duration
	MaxQueueAge       time.Duration
	LocalEnabled      bool
	RemoteEnabled     bool
	RemoteURL         string
	RemoteAPIKey      string
	FlushOnReconnect  bool
}

// Persistence is the local write-through half of store-and-forward.
type Persistence interface {
	InsertSensorLogBatch(entries []LocalEntry) error
}

// LocalEntry mirrors store.SensorLogEntry's shape without importing
// the store package directly from this domain package.
type LocalEntry struct {
	ModuleID  int64
	Value     float64
	Status    string
	Timestamp time.Time
}

// Stats is the logger's observable counters, surfaced by health.
type Stats struct {
	QueueDepth     int
	TotalDroppedAge    int64
	TotalDroppedFull   int64
	RemoteFailures     int64
	LastRemoteAttempt  time.Time
	RemoteBackoffUntil time.Time
}
