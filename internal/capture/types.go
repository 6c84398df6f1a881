package capture

import (
	"time"

	"github.com/nerrad567/gray-logic-capture/internal/infrastructure/config"
)

// AllSensors is the filter id that captures every message.
const AllSensors = "all_sensors"

// Session statuses written to the primary file.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusError     = "error"
)

// Logger defines the logging interface used by the capture package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// DeviceFilter selects which messages a session keeps. Filters are fixed
// when the session starts.
type DeviceFilter struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Topic string `json:"topic,omitempty"`
}

// CatchAll returns the filter used when a session selects nothing and no
// devices are known.
func CatchAll(baseTopic string) DeviceFilter {
	return DeviceFilter{ID: AllSensors, Name: "All Sensors", Topic: baseTopic + "/#"}
}

// Entry is one captured message as stored in the primary and per-device files.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Topic     string    `json:"topic"`
	DeviceID  string    `json:"deviceId"`
	Payload   any       `json:"payload"`
}

// Record is the primary session file.
type Record struct {
	SessionID     string             `json:"sessionId"`
	StartTime     time.Time          `json:"startTime"`
	EndTime       *time.Time         `json:"endTime,omitempty"`
	Duration      int64              `json:"duration,omitempty"` // milliseconds
	Status        string             `json:"status"`
	Devices       []DeviceFilter     `json:"devices"`
	Messages      map[string][]Entry `json:"messages"`
	DeviceData    map[string][]Entry `json:"deviceData"`
	CaptureConfig CaptureConfig      `json:"captureConfig"`
	Stats         RecordStats        `json:"stats"`
}

// CaptureConfig records the retention settings a session was captured with.
type CaptureConfig struct {
	BaseTopic       string   `json:"baseTopic"`
	FlushEvery      int      `json:"flushEvery"`
	FlushIntervalMS int64    `json:"flushIntervalMs"`
	DeviceDataCap   int      `json:"deviceDataCap"`
	DeviceFileCap   int      `json:"deviceFileCap"`
	ConsolidatedCap int      `json:"consolidatedCap"`
	CriticalFields  []string `json:"criticalFields"`
}

// RecordStats is the stats block of the primary file. MessageCount is the
// number of entries ever appended, not the number retained.
type RecordStats struct {
	MessageCount  int64      `json:"messageCount"`
	TopicCount    int        `json:"topicCount"`
	DeviceCount   int        `json:"deviceCount"`
	DeviceFiles   int        `json:"deviceFiles"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
	LastSaveAt    *time.Time `json:"lastSaveAt,omitempty"`
}

// PersistResult reports how a captured message was written.
type PersistResult int

const (
	// Committed means every tier attempted for the message succeeded.
	// A primary-file append still waiting for its batch counts as committed.
	Committed PersistResult = iota
	// Degraded means at least one tier failed; the others were still attempted.
	Degraded
	// Skipped means the session was ending and the message was not written.
	Skipped
)

func (r PersistResult) String() string {
	switch r {
	case Committed:
		return "committed"
	case Degraded:
		return "degraded"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Options holds the store's batching, retention and backup settings.
type Options struct {
	BaseTopic       string
	FlushEvery      int
	FlushInterval   time.Duration
	DeviceDataCap   int
	DeviceFileCap   int
	ConsolidatedCap int
	BackupRetention int
	BackupInterval  time.Duration
	CriticalFields  []string
}

// OptionsFromConfig maps the storage configuration onto Options.
func OptionsFromConfig(storage config.StorageConfig, baseTopic string) Options {
	return Options{
		BaseTopic:       baseTopic,
		FlushEvery:      storage.FlushEvery,
		FlushInterval:   storage.GetFlushInterval(),
		DeviceDataCap:   storage.DeviceDataCap,
		DeviceFileCap:   storage.DeviceFileCap,
		ConsolidatedCap: storage.ConsolidatedCap,
		BackupRetention: storage.BackupRetention,
		BackupInterval:  storage.GetBackupInterval(),
		CriticalFields:  storage.CriticalFields,
	}.withDefaults()
}

// DefaultOptions returns the stock settings for baseTopic.
func DefaultOptions(baseTopic string) Options {
	return Options{BaseTopic: baseTopic}.withDefaults()
}

func (o Options) withDefaults() Options {
	if o.FlushEvery <= 0 {
		o.FlushEvery = 3
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 5 * time.Second
	}
	if o.DeviceDataCap <= 0 {
		o.DeviceDataCap = 5000
	}
	if o.DeviceFileCap <= 0 {
		o.DeviceFileCap = 10000
	}
	if o.ConsolidatedCap <= 0 {
		o.ConsolidatedCap = 20000
	}
	if o.BackupRetention <= 0 {
		o.BackupRetention = 5
	}
	if o.BackupInterval <= 0 {
		o.BackupInterval = 30 * time.Second
	}
	if o.CriticalFields == nil {
		o.CriticalFields = []string{
			"temperature", "humidity", "occupancy", "presence",
			"illuminance", "contact", "battery",
		}
	}
	return o
}

func (o Options) captureConfig() CaptureConfig {
	return CaptureConfig{
		BaseTopic:       o.BaseTopic,
		FlushEvery:      o.FlushEvery,
		FlushIntervalMS: o.FlushInterval.Milliseconds(),
		DeviceDataCap:   o.DeviceDataCap,
		DeviceFileCap:   o.DeviceFileCap,
		ConsolidatedCap: o.ConsolidatedCap,
		CriticalFields:  o.CriticalFields,
	}
}
