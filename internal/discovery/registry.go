package discovery

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
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

// TopicRecord is the registry's knowledge of one topic.
type TopicRecord struct {
	Topic        string    `json:"topic"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	MessageCount int64     `json:"message_count"`
}

// Repository persists registry state between runs.
type Repository interface {
	LoadTopics(ctx context.Context) ([]TopicRecord, error)
	LoadDevices(ctx context.Context) ([]Device, error)
	RecordTopic(ctx context.Context, topic string, seen time.Time) error
	ReplaceDevices(ctx context.Context, devices []Device) error
}

// Registry holds the topic set, device directory and per-topic history.
//
// The topic set only grows. The device directory is replaced wholesale
// by every valid device list. All methods are safe for concurrent use.
type Registry struct {
	baseTopic   string
	historySize int

	mu      sync.RWMutex
	topics  map[string]*TopicRecord
	devices []Device
	history map[string]*ring[HistoryEntry]

	repo   Repository
	logger Logger
	now    func() time.Time
}

// NewRegistry creates an empty registry for the tree rooted at baseTopic.
// repo may be nil.
func NewRegistry(baseTopic string, repo Repository) *Registry {
	return &Registry{
		baseTopic:   baseTopic,
		historySize: DefaultHistorySize,
		topics:      make(map[string]*TopicRecord),
		history:     make(map[string]*ring[HistoryEntry]),
		repo:        repo,
		logger:      noopLogger{},
		now:         time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.logger = logger
}

// BaseTopic returns the configured base topic.
func (r *Registry) BaseTopic() string {
	return r.baseTopic
}

// Load hydrates topics and devices from the repository.
func (r *Registry) Load(ctx context.Context) error {
	if r.repo == nil {
		return nil
	}

	topics, err := r.repo.LoadTopics(ctx)
	if err != nil {
		return fmt.Errorf("loading topics: %w", err)
	}
	devices, err := r.repo.LoadDevices(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.mu.Lock()
	for i := range topics {
		rec := topics[i]
		r.topics[rec.Topic] = &rec
	}
	if len(devices) > 0 {
		r.devices = devices
	}
	r.mu.Unlock()

	r.logger.Info("registry loaded", "topics", len(topics), "devices", len(devices))
	return nil
}

// RecordTopic notes that a message arrived on topic. It reports whether
// the topic was new to the registry.
func (r *Registry) RecordTopic(ctx context.Context, topic string) bool {
	now := r.now()

	r.mu.Lock()
	rec, exists := r.topics[topic]
	if !exists {
		rec = &TopicRecord{Topic: topic, FirstSeen: now}
		r.topics[topic] = rec
	}
	rec.LastSeen = now
	rec.MessageCount++
	r.mu.Unlock()

	if !exists {
		r.logger.Debug("new topic", "topic", topic)
	}
	if r.repo != nil {
		if err := r.repo.RecordTopic(ctx, topic, now); err != nil {
			r.logger.Warn("persisting topic failed", "topic", topic, "error", err)
		}
	}
	return !exists
}

// Topics returns every topic seen, sorted.
func (r *Registry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.topics))
	for topic := range r.topics {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out
}

// TopicRecord returns the record for topic.
func (r *Registry) TopicRecord(topic string) (TopicRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.topics[topic]
	if !ok {
		return TopicRecord{}, false
	}
	return *rec, true
}

// UpdateDeviceList replaces the directory from a device-list payload and
// returns the new device count. A payload that is not a JSON array leaves
// the directory untouched and returns ErrMalformedDeviceList, which
// callers treat as informational.
func (r *Registry) UpdateDeviceList(ctx context.Context, payload []byte) (int, error) {
	devices, err := ParseDeviceList(r.baseTopic, payload, r.now())
	if err != nil {
		r.logger.Debug("ignoring device list", "error", err)
		return 0, err
	}

	r.mu.Lock()
	r.devices = devices
	r.mu.Unlock()

	r.logger.Info("device list updated", "devices", len(devices))
	if r.repo != nil {
		if err := r.repo.ReplaceDevices(ctx, devices); err != nil {
			r.logger.Warn("persisting device list failed", "error", err)
		}
	}
	return len(devices), nil
}

// Devices returns a copy of the directory, coordinators included.
func (r *Registry) Devices() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Device, len(r.devices))
	copy(out, r.devices)
	return out
}

// KnownDevices returns the directory without coordinator entries.
func (r *Registry) KnownDevices() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		if !d.IsCoordinator() {
			out = append(out, d)
		}
	}
	return out
}

// RecordMessage appends payload to topic's history ring.
func (r *Registry) RecordMessage(topic string, payload any, at time.Time) {
	r.mu.Lock()
	h, ok := r.history[topic]
	if !ok {
		h = newRing[HistoryEntry](r.historySize)
		r.history[topic] = h
	}
	r.mu.Unlock()

	h.push(HistoryEntry{Timestamp: at, Payload: payload})
}

// History returns the recent payloads on topic, oldest first.
func (r *Registry) History(topic string) []HistoryEntry {
	r.mu.RLock()
	h, ok := r.history[topic]
	r.mu.RUnlock()
	if !ok {
		return []HistoryEntry{}
	}
	return h.all()
}

// ResolveDeviceID resolves topic against the registry's base topic.
func (r *Registry) ResolveDeviceID(topic string) string {
	return ResolveDeviceID(r.baseTopic, topic)
}
