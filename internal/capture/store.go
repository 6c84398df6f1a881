package capture

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Store writes captured messages through the three session tiers.
type Store struct {
	opts   Options
	logger Logger
	now    func() time.Time
	rename func(oldpath, newpath string) error
}

// NewStore creates a store. Zero-valued options take their defaults.
func NewStore(opts Options) *Store {
	return &Store{
		opts:   opts.withDefaults(),
		logger: noopLogger{},
		now:    time.Now,
		rename: os.Rename,
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.logger = logger
}

// Options returns the effective options.
func (s *Store) Options() Options {
	return s.opts
}

// Persist records one captured message for sess.
//
// The per-device and consolidated files are appended on every call. The
// primary file is appended in batches: when the session's message count
// reaches a multiple of FlushEvery, or FlushInterval has passed since the
// last flush. A payload carrying a critical field triggers a snapshot
// backup afterwards. Tier failures are logged and reported as Degraded.
func (s *Store) Persist(sess *Session, topic, deviceID string, payload any, at time.Time) PersistResult {
	entry := Entry{
		Timestamp: at.UTC(),
		Topic:     topic,
		DeviceID:  deviceID,
		Payload:   payload,
	}

	sess.mu.Lock()
	if sess.closing {
		sess.mu.Unlock()
		return Skipped
	}

	sess.captured++
	sess.lastMessage = entry.Timestamp
	sess.pending = appendCapped(sess.pending, entry, s.opts.DeviceFileCap)

	result := Committed
	if sess.captured%int64(s.opts.FlushEvery) == 0 || s.now().Sub(sess.lastFlush) > s.opts.FlushInterval {
		if err := s.flushLocked(sess); err != nil {
			s.logFailure(sess, "primary", sess.paths.DataFile, err)
			result = Degraded
		}
	}

	devicePath := sess.paths.DeviceFile(deviceID)
	if err := s.appendArray(sess, "device", devicePath, entry, s.opts.DeviceFileCap); err != nil {
		s.logFailure(sess, "device", devicePath, err)
		result = Degraded
	}

	if err := s.appendArray(sess, "consolidated", sess.paths.Consolidated, flatten(sess.id, entry), s.opts.ConsolidatedCap); err != nil {
		s.logFailure(sess, "consolidated", sess.paths.Consolidated, err)
		result = Degraded
	}
	sess.mu.Unlock()

	if hasCriticalField(payload, s.opts.CriticalFields) {
		if path, err := s.Backup(sess); err != nil {
			s.logFailure(sess, "backup", sess.paths.BackupDir, err)
			result = Degraded
		} else {
			s.logger.Debug("critical field backup", "session_id", sess.id, "path", path)
		}
	}

	return result
}

// Flush writes any batched entries to the primary file now.
func (s *Store) Flush(sess *Session) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return s.flushLocked(sess)
}

// flushLocked appends pending entries to the primary file. On failure the
// entries stay pending for the next flush. Caller holds sess.mu.
func (s *Store) flushLocked(sess *Session) error {
	now := s.now()
	sess.lastFlush = now
	if len(sess.pending) == 0 {
		return nil
	}

	rec := s.loadForAppend(sess)
	persisted := s.merge(sess, rec, now)
	saved := now.UTC()

	if err := s.writeJSON(sess.paths.DataFile, rec); err != nil {
		return err
	}

	sess.persisted = persisted
	sess.pending = nil
	sess.lastSave = saved
	return nil
}

// merge appends the session's pending entries to rec and recomputes its
// stats. It returns the appended total; sess is not modified.
func (s *Store) merge(sess *Session, rec *Record, now time.Time) int64 {
	for _, e := range sess.pending {
		rec.Messages[e.Topic] = append(rec.Messages[e.Topic], e)
		rec.DeviceData[e.DeviceID] = appendCapped(rec.DeviceData[e.DeviceID], e, s.opts.DeviceDataCap)
	}

	persisted := sess.persisted + int64(len(sess.pending))
	saved := now.UTC()
	rec.Stats.MessageCount = persisted
	rec.Stats.TopicCount = len(rec.Messages)
	rec.Stats.DeviceCount = len(rec.DeviceData)
	rec.Stats.LastSaveAt = &saved
	if !sess.lastMessage.IsZero() {
		last := sess.lastMessage
		rec.Stats.LastMessageAt = &last
	}
	return persisted
}

// loadForAppend reads the primary file, falling back to the named backup
// and then to an empty record. Either fallback loses data and is logged.
func (s *Store) loadForAppend(sess *Session) *Record {
	rec, err := readRecord(sess.paths.DataFile)
	if err == nil {
		return rec
	}

	restored, berr := readRecord(sess.paths.NamedBackup)
	if berr == nil {
		s.logger.Warn("primary file restored from backup",
			"session_id", sess.id,
			"tier", "primary",
			"path", sess.paths.DataFile,
			"backup", sess.paths.NamedBackup,
			"error", err,
		)
		return restored
	}

	s.logger.Error("primary file reinitialised, earlier entries lost",
		"session_id", sess.id,
		"tier", "primary",
		"path", sess.paths.DataFile,
		"error", err,
		"backup_error", berr,
	)
	return s.newRecord(sess)
}

func (s *Store) newRecord(sess *Session) *Record {
	return &Record{
		SessionID:     sess.id,
		StartTime:     sess.startTime.UTC(),
		Status:        StatusActive,
		Devices:       sess.Filters(),
		Messages:      make(map[string][]Entry),
		DeviceData:    make(map[string][]Entry),
		CaptureConfig: s.opts.captureConfig(),
	}
}

// appendArray adds item to the JSON array at path, keeping at most limit
// entries. An unreadable array is replaced rather than repaired.
func (s *Store) appendArray(sess *Session, tier, path string, item any, limit int) error {
	items, err := readArray(path)
	if err != nil {
		s.logger.Warn("array file unreadable, starting fresh",
			"session_id", sess.id,
			"tier", tier,
			"path", path,
			"error", err,
		)
		items = nil
	}

	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encoding entry: %w", err)
	}

	items = appendCapped(items, json.RawMessage(raw), limit)
	return s.writeJSON(path, items)
}

func (s *Store) logFailure(sess *Session, tier, path string, err error) {
	s.logger.Error("capture write failed",
		"session_id", sess.id,
		"tier", tier,
		"path", path,
		"error", err,
	)
}
