package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-capture/internal/discovery"
)

// DeviceSource supplies the devices a session captures when it is started
// without an explicit selection.
type DeviceSource interface {
	KnownDevices() []discovery.Device
}

// Journal records session boundaries outside the session directory.
// Failures are logged and do not affect the session.
type Journal interface {
	SessionStarted(ctx context.Context, sess *Session) error
	SessionEnded(ctx context.Context, sess *Session, status string, endedAt time.Time, messageCount int64) error
}

// Controller owns the set of active sessions.
type Controller struct {
	root    string
	store   *Store
	devices DeviceSource
	journal Journal
	logger  Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	starting map[string]struct{}
}

// NewController creates a controller that lays sessions out under root.
// devices may be nil.
func NewController(root string, store *Store, devices DeviceSource) *Controller {
	return &Controller{
		root:     root,
		store:    store,
		devices:  devices,
		logger:   noopLogger{},
		sessions: make(map[string]*Session),
		starting: make(map[string]struct{}),
	}
}

// SetLogger sets the logger for the controller.
func (c *Controller) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.logger = logger
}

// SetJournal sets the journal notified at session start and end.
func (c *Controller) SetJournal(j Journal) {
	c.journal = j
}

// Start activates a session. It creates the directory layout, writes the
// initial primary file, its backup, an empty consolidated file and a log
// line, then arms the periodic backup loop.
//
// With no filters the session captures all known devices, or every message
// when no devices are known. A primary file left by an earlier run of the
// same session id that is still marked active is resumed rather than
// overwritten.
//
// Start returns false if the session is already active or already
// finalized, the id is invalid, or the session directory cannot be created.
func (c *Controller) Start(ctx context.Context, sessionID, dataFile string, filters []DeviceFilter) bool {
	if err := c.start(ctx, sessionID, dataFile, filters); err != nil {
		c.logger.Error("session start failed", "session_id", sessionID, "error", err)
		return false
	}
	return true
}

func (c *Controller) start(ctx context.Context, id, dataFile string, filters []DeviceFilter) error {
	paths, err := NewPaths(c.root, id, dataFile)
	if err != nil {
		return err
	}

	// The id is reserved while the layout is written so the active set
	// stays available to the router.
	if err := c.reserve(id); err != nil {
		return err
	}
	defer c.release(id)

	if err := os.MkdirAll(paths.SessionDir, dirPerm); err != nil {
		return fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	for _, dir := range []string{paths.BackupDir, paths.SensorDataDir, paths.LogsDir, filepath.Dir(paths.DataFile)} {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			c.logger.Warn("creating session subdirectory failed", "session_id", id, "path", dir, "error", err)
		}
	}

	sess := newSession(id, c.store.now(), paths, c.resolveFilters(filters))
	if err := c.initialise(sess); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	sess.cancel = cancel

	c.mu.Lock()
	c.sessions[id] = sess
	c.mu.Unlock()
	go c.backupLoop(loopCtx, sess)

	if c.journal != nil {
		if err := c.journal.SessionStarted(ctx, sess); err != nil {
			c.logger.Warn("journal start failed", "session_id", id, "error", err)
		}
	}

	c.logger.Info("session started",
		"session_id", id,
		"dir", paths.SessionDir,
		"filters", len(sess.filters),
		"resumed", sess.captured > 0,
	)
	return nil
}

// reserve claims id for a Start in progress.
func (c *Controller) reserve(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.sessions[id]; ok {
		return fmt.Errorf("%w: %s", ErrSessionActive, id)
	}
	if _, ok := c.starting[id]; ok {
		return fmt.Errorf("%w: %s", ErrSessionActive, id)
	}
	c.starting[id] = struct{}{}
	return nil
}

func (c *Controller) release(id string) {
	c.mu.Lock()
	delete(c.starting, id)
	c.mu.Unlock()
}

func (c *Controller) resolveFilters(filters []DeviceFilter) []DeviceFilter {
	if len(filters) > 0 {
		out := make([]DeviceFilter, len(filters))
		copy(out, filters)
		return out
	}

	if c.devices != nil {
		known := c.devices.KnownDevices()
		if len(known) > 0 {
			out := make([]DeviceFilter, 0, len(known))
			for _, d := range known {
				out = append(out, DeviceFilter{ID: d.ID, Name: d.Name(), Topic: d.Topic})
			}
			return out
		}
	}

	return []DeviceFilter{CatchAll(c.store.opts.BaseTopic)}
}

// initialise writes the start-of-session artifacts. A session whose files
// show it was already finalized is refused; every other step is
// best-effort. A primary still marked active, left by a process that
// stopped without ending the session, is resumed.
func (c *Controller) initialise(sess *Session) error {
	p := sess.paths
	rec := c.store.newRecord(sess)
	resumed := false

	if fileExists(p.Emergency) {
		return fmt.Errorf("%w: %s ended with an error", ErrSessionFinalized, sess.id)
	}
	if prev, err := readRecord(p.DataFile); err == nil && prev.SessionID == sess.id {
		if prev.Status != StatusActive {
			return fmt.Errorf("%w: %s is %s", ErrSessionFinalized, sess.id, prev.Status)
		}
		sess.startTime = prev.StartTime
		sess.captured = prev.Stats.MessageCount
		sess.persisted = prev.Stats.MessageCount
		prev.Devices = sess.Filters()
		prev.CaptureConfig = c.store.opts.captureConfig()
		rec = prev
		resumed = true
	}

	if err := c.store.writeJSON(p.DataFile, rec); err != nil {
		c.store.logFailure(sess, "primary", p.DataFile, err)
	}
	if err := c.store.snapshot(sess, p.NamedBackup); err != nil {
		c.store.logFailure(sess, "backup", p.NamedBackup, err)
	}
	if !resumed {
		if err := c.store.writeFile(p.Consolidated, []byte("[]")); err != nil {
			c.store.logFailure(sess, "consolidated", p.Consolidated, err)
		}
	}

	verb := "started"
	if resumed {
		verb = "resumed"
	}
	if err := appendLog(p.LogFile, c.store.now(), "Session %s %s with %d device filter(s): %s",
		sess.id, verb, len(sess.filters), filterIDs(sess.filters)); err != nil {
		c.store.logFailure(sess, "log", p.LogFile, err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// backupLoop flushes and snapshots the session every BackupInterval until
// ctx is cancelled.
func (c *Controller) backupLoop(ctx context.Context, sess *Session) {
	defer close(sess.done)

	ticker := time.NewTicker(c.store.opts.BackupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.store.Flush(sess); err != nil {
				c.store.logFailure(sess, "primary", sess.paths.DataFile, err)
			}
			if _, err := c.store.Backup(sess); err != nil {
				c.store.logFailure(sess, "backup", sess.paths.BackupDir, err)
			}
		}
	}
}

// End finalises a session: a final backup, the completed primary file, an
// export summary and a log line. If the primary file cannot be updated an
// emergency record is written instead and End returns false. The session
// leaves the active set in every case.
func (c *Controller) End(ctx context.Context, sessionID string) bool {
	c.mu.RLock()
	sess, ok := c.sessions[sessionID]
	c.mu.RUnlock()
	if !ok {
		c.logger.Warn("end of unknown session", "session_id", sessionID, "error", ErrSessionNotFound)
		return false
	}

	sess.mu.Lock()
	if sess.closing {
		sess.mu.Unlock()
		return false
	}
	sess.closing = true
	sess.mu.Unlock()

	defer c.remove(sessionID)

	sess.cancel()
	<-sess.done

	now := c.store.now()
	p := sess.paths

	if err := c.store.snapshot(sess, p.FinalBackup(now)); err != nil {
		c.store.logFailure(sess, "backup", p.BackupDir, err)
	}

	rec, err := c.finalise(sess, now)
	if err != nil {
		c.store.logFailure(sess, "primary", p.DataFile, err)
		c.writeEmergency(sess, now, err)
		if lerr := appendLog(p.LogFile, now, "Session %s ended with error: %v", sess.id, err); lerr != nil {
			c.store.logFailure(sess, "log", p.LogFile, lerr)
		}
		c.journalEnded(ctx, sess, StatusError, now)
		return false
	}

	if err := c.store.writeIndentedJSON(p.ExportSummary, newExportSummary(p, rec)); err != nil {
		c.store.logFailure(sess, "summary", p.ExportSummary, err)
	}
	if err := appendLog(p.LogFile, now, "Session %s completed: %d messages, %d topics, %d devices",
		sess.id, rec.Stats.MessageCount, rec.Stats.TopicCount, rec.Stats.DeviceCount); err != nil {
		c.store.logFailure(sess, "log", p.LogFile, err)
	}
	c.journalEnded(ctx, sess, StatusCompleted, now)

	c.logger.Info("session ended",
		"session_id", sess.id,
		"messages", rec.Stats.MessageCount,
		"duration_ms", rec.Duration,
	)
	return true
}

// finalise merges the last pending entries into the primary file and
// marks it completed. The primary file must be readable; there is no
// backup fallback here so a lost file is reported, not papered over.
func (c *Controller) finalise(sess *Session, now time.Time) (*Record, error) {
	p := sess.paths
	rec, err := readRecord(p.DataFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPrimaryUnreadable, err)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	persisted := c.store.merge(sess, rec, now)
	end := now.UTC()
	rec.EndTime = &end
	rec.Duration = end.Sub(rec.StartTime).Milliseconds()
	rec.Status = StatusCompleted
	rec.Stats.DeviceFiles = countDeviceFiles(p.SensorDataDir)

	if err := c.store.writeIndentedJSON(p.DataFile, rec); err != nil {
		return nil, err
	}

	sess.persisted = persisted
	sess.pending = nil
	sess.lastSave = end
	return rec, nil
}

type emergencyRecord struct {
	SessionID    string    `json:"sessionId"`
	StartTime    time.Time `json:"startTime"`
	EndTime      time.Time `json:"endTime"`
	Duration     int64     `json:"duration"`
	Status       string    `json:"status"`
	Error        string    `json:"error"`
	MessageCount int64     `json:"messageCount"`
	Unflushed    int       `json:"unflushed"`
	DataFile     string    `json:"dataFile"`
}

func (c *Controller) writeEmergency(sess *Session, now time.Time, cause error) {
	sess.mu.Lock()
	rec := emergencyRecord{
		SessionID:    sess.id,
		StartTime:    sess.startTime.UTC(),
		EndTime:      now.UTC(),
		Duration:     now.Sub(sess.startTime).Milliseconds(),
		Status:       StatusError,
		Error:        cause.Error(),
		MessageCount: sess.captured,
		Unflushed:    len(sess.pending),
		DataFile:     sess.paths.DataFile,
	}
	sess.mu.Unlock()

	if err := c.store.writeIndentedJSON(sess.paths.Emergency, rec); err != nil {
		c.store.logFailure(sess, "emergency", sess.paths.Emergency, err)
	}
}

func (c *Controller) journalEnded(ctx context.Context, sess *Session, status string, at time.Time) {
	if c.journal == nil {
		return
	}
	if err := c.journal.SessionEnded(ctx, sess, status, at, sess.MessageCount()); err != nil {
		c.logger.Warn("journal end failed", "session_id", sess.id, "error", err)
	}
}

func (c *Controller) remove(id string) {
	c.mu.Lock()
	delete(c.sessions, id)
	c.mu.Unlock()
}

// EndAll ends every active session and returns how many finalised cleanly.
func (c *Controller) EndAll(ctx context.Context) int {
	ok := 0
	for _, sess := range c.Active() {
		if c.End(ctx, sess.id) {
			ok++
		}
	}
	return ok
}

// Active returns the active sessions ordered by id.
func (c *Controller) Active() []*Session {
	c.mu.RLock()
	out := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// IsActive reports whether sessionID is active.
func (c *Controller) IsActive(sessionID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.sessions[sessionID]
	return ok
}

// ControllerStats summarises the active sessions.
type ControllerStats struct {
	ActiveSessions int            `json:"active_sessions"`
	TotalMessages  int64          `json:"total_messages"`
	Sessions       []SessionStats `json:"sessions"`
}

// Stats returns a snapshot of every active session.
func (c *Controller) Stats() ControllerStats {
	active := c.Active()
	st := ControllerStats{
		ActiveSessions: len(active),
		Sessions:       make([]SessionStats, 0, len(active)),
	}
	for _, s := range active {
		ss := s.stats()
		st.TotalMessages += ss.MessageCount
		st.Sessions = append(st.Sessions, ss)
	}
	return st
}

// ExportSummary is the compact description written when a session completes.
type ExportSummary struct {
	SessionID    string       `json:"sessionId"`
	StartTime    time.Time    `json:"startTime"`
	EndTime      *time.Time   `json:"endTime"`
	Duration     int64        `json:"duration"`
	Status       string       `json:"status"`
	MessageCount int64        `json:"messageCount"`
	TopicCount   int          `json:"topicCount"`
	DeviceCount  int          `json:"deviceCount"`
	DeviceFiles  int          `json:"deviceFiles"`
	Topics       []string     `json:"topics"`
	Devices      []string     `json:"devices"`
	Files        SummaryFiles `json:"files"`
}

// SummaryFiles points at the session's artifacts.
type SummaryFiles struct {
	Primary      string `json:"primary"`
	Consolidated string `json:"consolidated"`
	SensorData   string `json:"sensorData"`
	Backups      string `json:"backups"`
	Log          string `json:"log"`
}

func newExportSummary(p Paths, rec *Record) ExportSummary {
	return ExportSummary{
		SessionID:    rec.SessionID,
		StartTime:    rec.StartTime,
		EndTime:      rec.EndTime,
		Duration:     rec.Duration,
		Status:       rec.Status,
		MessageCount: rec.Stats.MessageCount,
		TopicCount:   rec.Stats.TopicCount,
		DeviceCount:  rec.Stats.DeviceCount,
		DeviceFiles:  rec.Stats.DeviceFiles,
		Topics:       sortedKeys(rec.Messages),
		Devices:      sortedKeys(rec.DeviceData),
		Files: SummaryFiles{
			Primary:      p.DataFile,
			Consolidated: p.Consolidated,
			SensorData:   p.SensorDataDir,
			Backups:      p.BackupDir,
			Log:          p.LogFile,
		},
	}
}

func sortedKeys(m map[string][]Entry) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// countDeviceFiles counts per-device files, excluding the consolidated file.
func countDeviceFiles(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == consolidatedName || !strings.HasSuffix(name, ".json") {
			continue
		}
		n++
	}
	return n
}

func filterIDs(filters []DeviceFilter) string {
	ids := make([]string, len(filters))
	for i, f := range filters {
		ids[i] = f.ID
	}
	return strings.Join(ids, ", ")
}
