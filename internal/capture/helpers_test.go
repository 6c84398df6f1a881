package capture

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-capture/internal/discovery"
)

var t0 = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

// fakeClock advances by step on every reading.
type fakeClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: t0, step: time.Millisecond}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeDevices []discovery.Device

func (f fakeDevices) KnownDevices() []discovery.Device { return f }

type journalCall struct {
	kind   string
	id     string
	status string
	count  int64
}

type fakeJournal struct {
	mu    sync.Mutex
	calls []journalCall
}

func (j *fakeJournal) SessionStarted(_ context.Context, s *Session) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls = append(j.calls, journalCall{kind: "start", id: s.ID()})
	return nil
}

func (j *fakeJournal) SessionEnded(_ context.Context, s *Session, status string, _ time.Time, count int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls = append(j.calls, journalCall{kind: "end", id: s.ID(), status: status, count: count})
	return nil
}

type testEnv struct {
	root  string
	clock *fakeClock
	store *Store
	ctrl  *Controller
}

// newTestEnv builds a store and controller over a temp directory. The
// backup loop interval is long enough never to fire during a test.
func newTestEnv(t *testing.T, opts Options, devices DeviceSource) *testEnv {
	t.Helper()

	if opts.BaseTopic == "" {
		opts.BaseTopic = "zigbee2mqtt"
	}
	if opts.BackupInterval == 0 {
		opts.BackupInterval = time.Hour
	}

	clock := newFakeClock()
	store := NewStore(opts)
	store.now = clock.Now

	root := t.TempDir()
	ctrl := NewController(root, store, devices)
	t.Cleanup(func() { ctrl.EndAll(context.Background()) })

	return &testEnv{root: root, clock: clock, store: store, ctrl: ctrl}
}

func (e *testEnv) start(t *testing.T, id string, filters ...DeviceFilter) *Session {
	t.Helper()
	if !e.ctrl.Start(context.Background(), id, "", filters) {
		t.Fatalf("Start(%q) = false, want true", id)
	}
	for _, s := range e.ctrl.Active() {
		if s.ID() == id {
			return s
		}
	}
	t.Fatalf("session %q not active after Start", id)
	return nil
}

func readPrimary(t *testing.T, path string) *Record {
	t.Helper()
	rec, err := readRecord(path)
	if err != nil {
		t.Fatalf("readRecord(%s) error = %v", path, err)
	}
	return rec
}

func readEntries(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(%s) error = %v", path, err)
	}
	var out []map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("parsing %s: %v", path, err)
	}
	return out
}

func countTimedBackups(t *testing.T, p Paths) int {
	t.Helper()
	backups, err := timedBackups(p)
	if err != nil {
		t.Fatalf("timedBackups() error = %v", err)
	}
	return len(backups)
}

func noTempFiles(t *testing.T, dir string) {
	t.Helper()
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if filepath.Ext(path) == ".tmp" {
			t.Errorf("temp file left behind: %s", path)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walking %s: %v", dir, err)
	}
}
