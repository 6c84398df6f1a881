package ingest

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-capture/internal/capture"
	"github.com/nerrad567/gray-logic-capture/internal/catalog"
)

// catalogJournal records session boundaries in the SQLite catalog.
type catalogJournal struct {
	cat *catalog.Catalog
}

// NewJournal adapts the catalog's session journal for the controller.
func NewJournal(cat *catalog.Catalog) capture.Journal {
	return &catalogJournal{cat: cat}
}

func (j *catalogJournal) SessionStarted(ctx context.Context, sess *capture.Session) error {
	p := sess.Paths()
	return j.cat.SessionStarted(ctx, catalog.SessionRecord{
		SessionID:  sess.ID(),
		SessionDir: p.SessionDir,
		DataFile:   p.DataFile,
		StartedAt:  sess.StartTime(),
		Status:     catalog.StatusActive,
	})
}

func (j *catalogJournal) SessionEnded(ctx context.Context, sess *capture.Session, status string, endedAt time.Time, messageCount int64) error {
	journalStatus := catalog.StatusCompleted
	if status != capture.StatusCompleted {
		journalStatus = catalog.StatusFailed
	}
	return j.cat.SessionEnded(ctx, sess.ID(), journalStatus, endedAt, messageCount)
}
