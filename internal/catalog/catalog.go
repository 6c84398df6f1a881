package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-capture/internal/discovery"
	"github.com/nerrad567/gray-logic-capture/internal/infrastructure/database"
)

// Session statuses stored in capture_sessions.status.
const (
	StatusActive      = "active"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
	StatusInterrupted = "interrupted"
)

// timeFormat is used for every timestamp column.
const timeFormat = time.RFC3339Nano

// ErrSessionNotFound is returned when a journal row does not exist.
var ErrSessionNotFound = errors.New("catalog: session not found")

// SessionRecord is one row of the session journal.
type SessionRecord struct {
	SessionID    string
	SessionDir   string
	DataFile     string
	StartedAt    time.Time
	EndedAt      *time.Time
	Status       string
	MessageCount int64
}

// Catalog is the SQLite-backed repository. It satisfies discovery.Repository.
type Catalog struct {
	db *database.DB
}

var _ discovery.Repository = (*Catalog)(nil)

// New wraps an open, migrated database.
func New(db *database.DB) *Catalog {
	return &Catalog{db: db}
}

// RecordTopic upserts a topic, bumping its count and last_seen.
func (c *Catalog) RecordTopic(ctx context.Context, topic string, seen time.Time) error {
	ts := seen.UTC().Format(timeFormat)
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO topics (topic, first_seen, last_seen, message_count)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(topic) DO UPDATE SET
			last_seen = excluded.last_seen,
			message_count = topics.message_count + 1
	`, topic, ts, ts)
	if err != nil {
		return fmt.Errorf("recording topic %s: %w", topic, err)
	}
	return nil
}

// LoadTopics returns every stored topic ordered by name.
func (c *Catalog) LoadTopics(ctx context.Context) ([]discovery.TopicRecord, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT topic, first_seen, last_seen, message_count FROM topics ORDER BY topic",
	)
	if err != nil {
		return nil, fmt.Errorf("querying topics: %w", err)
	}
	defer rows.Close()

	var out []discovery.TopicRecord
	for rows.Next() {
		var rec discovery.TopicRecord
		var first, last string
		if err := rows.Scan(&rec.Topic, &first, &last, &rec.MessageCount); err != nil {
			return nil, fmt.Errorf("scanning topic: %w", err)
		}
		rec.FirstSeen = parseTime(first)
		rec.LastSeen = parseTime(last)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ReplaceDevices swaps the stored device list in one transaction.
func (c *Catalog) ReplaceDevices(ctx context.Context, devices []discovery.Device) error {
	return c.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM devices"); err != nil {
			return fmt.Errorf("clearing devices: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO devices (id, friendly_name, topic, type, last_seen, raw)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				friendly_name = excluded.friendly_name,
				topic = excluded.topic,
				type = excluded.type,
				last_seen = excluded.last_seen,
				raw = excluded.raw
		`)
		if err != nil {
			return fmt.Errorf("preparing device insert: %w", err)
		}
		defer stmt.Close()

		for _, d := range devices {
			raw := string(d.Raw)
			if raw == "" {
				raw = "{}"
			}
			if _, err := stmt.ExecContext(ctx,
				d.ID, d.FriendlyName, d.Topic, d.Type, d.LastSeen.UTC().Format(timeFormat), raw,
			); err != nil {
				return fmt.Errorf("inserting device %s: %w", d.ID, err)
			}
		}
		return nil
	})
}

// LoadDevices returns the stored device list ordered by id.
func (c *Catalog) LoadDevices(ctx context.Context) ([]discovery.Device, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT id, friendly_name, topic, type, last_seen, raw FROM devices ORDER BY id",
	)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var out []discovery.Device
	for rows.Next() {
		var d discovery.Device
		var lastSeen, raw string
		if err := rows.Scan(&d.ID, &d.FriendlyName, &d.Topic, &d.Type, &lastSeen, &raw); err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		d.LastSeen = parseTime(lastSeen)
		d.Raw = json.RawMessage(raw)

		var desc struct {
			IEEEAddress string `json:"ieee_address"`
		}
		if json.Unmarshal(d.Raw, &desc) == nil {
			d.IEEEAddress = desc.IEEEAddress
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// SessionStarted journals a session as active, replacing any earlier row
// with the same id.
func (c *Catalog) SessionStarted(ctx context.Context, rec SessionRecord) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO capture_sessions (session_id, session_dir, data_file, started_at, status, message_count)
		VALUES (?, ?, ?, ?, ?, 0)
		ON CONFLICT(session_id) DO UPDATE SET
			session_dir = excluded.session_dir,
			data_file = excluded.data_file,
			started_at = excluded.started_at,
			ended_at = NULL,
			status = excluded.status,
			message_count = 0
	`, rec.SessionID, rec.SessionDir, rec.DataFile, rec.StartedAt.UTC().Format(timeFormat), StatusActive)
	if err != nil {
		return fmt.Errorf("journaling session %s start: %w", rec.SessionID, err)
	}
	return nil
}

// SessionEnded records the final status and message count.
func (c *Catalog) SessionEnded(ctx context.Context, sessionID, status string, endedAt time.Time, messageCount int64) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE capture_sessions SET ended_at = ?, status = ?, message_count = ?
		WHERE session_id = ?
	`, endedAt.UTC().Format(timeFormat), status, messageCount, sessionID)
	if err != nil {
		return fmt.Errorf("journaling session %s end: %w", sessionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite3 always reports
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return nil
}

// Session returns the journal row for sessionID.
func (c *Catalog) Session(ctx context.Context, sessionID string) (SessionRecord, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT session_id, session_dir, data_file, started_at, ended_at, status, message_count
		FROM capture_sessions WHERE session_id = ?
	`, sessionID)

	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return rec, err
}

// MarkInterrupted flags every session still journaled as active and
// returns their ids. Called at startup, before any session starts.
func (c *Catalog) MarkInterrupted(ctx context.Context, at time.Time) ([]string, error) {
	var ids []string
	err := c.db.WithTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			"SELECT session_id FROM capture_sessions WHERE status = ? ORDER BY session_id", StatusActive)
		if err != nil {
			return fmt.Errorf("querying active sessions: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scanning session id: %w", err)
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE capture_sessions SET status = ?, ended_at = ? WHERE status = ?",
			StatusInterrupted, at.UTC().Format(timeFormat), StatusActive)
		if err != nil {
			return fmt.Errorf("marking sessions interrupted: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (SessionRecord, error) {
	var rec SessionRecord
	var started string
	var ended sql.NullString
	if err := row.Scan(&rec.SessionID, &rec.SessionDir, &rec.DataFile, &started, &ended, &rec.Status, &rec.MessageCount); err != nil {
		return SessionRecord{}, err
	}
	rec.StartedAt = parseTime(started)
	if ended.Valid {
		t := parseTime(ended.String)
		rec.EndedAt = &t
	}
	return rec, nil
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFormat, s) //nolint:errcheck // Format is controlled
	return t
}
