package capture

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Backup copies the primary file verbatim to a new timed backup, refreshes
// the named backup used for restores, and prunes timed backups beyond the
// retention limit. A primary file that is not valid JSON is not copied, so
// a corrupt file never overwrites a good backup.
func (s *Store) Backup(sess *Session) (string, error) {
	sess.backupMu.Lock()
	defer sess.backupMu.Unlock()

	data, err := readPrimarySnapshot(sess.paths.DataFile)
	if err != nil {
		return "", err
	}

	path := sess.paths.TimedBackup(s.now())
	if err := s.writeFile(path, data); err != nil {
		return "", err
	}
	if err := s.writeFile(sess.paths.NamedBackup, data); err != nil {
		s.logger.Warn("named backup not refreshed",
			"session_id", sess.id,
			"tier", "backup",
			"path", sess.paths.NamedBackup,
			"error", err,
		)
	}

	s.rotate(sess)
	return path, nil
}

// snapshot copies the primary file to dst.
func (s *Store) snapshot(sess *Session, dst string) error {
	sess.backupMu.Lock()
	defer sess.backupMu.Unlock()

	data, err := readPrimarySnapshot(sess.paths.DataFile)
	if err != nil {
		return err
	}
	return s.writeFile(dst, data)
}

func readPrimarySnapshot(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPrimaryUnreadable, err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: %s is not valid JSON", ErrPrimaryUnreadable, path)
	}
	return data, nil
}

// rotate deletes the oldest timed backups beyond BackupRetention. Deletion
// failures are logged only.
func (s *Store) rotate(sess *Session) {
	backups, err := timedBackups(sess.paths)
	if err != nil {
		s.logger.Warn("listing backups failed",
			"session_id", sess.id,
			"tier", "backup",
			"path", sess.paths.BackupDir,
			"error", err,
		)
		return
	}

	excess := len(backups) - s.opts.BackupRetention
	for i := 0; i < excess; i++ {
		if err := os.Remove(backups[i]); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("removing old backup failed",
				"session_id", sess.id,
				"tier", "backup",
				"path", backups[i],
				"error", err,
			)
		}
	}
}

// timedBackups lists the rotated backups of a session, oldest first.
func timedBackups(p Paths) ([]string, error) {
	entries, err := os.ReadDir(p.BackupDir)
	if err != nil {
		return nil, err
	}

	prefix := p.timedBackupPrefix()
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		out = append(out, filepath.Join(p.BackupDir, name))
	}
	sort.Strings(out)
	return out, nil
}
