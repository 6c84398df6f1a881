package capture

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// writeFile replaces path with data. The data goes to path+".tmp" first and
// is renamed over the target, so readers see either the old or the new
// file. When rename fails (cross-device, locked target) the temp file is
// copied over the target and removed best-effort.
func (s *Store) writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}

	tmp := path + ".tmp"
	if err := writeSynced(tmp, data); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("writing %s: %w", tmp, err)
	}

	if err := s.rename(tmp, path); err != nil {
		if cerr := copyFile(tmp, path); cerr != nil {
			_ = os.Remove(tmp)
			return fmt.Errorf("replacing %s: rename failed (%v): %w", path, err, cerr)
		}
		if rerr := os.Remove(tmp); rerr != nil {
			s.logger.Warn("temp file not removed", "path", tmp, "error", rerr)
		}
	}
	return nil
}

func (s *Store) writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return s.writeFile(path, data)
}

func (s *Store) writeIndentedJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return s.writeFile(path, data)
}

func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// readRecord parses a primary file. Numbers are kept as json.Number so
// payloads round-trip unchanged.
func readRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if rec.Messages == nil {
		rec.Messages = make(map[string][]Entry)
	}
	if rec.DeviceData == nil {
		rec.DeviceData = make(map[string][]Entry)
	}
	return &rec, nil
}

// readArray parses a JSON array file without decoding its elements.
// A missing file is an empty array.
func readArray(path string) ([]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return items, nil
}

// appendCapped appends item and drops the oldest entries beyond limit.
func appendCapped[T any](items []T, item T, limit int) []T {
	items = append(items, item)
	if limit > 0 && len(items) > limit {
		trimmed := make([]T, limit)
		copy(trimmed, items[len(items)-limit:])
		items = trimmed
	}
	return items
}
