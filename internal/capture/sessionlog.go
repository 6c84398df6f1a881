package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// appendLog adds one timestamped line to the session's text log.
func appendLog(path string, at time.Time, format string, args ...any) error {
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, filePerm)
	if err != nil {
		return err
	}

	line := fmt.Sprintf("[%s] %s\n", at.UTC().Format(time.RFC3339Nano), fmt.Sprintf(format, args...))
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
