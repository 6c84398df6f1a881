package capture

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/nerrad567/gray-logic-capture/internal/discovery"
)

// backupStamp is fixed-width so backup names sort chronologically.
const backupStamp = "20060102T150405.000000000Z"

// consolidatedName is the flat file inside sensor_data/. A device whose id
// sanitises to the same name is written to deviceCollisionName instead.
const (
	consolidatedName    = "sensor_data.json"
	deviceCollisionName = "sensor_data_device.json"
)

// Paths is the resolved file layout of one session.
type Paths struct {
	SessionDir    string
	DataFile      string
	BackupDir     string
	NamedBackup   string
	SensorDataDir string
	Consolidated  string
	LogsDir       string
	LogFile       string
	Emergency     string
	ExportSummary string
	id            string
}

// NewPaths lays out session id under root. An empty dataFile selects the
// default primary file name; a relative one is placed in the session
// directory.
func NewPaths(root, id, dataFile string) (Paths, error) {
	if err := validateSessionID(id); err != nil {
		return Paths{}, err
	}

	dir := filepath.Join(root, "Session"+id)
	switch {
	case dataFile == "":
		dataFile = filepath.Join(dir, fmt.Sprintf("session_%s_data.json", id))
	case !filepath.IsAbs(dataFile):
		dataFile = filepath.Join(dir, dataFile)
	}

	backup := filepath.Join(dir, "backup")
	sensors := filepath.Join(dir, "sensor_data")
	logs := filepath.Join(dir, "logs")

	return Paths{
		SessionDir:    dir,
		DataFile:      filepath.Clean(dataFile),
		BackupDir:     backup,
		NamedBackup:   filepath.Join(backup, fmt.Sprintf("session_%s_data.json", id)),
		SensorDataDir: sensors,
		Consolidated:  filepath.Join(sensors, consolidatedName),
		LogsDir:       logs,
		LogFile:       filepath.Join(logs, fmt.Sprintf("session_%s_log.txt", id)),
		Emergency:     filepath.Join(dir, fmt.Sprintf("session_%s_emergency_end.json", id)),
		ExportSummary: filepath.Join(dir, fmt.Sprintf("session_%s_export_summary.json", id)),
		id:            id,
	}, nil
}

// DeviceFile returns the per-device file for deviceID.
func (p Paths) DeviceFile(deviceID string) string {
	name := discovery.SanitizeID(deviceID) + ".json"
	if name == consolidatedName {
		name = deviceCollisionName
	}
	return filepath.Join(p.SensorDataDir, name)
}

// TimedBackup returns the rotated backup path for at.
func (p Paths) TimedBackup(at time.Time) string {
	return filepath.Join(p.BackupDir, p.timedBackupPrefix()+at.UTC().Format(backupStamp)+".json")
}

// FinalBackup returns the pre-finalisation backup path for at.
func (p Paths) FinalBackup(at time.Time) string {
	return filepath.Join(p.BackupDir, fmt.Sprintf("session_%s_final_%s.json", p.id, at.UTC().Format(backupStamp)))
}

func (p Paths) timedBackupPrefix() string {
	return fmt.Sprintf("session_%s_backup_", p.id)
}

// validateSessionID rejects ids that are empty or would not survive as a
// single path element.
func validateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSessionID)
	}
	if discovery.SanitizeID(id) != id {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}
	return nil
}
