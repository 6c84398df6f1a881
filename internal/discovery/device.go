package discovery

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DeviceTypeCoordinator marks the bridge's own radio in a device list.
const DeviceTypeCoordinator = "Coordinator"

// Device is one entry of the bridge's device list.
type Device struct {
	ID           string          `json:"id"`
	IEEEAddress  string          `json:"ieee_address,omitempty"`
	FriendlyName string          `json:"friendly_name,omitempty"`
	Topic        string          `json:"topic"`
	Type         string          `json:"type,omitempty"`
	LastSeen     time.Time       `json:"last_seen"`
	Raw          json.RawMessage `json:"raw,omitempty"`
}

// IsCoordinator reports whether d is the bridge coordinator.
func (d Device) IsCoordinator() bool {
	return strings.EqualFold(d.Type, DeviceTypeCoordinator)
}

// Name returns the friendly name, falling back to the ID.
func (d Device) Name() string {
	if d.FriendlyName != "" {
		return d.FriendlyName
	}
	return d.ID
}

// descriptor is the subset of a bridge device entry we read.
type descriptor struct {
	IEEEAddress  string `json:"ieee_address"`
	FriendlyName string `json:"friendly_name"`
	Type         string `json:"type"`
}

// ParseDeviceList decodes a bridge device-list payload.
//
// Entries with neither ieee_address nor friendly_name are skipped; all
// others, coordinators included, are kept with their raw JSON. The ID is
// the friendly name (the name the device publishes under), or the IEEE
// address when no friendly name is set.
func ParseDeviceList(baseTopic string, payload []byte, seen time.Time) ([]Device, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, ErrMalformedDeviceList
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(trimmed, &entries); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedDeviceList, err)
	}

	base := strings.TrimRight(baseTopic, "/")
	devices := make([]Device, 0, len(entries))
	for _, raw := range entries {
		var d descriptor
		if err := json.Unmarshal(raw, &d); err != nil {
			continue
		}
		if d.IEEEAddress == "" && d.FriendlyName == "" {
			continue
		}

		id := d.FriendlyName
		if id == "" {
			id = d.IEEEAddress
		}
		devices = append(devices, Device{
			ID:           id,
			IEEEAddress:  d.IEEEAddress,
			FriendlyName: d.FriendlyName,
			Topic:        base + "/" + id,
			Type:         d.Type,
			LastSeen:     seen,
			Raw:          append(json.RawMessage(nil), raw...),
		})
	}
	return devices, nil
}
