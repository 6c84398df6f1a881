package capture

import (
	"bytes"
	"encoding/json"
	"time"
)

// DecodePayload turns a raw MQTT payload into the value stored in session
// files: decoded JSON (numbers as json.Number) when it parses, otherwise
// the payload as a string.
func DecodePayload(raw []byte) any {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return string(raw)
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return string(raw)
	}
	return v
}

// flatten builds a consolidated-file record. Object payload fields are
// spread into the record; anything else is stored under "value". The
// capture metadata keys win over payload fields of the same name.
func flatten(sessionID string, e Entry) map[string]any {
	out := make(map[string]any)
	if obj, ok := e.Payload.(map[string]any); ok {
		for k, v := range obj {
			out[k] = v
		}
	} else {
		out["value"] = e.Payload
	}

	out["timestamp"] = e.Timestamp.UTC().Format(time.RFC3339Nano)
	out["topic"] = e.Topic
	out["deviceId"] = e.DeviceID
	out["sessionId"] = sessionID
	return out
}

// hasCriticalField reports whether an object payload carries any of fields.
func hasCriticalField(payload any, fields []string) bool {
	obj, ok := payload.(map[string]any)
	if !ok {
		return false
	}
	for _, f := range fields {
		if _, ok := obj[f]; ok {
			return true
		}
	}
	return false
}
