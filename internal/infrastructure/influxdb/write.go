package influxdb

import (
	"encoding/json"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementCapture is the measurement every captured sample is written to.
const MeasurementCapture = "sensor_capture"

// Sample is one captured message destined for the mirror.
type Sample struct {
	SessionID string
	DeviceID  string
	Topic     string
	Payload   map[string]any
	Time      time.Time
}

// WriteSample queues a point for s carrying its numeric and boolean fields.
// It reports false when disconnected or when the payload has no such field.
func (c *Client) WriteSample(s Sample) bool {
	if !c.IsConnected() {
		return false
	}

	fields := NumericFields(s.Payload)
	if len(fields) == 0 {
		return false
	}

	ts := s.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	point := write.NewPoint(
		MeasurementCapture,
		map[string]string{
			"session_id": s.SessionID,
			"device_id":  s.DeviceID,
			"topic":      s.Topic,
		},
		fields,
		ts,
	)
	c.writer.WritePoint(point)

	c.mu.Lock()
	c.written++
	c.mu.Unlock()
	return true
}

// NumericFields keeps the top-level numeric and boolean values of payload.
// json.Number values become float64; nested objects and strings are dropped.
func NumericFields(payload map[string]any) map[string]any {
	fields := make(map[string]any, len(payload))
	for key, value := range payload {
		switch v := value.(type) {
		case bool, float64, float32, int, int32, int64, uint, uint32, uint64:
			fields[key] = v
		case json.Number:
			if f, err := v.Float64(); err == nil {
				fields[key] = f
			}
		}
	}
	return fields
}
