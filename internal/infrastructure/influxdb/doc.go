// Package influxdb mirrors captured sensor samples into InfluxDB v2.
//
// The mirror is optional. Every captured message with an object payload
// becomes one point in the sensor_capture measurement, tagged with
// session_id, device_id and topic, carrying the payload's numeric and
// boolean fields. Session files on disk stay the record of truth; the
// mirror only feeds dashboards.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without the mirror
//	}
//	defer client.Close()
//
//	client.WriteSample(influxdb.Sample{
//	    SessionID: "S1",
//	    DeviceID:  "door1",
//	    Topic:     "zigbee2mqtt/door1",
//	    Payload:   map[string]any{"contact": true, "battery": 97},
//	})
//
// Writes are non-blocking and batched (batch_size, flush_interval).
package influxdb
