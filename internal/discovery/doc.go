// Package discovery tracks what the broker has shown us: every topic seen,
// the bridge's current device list, and the last few payloads per topic.
//
// The Registry is the single owner of that state. It can be hydrated from
// and mirrored to a Repository (the SQLite catalog) so topics and devices
// survive restarts; repository failures are logged and never surface to
// the message path.
//
// ResolveDeviceID derives a device identifier from a topic alone:
//
//	ResolveDeviceID("zigbee2mqtt", "zigbee2mqtt/door1/availability") // "door1"
//	ResolveDeviceID("zigbee2mqtt", "sensors/kitchen/temp")           // "temp"
//	ResolveDeviceID("zigbee2mqtt", "sensors/kitchen/")               // "sensors_kitchen_"
package discovery
