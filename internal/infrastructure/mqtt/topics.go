package mqtt

import "strings"

// DefaultBaseTopic is the root used by zigbee2mqtt-style bridges.
const DefaultBaseTopic = "zigbee2mqtt"

// Topics provides builders for the bridge topic tree rooted at Base.
//
//	topics := mqtt.Topics{Base: "zigbee2mqtt"}
//	topics.Device("door1")    // "zigbee2mqtt/door1"
//	topics.BridgeDevices()    // "zigbee2mqtt/bridge/devices"
type Topics struct {
	Base string
}

func (t Topics) base() string {
	if t.Base == "" {
		return DefaultBaseTopic
	}
	return strings.TrimRight(t.Base, "/")
}

// All returns the multi-level wildcard for the whole tree.
//
// Example: zigbee2mqtt/#
func (t Topics) All() string {
	return t.base() + "/#"
}

// Device returns the state topic of a named device.
//
// Example: zigbee2mqtt/door1
func (t Topics) Device(friendlyName string) string {
	return t.base() + "/" + friendlyName
}

// Bridge returns the prefix of bridge housekeeping topics.
//
// Example: zigbee2mqtt/bridge
func (t Topics) Bridge() string {
	return t.base() + "/bridge"
}

// BridgeDevices returns the topic carrying the bridge's device list.
//
// Example: zigbee2mqtt/bridge/devices
func (t Topics) BridgeDevices() string {
	return t.Bridge() + "/devices"
}

// BridgeState returns the bridge online/offline topic.
//
// Example: zigbee2mqtt/bridge/state
func (t Topics) BridgeState() string {
	return t.Bridge() + "/state"
}

// IsBridgeTopic reports whether topic belongs to the bridge housekeeping tree.
func (t Topics) IsBridgeTopic(topic string) bool {
	prefix := t.Bridge()
	return topic == prefix || strings.HasPrefix(topic, prefix+"/")
}

// IsDeviceList reports whether topic carries the device list.
func (t Topics) IsDeviceList(topic string) bool {
	return topic == t.BridgeDevices()
}
