package discovery

import "errors"

// ErrMalformedDeviceList is returned when a device-list payload is not a
// JSON array. The directory is left unchanged.
var ErrMalformedDeviceList = errors.New("discovery: device list is not a JSON array")
