package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device name does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when a name or (mac, position) is already taken.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidDevice is returned when record validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidCommand is returned for commands an entity does not support
	// or whose arguments are out of range.
	ErrInvalidCommand = errors.New("device: invalid command")
)
