package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device id is not in the catalog.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrStorageWrite is returned when a history or fault row cannot be
	// persisted. Monitor loops log it and retry on the next tick.
	ErrStorageWrite = errors.New("device: storage write failed")

	// ErrInvalidClass is returned when a repository is built for an unknown class.
	ErrInvalidClass = errors.New("device: invalid class")
)
