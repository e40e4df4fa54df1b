package ota

import (
	"errors"
	"fmt"
)

// ErrUnknownDevice is returned when feedback arrives from a device that has
// not announced itself with "ready".
var ErrUnknownDevice = errors.New("unknown device")

// InvalidStateError reports feedback that is not valid for the device's
// current state.
type InvalidStateError struct {
	DeviceID string
	Code     string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("device %s sent %q before \"ready\"", e.DeviceID, e.Code)
}

func (e *InvalidStateError) Unwrap() error {
	return ErrUnknownDevice
}

// PublishError reports a failed outbound publish. Device state is left
// unchanged when this is returned.
type PublishError struct {
	DeviceID string
	Topic    string
	Err      error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %s for device %s failed: %v", e.Topic, e.DeviceID, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}
