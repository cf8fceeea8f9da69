package device

import (
	"errors"
	"fmt"
)

// Cause classifies a physical-layer failure. Transient causes are
// retried by the dispatcher; the others surface immediately.
type Cause string

const (
	CauseTransient  Cause = "transient"
	CausePermission Cause = "permission"
	CauseMissing    Cause = "missing"
)

// ErrUnknownDevice is returned by the registry when no binding exists
// for a device ID.
var ErrUnknownDevice = errors.New("unknown device")

// ErrInvalidValue is returned when a value falls outside a device's
// declared range. It never reaches the hardware.
var ErrInvalidValue = errors.New("invalid value")

// DeviceError reports a failure talking to a physical node. It is
// always data, never process-fatal.
type DeviceError struct {
	Device string
	Cause  Cause
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %s failed (%s): %v", e.Device, e.Cause, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a DeviceError expected to
// self-resolve on retry.
func IsTransient(err error) bool {
	var devErr *DeviceError
	return errors.As(err, &devErr) && devErr.Cause == CauseTransient
}
