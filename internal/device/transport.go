package device

import "context"

// Transport performs raw VCP operations against a device node. The
// real implementation speaks DDC/CI over i2c; tests inject a fake.
// Implementations must be safe for serialized use per node; callers
// hold the node lock.
type Transport interface {
	// SetVCP writes value to the feature register identified by code.
	SetVCP(ctx context.Context, node string, code byte, value uint16) error

	// GetVCP reads the current value of the feature register.
	GetVCP(ctx context.Context, node string, code byte) (uint16, error)
}
