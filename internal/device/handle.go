package device

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"brightdock/internal/config"
)

// Handle owns exclusive access to one feature on one physical node.
// It knows nothing about polling or Home Assistant.
type Handle struct {
	binding   config.DeviceBinding
	code      byte
	nodeMu    *sync.Mutex // shared by all handles on the same node
	transport Transport
	logger    *zap.Logger
}

// ID returns the logical device identifier.
func (h *Handle) ID() string { return h.binding.ID }

// Binding returns the static binding this handle serves.
func (h *Handle) Binding() config.DeviceBinding { return h.binding }

// Validate checks value against the binding's declared range.
func (h *Handle) Validate(value int) error {
	if value < h.binding.Min || value > h.binding.Max {
		return fmt.Errorf("%w: %d outside [%d, %d] for %s",
			ErrInvalidValue, value, h.binding.Min, h.binding.Max, h.binding.ID)
	}
	return nil
}

// Apply performs the physical write. The node lock guarantees that
// transactions on a shared bus never interleave, even across handles.
func (h *Handle) Apply(ctx context.Context, value int) error {
	if err := h.Validate(value); err != nil {
		return err
	}

	h.nodeMu.Lock()
	defer h.nodeMu.Unlock()

	if err := h.transport.SetVCP(ctx, h.binding.Node, h.code, uint16(value)); err != nil {
		return classify(h.binding.ID, err)
	}

	h.logger.Debug("Applied value to device",
		zap.String("device", h.binding.ID),
		zap.String("node", h.binding.Node),
		zap.Int("value", value))
	return nil
}

// Read returns the device's current value for the bound feature.
func (h *Handle) Read(ctx context.Context) (int, error) {
	h.nodeMu.Lock()
	defer h.nodeMu.Unlock()

	value, err := h.transport.GetVCP(ctx, h.binding.Node, h.code)
	if err != nil {
		return 0, classify(h.binding.ID, err)
	}
	return int(value), nil
}
