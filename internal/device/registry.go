package device

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"brightdock/internal/config"
)

// Registry maps logical device identifiers to handles. It is built
// once at startup from the static bindings and owns the per-node
// locks, so there is exactly one owner per physical node.
type Registry struct {
	handles  map[string]*Handle
	byEntity map[string]*Handle
	order    []string
}

// NewRegistry constructs handles for every binding. Bindings that
// share a node path share one lock.
func NewRegistry(bindings []config.DeviceBinding, transport Transport, logger *zap.Logger) (*Registry, error) {
	r := &Registry{
		handles:  make(map[string]*Handle, len(bindings)),
		byEntity: make(map[string]*Handle, len(bindings)),
	}

	nodeLocks := make(map[string]*sync.Mutex)
	for _, b := range bindings {
		code, err := featureCode(b.Feature)
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", b.ID, err)
		}

		mu, ok := nodeLocks[b.Node]
		if !ok {
			mu = &sync.Mutex{}
			nodeLocks[b.Node] = mu
		}

		h := &Handle{
			binding:   b,
			code:      code,
			nodeMu:    mu,
			transport: transport,
			logger:    logger,
		}
		r.handles[b.ID] = h
		r.byEntity[b.EntityID] = h
		r.order = append(r.order, b.ID)
	}

	logger.Info("Device registry built",
		zap.Int("devices", len(r.handles)),
		zap.Int("nodes", len(nodeLocks)))
	return r, nil
}

// Acquire resolves a device ID to its handle.
func (r *Registry) Acquire(id string) (*Handle, error) {
	h, ok := r.handles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	return h, nil
}

// ByEntity resolves the handle bound to a Home Assistant entity.
func (r *Registry) ByEntity(entityID string) (*Handle, bool) {
	h, ok := r.byEntity[entityID]
	return h, ok
}

// IDs returns all device IDs in binding order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.order...)
}

// Bindings returns the bindings in declaration order.
func (r *Registry) Bindings() []config.DeviceBinding {
	out := make([]config.DeviceBinding, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.handles[id].binding)
	}
	return out
}
