package registry

import (
	"context"

	"switchboard/internal/domain"
)

// Discoverer scans the network for agents advertising themselves.
type Discoverer interface {
	Scan(ctx context.Context) ([]domain.Descriptor, error)
}

// Discover runs one scan and registers every discovered agent. Descriptors
// that fail validation are skipped with a warning. Returns the number
// registered.
func (r *Registry) Discover(ctx context.Context, d Discoverer) (int, error) {
	found, err := d.Scan(ctx)
	if err != nil {
		return 0, domain.WrapOp("Registry.Discover", err)
	}

	registered := 0
	for _, desc := range found {
		if err := r.Register(desc); err != nil {
			r.logger.Warn("skip discovered agent", "agent", desc.Name, "error", err)
			continue
		}
		registered++
	}
	return registered, nil
}

// NoopDiscoverer is used when mDNS support is not compiled in.
type NoopDiscoverer struct{}

// Scan returns nil; discovery requires the mdns build tag.
func (NoopDiscoverer) Scan(_ context.Context) ([]domain.Descriptor, error) {
	return nil, nil
}

var _ Discoverer = NoopDiscoverer{}
