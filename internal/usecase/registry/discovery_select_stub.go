//go:build !mdns

package registry

import "log/slog"

// NewDiscoverer returns a no-op discoverer when mDNS support is not
// compiled in (build with -tags mdns to enable it).
func NewDiscoverer(_ *slog.Logger) Discoverer {
	return NoopDiscoverer{}
}
