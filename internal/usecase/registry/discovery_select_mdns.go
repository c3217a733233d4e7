//go:build mdns

package registry

import "log/slog"

// NewDiscoverer returns the mDNS-backed discoverer.
func NewDiscoverer(logger *slog.Logger) Discoverer {
	return NewMDNSDiscoverer(logger)
}
