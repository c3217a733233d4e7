//go:build mdns

package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"switchboard/internal/domain"
)

const (
	mdnsServiceType = "_switchboard._tcp"
	mdnsDomain      = "local."
	mdnsScanTimeout = 5 * time.Second
)

// MDNSDiscoverer finds agents advertising themselves on the local network
// via mDNS/DNS-SD. TXT records carry capabilities and the RPC path.
type MDNSDiscoverer struct {
	logger *slog.Logger
}

// NewMDNSDiscoverer creates a new MDNSDiscoverer.
func NewMDNSDiscoverer(logger *slog.Logger) *MDNSDiscoverer {
	return &MDNSDiscoverer{logger: logger}
}

// Scan browses for switchboard agent services on the local network.
func (d *MDNSDiscoverer) Scan(ctx context.Context) ([]domain.Descriptor, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	var mu sync.Mutex
	var agents []domain.Descriptor
	var wg sync.WaitGroup

	scanCtx, cancel := context.WithTimeout(ctx, mdnsScanTimeout)
	defer cancel()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			desc := entryToDescriptor(entry)
			mu.Lock()
			agents = append(agents, desc)
			mu.Unlock()
			d.logger.Debug("mdns discovered agent", "agent", desc.Name, "endpoint", desc.Endpoint)
		}
	}()

	if err := resolver.Browse(scanCtx, mdnsServiceType, mdnsDomain, entries); err != nil {
		// Browse failed before taking ownership of the channel; close it so
		// the consumer goroutine exits.
		close(entries)
		wg.Wait()
		return nil, fmt.Errorf("mdns browse: %w", err)
	}

	<-scanCtx.Done()
	wg.Wait()

	mu.Lock()
	result := make([]domain.Descriptor, len(agents))
	copy(result, agents)
	mu.Unlock()

	return result, nil
}

// entryToDescriptor converts a zeroconf service entry into a Descriptor.
// TXT keys: caps=<comma list>, path=<rpc path>, version=<semver>.
func entryToDescriptor(entry *zeroconf.ServiceEntry) domain.Descriptor {
	txt := make(map[string]string, len(entry.Text))
	for _, kv := range entry.Text {
		if eq := strings.IndexByte(kv, '='); eq > 0 {
			txt[kv[:eq]] = kv[eq+1:]
		}
	}

	host := entry.HostName
	if len(entry.AddrIPv4) > 0 {
		host = entry.AddrIPv4[0].String()
	}
	path := txt["path"]
	if path == "" {
		path = "/rpc"
	}

	d := domain.Descriptor{
		Name:     entry.Instance,
		Endpoint: fmt.Sprintf("http://%s:%d%s", host, entry.Port, path),
		Version:  txt["version"],
	}
	for _, c := range strings.Split(txt["caps"], ",") {
		if c = strings.TrimSpace(c); c != "" {
			d.Capabilities = append(d.Capabilities, c)
		}
	}
	return d
}
