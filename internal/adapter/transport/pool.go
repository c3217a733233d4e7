package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"switchboard/internal/domain"
)

// Pool hands out exactly one Client per unique endpoint. Clients are created
// lazily on first use and reused across calls; many concurrent requests may
// target the same endpoint, so access is mutex-guarded.
type Pool struct {
	opts   Options
	logger *slog.Logger
	mu     sync.Mutex
	byURL  map[string]*Client
}

// NewPool creates an empty client pool.
func NewPool(opts Options, logger *slog.Logger) *Pool {
	return &Pool{
		opts:   opts.withDefaults(),
		logger: logger,
		byURL:  make(map[string]*Client),
	}
}

// ClientFor returns the pooled client for endpoint, creating it on first use.
func (p *Pool) ClientFor(endpoint string) *Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.byURL[endpoint]; ok {
		return c
	}
	c := NewClient(endpoint, p.opts, p.logger)
	p.byURL[endpoint] = c
	p.logger.Debug("transport client created", "endpoint", endpoint)
	return c
}

// Delegate implements domain.Delegator by routing through the pooled client
// for the endpoint.
func (p *Pool) Delegate(ctx context.Context, endpoint, task, correlationID string) (string, error) {
	return p.ClientFor(endpoint).Delegate(ctx, endpoint, task, correlationID)
}

// CloseAll drops every pooled connection. Best-effort and bounded: in-flight
// calls either complete under their own per-call timeout or are abandoned by
// their owners; this never blocks on them.
func (p *Pool) CloseAll(ctx context.Context) {
	p.mu.Lock()
	clients := make([]*Client, 0, len(p.byURL))
	for _, c := range p.byURL {
		clients = append(clients, c)
	}
	p.byURL = make(map[string]*Client)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, c := range clients {
			c.CloseIdle()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("pool shutdown cut short", "remaining", len(clients))
	case <-time.After(5 * time.Second):
		p.logger.Warn("pool shutdown timed out", "clients", len(clients))
	}
	p.logger.Info("transport pool closed", "clients", len(clients))
}

// Size returns the number of live clients, for diagnostics.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byURL)
}

var _ domain.Delegator = (*Pool)(nil)
