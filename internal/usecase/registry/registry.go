package registry

import (
	"log/slog"
	"strings"
	"sync"

	"switchboard/internal/domain"
)

// Registry is the in-memory directory of remote agent descriptors. Lookups
// by name are direct; lookups by capability go through a derived index that
// is rebuilt on every mutation. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]domain.Descriptor
	order  []string                     // registration order of names
	byCap  map[string][]string          // capability -> names, registration order
	logger *slog.Logger
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		agents: make(map[string]domain.Descriptor),
		byCap:  make(map[string][]string),
		logger: logger,
	}
}

// Register inserts or overwrites a descriptor by name. Overwriting an
// existing name keeps its registration position (last write wins) and is
// logged, not an error.
func (r *Registry) Register(d domain.Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := domain.NormalizeAgentName(d.Name)
	d.Name = name
	if _, exists := r.agents[name]; exists {
		r.logger.Info("agent re-registered, overwriting", "agent", name, "endpoint", d.Endpoint)
	} else {
		r.order = append(r.order, name)
		r.logger.Info("agent registered", "agent", name, "endpoint", d.Endpoint, "capabilities", d.Capabilities)
	}
	r.agents[name] = d
	r.rebuildIndex()
	return nil
}

// Unregister removes a descriptor by name. Removing an absent name is a
// no-op success.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name = domain.NormalizeAgentName(name)
	if _, ok := r.agents[name]; !ok {
		return
	}
	delete(r.agents, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.rebuildIndex()
	r.logger.Info("agent unregistered", "agent", name)
}

// FindByName returns the descriptor registered under name.
func (r *Registry) FindByName(name string) (domain.Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.agents[domain.NormalizeAgentName(name)]
	if !ok {
		return domain.Descriptor{}, domain.NewDomainError("Registry.FindByName", domain.ErrAgentNotFound, name)
	}
	return d, nil
}

// FindByCapability returns every descriptor advertising the capability, in
// registration order. The result is empty, never nil-error, when no agent
// matches.
func (r *Registry) FindByCapability(capability string) []domain.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := r.byCap[strings.ToLower(capability)]
	out := make([]domain.Descriptor, 0, len(names))
	for _, n := range names {
		out = append(out, r.agents[n])
	}
	return out
}

// List returns every registered descriptor in registration order.
func (r *Registry) List() []domain.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Descriptor, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.agents[n])
	}
	return out
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// rebuildIndex recomputes the capability index. Keys are lower-cased so
// lookups match regardless of how the descriptor spelled the capability.
// Caller must hold mu.
func (r *Registry) rebuildIndex() {
	idx := make(map[string][]string, len(r.byCap))
	for _, name := range r.order {
		for _, c := range r.agents[name].Capabilities {
			idx[strings.ToLower(c)] = append(idx[strings.ToLower(c)], name)
		}
	}
	r.byCap = idx
}
