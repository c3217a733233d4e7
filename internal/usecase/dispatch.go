package usecase

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"

	"switchboard/internal/domain"
	"switchboard/internal/infra/tracer"
	"switchboard/internal/usecase/registry"
	"switchboard/internal/usecase/resilience"
)

// Dispatcher is the single gate every delegation goes through: registry
// lookup, circuit breaker, rate limiter, then the transport client. Both
// the Router and the Orchestrator dispatch through it, so per-agent health
// and backpressure state is shared.
type Dispatcher struct {
	registry *registry.Registry
	breakers *resilience.BreakerSet
	limiter  *resilience.Limiter
	limitFor func(agent string) int
	delegate domain.Delegator
	logger   *slog.Logger
}

// NewDispatcher wires the dispatch gate. limitFor resolves the per-minute
// budget per agent; nil means 60 for every agent.
func NewDispatcher(
	reg *registry.Registry,
	breakers *resilience.BreakerSet,
	limiter *resilience.Limiter,
	limitFor func(agent string) int,
	delegate domain.Delegator,
	logger *slog.Logger,
) *Dispatcher {
	if limitFor == nil {
		limitFor = func(string) int { return 60 }
	}
	return &Dispatcher{
		registry: reg,
		breakers: breakers,
		limiter:  limiter,
		limitFor: limitFor,
		delegate: delegate,
		logger:   logger,
	}
}

// Registry exposes the directory for read-only lookups by the router.
func (d *Dispatcher) Registry() *registry.Registry { return d.registry }

// BreakerState reports the agent's circuit state for diagnostics.
func (d *Dispatcher) BreakerState(agent string) string { return d.breakers.State(agent) }

// Dispatch resolves the agent by name and sends it one task through the
// resilience chain. The returned error is one of the routing taxonomy:
// ErrAgentNotFound, ErrCircuitOpen, RateLimitError, or a CommunicationError
// after the transport's own retries are exhausted.
func (d *Dispatcher) Dispatch(ctx context.Context, agentName, task string) (string, error) {
	desc, err := d.registry.FindByName(agentName)
	if err != nil {
		return "", err
	}
	return d.DispatchTo(ctx, desc, task)
}

// DispatchTo sends one task to a known descriptor through the resilience
// chain. Used directly by fallback chains that already resolved candidates.
func (d *Dispatcher) DispatchTo(ctx context.Context, desc domain.Descriptor, task string) (string, error) {
	ctx, span := tracer.StartSpan(ctx, "dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("agent", desc.Name),
		attribute.String("endpoint", desc.Endpoint),
	)

	// Circuit gate first: an open circuit sheds load before any budget is
	// consumed. The breaker re-checks inside Execute, so a race here only
	// costs one rate token.
	if d.breakers.State(desc.Name) == "open" {
		err := domain.NewDomainError("Dispatcher.DispatchTo", domain.ErrCircuitOpen, desc.Name)
		tracer.RecordError(span, err)
		return "", err
	}

	allowed, remaining, resetAt := d.limiter.Allow(desc.Name, d.limitFor(desc.Name))
	if !allowed {
		err := &domain.RateLimitError{
			Key:     desc.Name,
			Limit:   d.limitFor(desc.Name),
			ResetAt: resetAt,
		}
		d.logger.Warn("delegation rate limited", "agent", desc.Name, "reset_at", resetAt)
		tracer.RecordError(span, err)
		return "", err
	}

	correlationID := newCorrelationID()
	span.SetAttributes(attribute.String("correlation_id", correlationID))
	d.logger.Debug("delegating task",
		"agent", desc.Name, "correlation_id", correlationID, "remaining_budget", remaining)

	start := time.Now()
	result, err := d.breakers.Execute(desc.Name, func() (string, error) {
		return d.delegate.Delegate(ctx, desc.Endpoint, task, correlationID)
	})
	if err != nil {
		d.logger.Warn("delegation failed",
			"agent", desc.Name, "correlation_id", correlationID,
			"duration", time.Since(start), "code", domain.ErrorCodeOf(err), "error", err)
		tracer.RecordError(span, err)
		return "", err
	}

	d.logger.Info("delegation complete",
		"agent", desc.Name, "correlation_id", correlationID, "duration", time.Since(start))
	tracer.SetOK(span)
	return result, nil
}

// newCorrelationID generates a ULID for request correlation across services.
func newCorrelationID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
