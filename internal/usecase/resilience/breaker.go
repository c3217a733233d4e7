package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"switchboard/internal/domain"
)

// Default circuit breaker settings.
const (
	defaultFailureThreshold uint32        = 5
	defaultOpenTimeout      time.Duration = 60 * time.Second
)

// BreakerConfig configures one agent's circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before the
	// circuit opens.
	FailureThreshold uint32
	// OpenTimeout is how long the circuit stays open before transitioning
	// to half-open.
	OpenTimeout time.Duration
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = defaultFailureThreshold
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = defaultOpenTimeout
	}
	return c
}

// BreakerSet maintains one circuit breaker per agent name, created lazily.
// While an agent's circuit is open, calls are rejected immediately with
// ErrCircuitOpen and never reach the network, bounding caller latency and
// shedding load from a failing downstream.
type BreakerSet struct {
	cfgFor func(agent string) BreakerConfig
	logger *slog.Logger
	mu     sync.Mutex
	byName map[string]*gobreaker.CircuitBreaker[string]
}

// NewBreakerSet creates a BreakerSet. cfgFor resolves per-agent settings;
// nil means defaults for every agent.
func NewBreakerSet(cfgFor func(agent string) BreakerConfig, logger *slog.Logger) *BreakerSet {
	if cfgFor == nil {
		cfgFor = func(string) BreakerConfig { return BreakerConfig{} }
	}
	return &BreakerSet{
		cfgFor: cfgFor,
		logger: logger,
		byName: make(map[string]*gobreaker.CircuitBreaker[string]),
	}
}

// Execute runs fn under the agent's circuit breaker. A rejected call (open
// circuit, or half-open probe already taken) returns ErrCircuitOpen wrapped
// with agent context; fn is not invoked.
func (s *BreakerSet) Execute(agent string, fn func() (string, error)) (string, error) {
	result, err := s.breakerFor(agent).Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", domain.NewDomainError("BreakerSet.Execute", domain.ErrCircuitOpen, agent)
		}
		return "", err
	}
	return result, nil
}

// State returns the agent's breaker state ("closed", "open", "half-open").
// An agent that has never been called reports "closed".
func (s *BreakerSet) State(agent string) string {
	s.mu.Lock()
	cb, ok := s.byName[agent]
	s.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed.String()
	}
	return cb.State().String()
}

func (s *BreakerSet) breakerFor(agent string) *gobreaker.CircuitBreaker[string] {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cb, ok := s.byName[agent]; ok {
		return cb
	}

	cfg := s.cfgFor(agent).withDefaults()
	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "agent:" + agent,
		MaxRequests: 1, // allow 1 probe in half-open state
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})
	s.byName[agent] = cb
	return cb
}
