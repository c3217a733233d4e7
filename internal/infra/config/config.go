package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"switchboard/internal/domain"
)

// LoggerConfig controls slog output.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
	Output string `yaml:"output"` // stdout, stderr, or a file path
}

// TracerConfig controls OpenTelemetry tracing.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout" or "noop"
}

// TransportConfig controls the per-endpoint RPC clients.
type TransportConfig struct {
	CallTimeout     time.Duration `yaml:"call_timeout"`      // per delegate call (default 30s)
	MaxRetries      int           `yaml:"max_retries"`       // transient-failure retries (default 3)
	MaxIdleConns    int           `yaml:"max_idle_conns"`    // pooled connections per endpoint
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"` // default 120s
}

// BreakerConfig controls a circuit breaker. Zero values take defaults.
type BreakerConfig struct {
	FailureThreshold uint32        `yaml:"failure_threshold"` // consecutive failures to open (default 5)
	OpenTimeout      time.Duration `yaml:"open_timeout"`      // open→half-open delay (default 60s)
}

// LimiterConfig controls the sliding-window rate limiter.
type LimiterConfig struct {
	PerMinute int            `yaml:"per_minute"`          // default limit per agent (default 60)
	PerAgent  map[string]int `yaml:"per_agent,omitempty"` // per-agent overrides
}

// RoutingConfig maps classifier labels to remote capabilities or local topics.
type RoutingConfig struct {
	// Labels maps a classifier label to the capability used for registry lookup.
	Labels map[string]string `yaml:"labels,omitempty"`
	// LocalLabels are handled in-process without delegation.
	LocalLabels []string `yaml:"local_labels,omitempty"`
	// MinConfidence below which classification falls through to local handling.
	MinConfidence float64 `yaml:"min_confidence"`
}

// GatewayConfig controls the ops HTTP server.
type GatewayConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Addr           string `yaml:"addr"`             // e.g. "127.0.0.1:8390"
	RequestsPerMin int    `yaml:"requests_per_min"` // per-client rate limit (default 120)
	BurstSize      int    `yaml:"burst_size"`       // default 20
}

// DiscoveryConfig controls mDNS agent discovery.
type DiscoveryConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Config is the top-level application configuration.
type Config struct {
	Logger    LoggerConfig             `yaml:"logger"`
	Tracer    TracerConfig             `yaml:"tracer"`
	Transport TransportConfig          `yaml:"transport"`
	Breaker   BreakerConfig            `yaml:"breaker"`
	Breakers  map[string]BreakerConfig `yaml:"breakers,omitempty"` // per-agent overrides
	Limiter   LimiterConfig            `yaml:"limiter"`
	Routing   RoutingConfig            `yaml:"routing"`
	Gateway   GatewayConfig            `yaml:"gateway"`
	Discovery DiscoveryConfig          `yaml:"discovery"`
	Agents    []domain.Descriptor      `yaml:"agents,omitempty"`
	AgentFile string                   `yaml:"agent_file,omitempty"` // extra descriptor file
}

// Load reads and validates a YAML config file. A missing path returns
// defaults so the daemon can start from environment variables alone.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with all defaults applied.
func Default() *Config {
	return &Config{
		Logger: LoggerConfig{Level: "info", Format: "text", Output: "stderr"},
		Transport: TransportConfig{
			CallTimeout:     30 * time.Second,
			MaxRetries:      3,
			MaxIdleConns:    10,
			IdleConnTimeout: 120 * time.Second,
		},
		Breaker: BreakerConfig{FailureThreshold: 5, OpenTimeout: 60 * time.Second},
		Limiter: LimiterConfig{PerMinute: 60},
		Routing: RoutingConfig{MinConfidence: 0.5},
		Gateway: GatewayConfig{Addr: "127.0.0.1:8390", RequestsPerMin: 120, BurstSize: 20},
	}
}

// Validate checks cross-field constraints and fills zero values with defaults.
func (c *Config) Validate() error {
	def := Default()
	if c.Logger.Level == "" {
		c.Logger.Level = def.Logger.Level
	}
	if c.Logger.Output == "" {
		c.Logger.Output = def.Logger.Output
	}
	if c.Transport.CallTimeout <= 0 {
		c.Transport.CallTimeout = def.Transport.CallTimeout
	}
	if c.Transport.MaxRetries < 0 {
		return fmt.Errorf("transport.max_retries must be >= 0")
	}
	if c.Transport.MaxRetries == 0 {
		c.Transport.MaxRetries = def.Transport.MaxRetries
	}
	if c.Transport.MaxIdleConns <= 0 {
		c.Transport.MaxIdleConns = def.Transport.MaxIdleConns
	}
	if c.Transport.IdleConnTimeout <= 0 {
		c.Transport.IdleConnTimeout = def.Transport.IdleConnTimeout
	}
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = def.Breaker.FailureThreshold
	}
	if c.Breaker.OpenTimeout <= 0 {
		c.Breaker.OpenTimeout = def.Breaker.OpenTimeout
	}
	if c.Limiter.PerMinute <= 0 {
		c.Limiter.PerMinute = def.Limiter.PerMinute
	}
	for agent, n := range c.Limiter.PerAgent {
		if n <= 0 {
			return fmt.Errorf("limiter.per_agent[%s] must be > 0", agent)
		}
	}
	if c.Routing.MinConfidence < 0 || c.Routing.MinConfidence > 1 {
		return fmt.Errorf("routing.min_confidence must be in [0,1]")
	}
	if c.Gateway.Addr == "" {
		c.Gateway.Addr = def.Gateway.Addr
	}
	if c.Gateway.RequestsPerMin <= 0 {
		c.Gateway.RequestsPerMin = def.Gateway.RequestsPerMin
	}
	if c.Gateway.BurstSize <= 0 {
		c.Gateway.BurstSize = def.Gateway.BurstSize
	}
	for i, d := range c.Agents {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("agents[%d]: %w", i, err)
		}
	}
	return nil
}

// BreakerFor returns the breaker config for an agent, falling back to the
// global default for unset fields.
func (c *Config) BreakerFor(agent string) BreakerConfig {
	bc, ok := c.Breakers[agent]
	if !ok {
		return c.Breaker
	}
	if bc.FailureThreshold == 0 {
		bc.FailureThreshold = c.Breaker.FailureThreshold
	}
	if bc.OpenTimeout <= 0 {
		bc.OpenTimeout = c.Breaker.OpenTimeout
	}
	return bc
}

// LimitFor returns the per-minute call budget for an agent.
func (c *Config) LimitFor(agent string) int {
	if n, ok := c.Limiter.PerAgent[agent]; ok {
		return n
	}
	return c.Limiter.PerMinute
}
