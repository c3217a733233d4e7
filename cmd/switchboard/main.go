package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"switchboard/internal/adapter/classifier"
	"switchboard/internal/adapter/gateway"
	"switchboard/internal/adapter/transport"
	"switchboard/internal/domain"
	"switchboard/internal/infra/config"
	"switchboard/internal/infra/logger"
	"switchboard/internal/infra/tracer"
	"switchboard/internal/usecase"
	"switchboard/internal/usecase/orchestrator"
	"switchboard/internal/usecase/registry"
	"switchboard/internal/usecase/resilience"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(shutdownCtx)
	}()

	// Agent directory: inline config entries, optional file, environment,
	// then optional mDNS discovery.
	reg := registry.New(log)
	for _, d := range cfg.Agents {
		if err := reg.Register(d); err != nil {
			log.Warn("skip configured agent", "agent", d.Name, "error", err)
		}
	}
	if cfg.AgentFile != "" {
		if err := reg.LoadFile(cfg.AgentFile); err != nil {
			log.Warn("agent file load failed", "error", err)
		}
	}
	if n := reg.LoadEnv(os.Environ()); n > 0 {
		log.Info("agents loaded from environment", "count", n)
	}
	if cfg.Discovery.Enabled {
		if n, err := reg.Discover(ctx, registry.NewDiscoverer(log)); err != nil {
			log.Warn("agent discovery failed", "error", err)
		} else if n > 0 {
			log.Info("agents discovered", "count", n)
		}
	}
	if reg.Len() == 0 {
		log.Warn("no agents registered; every message will be handled locally")
	}

	pool := transport.NewPool(transport.Options{
		CallTimeout:     cfg.Transport.CallTimeout,
		MaxRetries:      cfg.Transport.MaxRetries,
		MaxIdleConns:    cfg.Transport.MaxIdleConns,
		IdleConnTimeout: cfg.Transport.IdleConnTimeout,
	}, log)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pool.CloseAll(closeCtx)
	}()

	breakers := resilience.NewBreakerSet(func(agent string) resilience.BreakerConfig {
		bc := cfg.BreakerFor(agent)
		return resilience.BreakerConfig{
			FailureThreshold: bc.FailureThreshold,
			OpenTimeout:      bc.OpenTimeout,
		}
	}, log)
	limiter := resilience.NewLimiter()

	dispatcher := usecase.NewDispatcher(reg, breakers, limiter, cfg.LimitFor, pool, log)
	orch := orchestrator.New(dispatcher, log)
	router := usecase.NewRouter(dispatcher, defaultClassifier(cfg), localEcho{}, usecase.RouterConfig{
		Labels:        cfg.Routing.Labels,
		LocalLabels:   cfg.Routing.LocalLabels,
		MinConfidence: cfg.Routing.MinConfidence,
	}, log)

	if !cfg.Gateway.Enabled {
		log.Info("gateway disabled; nothing to serve, exiting on signal")
		<-ctx.Done()
		return nil
	}

	srv := gateway.NewServer(gateway.Config{
		Addr:           cfg.Gateway.Addr,
		RequestsPerMin: cfg.Gateway.RequestsPerMin,
		BurstSize:      cfg.Gateway.BurstSize,
	}, router, dispatcher, orch, log)

	log.Info("switchboard starting", "agents", reg.Len(), "gateway", cfg.Gateway.Addr)
	return srv.Start(ctx)
}

// defaultClassifier builds the keyword classifier from the routing label
// table: each label's capability doubles as its keyword seed.
func defaultClassifier(cfg *config.Config) domain.Classifier {
	rules := make(map[string][]string, len(cfg.Routing.Labels))
	for label, capability := range cfg.Routing.Labels {
		rules[label] = []string{label, capability}
	}
	for _, label := range cfg.Routing.LocalLabels {
		rules[label] = append(rules[label], label)
	}
	return classifier.NewKeyword(rules)
}

// localEcho is the stand-in local handler: business handlers live outside
// this system and are injected here in a real deployment.
type localEcho struct{}

func (localEcho) Handle(_ context.Context, task string) (string, error) {
	return "Handled locally: " + task, nil
}
