package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/martinemde/autoagent/autoagent"
	"github.com/martinemde/autoagent/config"
	"github.com/martinemde/autoagent/observability"
	"github.com/martinemde/autoagent/registry"
)

// app holds the wired components shared by serve and run.
type app struct {
	cfg     *config.Config
	logger  *observability.Logger
	tracer  *observability.Tracer
	clients *registry.ClientRegistry
	engine  *autoagent.Engine
}

func newApp(opts *rootOptions, reg prometheus.Registerer, tools *registry.ToolRegistry) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	logger := observability.NewLogger(cfg.Logging)

	metrics, err := observability.NewMetrics("autoagent", reg)
	if err != nil {
		return nil, err
	}
	tracer, err := observability.NewTracer(cfg.Tracing)
	if err != nil {
		return nil, err
	}

	clients, err := registry.NewClientRegistry(cfg.Clients,
		registry.WithTools(tools),
		registry.WithRegistryLogger(logger))
	if err != nil {
		return nil, err
	}

	flows, err := flowRepository(cfg)
	if err != nil {
		return nil, err
	}

	orch := autoagent.NewOrchestrator(clients, flows,
		autoagent.WithLogger(logger),
		autoagent.WithMetrics(metrics),
		autoagent.WithTracer(tracer),
		autoagent.WithRetryPolicy(cfg.Retry.Policy()),
		autoagent.WithStageOptions(cfg.Defaults),
		autoagent.WithStallWindow(cfg.Server.StallWindow),
	)

	return &app{
		cfg:     cfg,
		logger:  logger,
		tracer:  tracer,
		clients: clients,
		engine:  autoagent.NewEngine(orch, cfg.Server.Engine(), logger),
	}, nil
}

func flowRepository(cfg *config.Config) (autoagent.FlowConfigRepository, error) {
	if cfg.FlowFile != "" {
		return registry.NewFileFlowRepository(cfg.FlowFile), nil
	}
	repo, err := registry.NewStaticFlowRepository(cfg.Flows)
	if err != nil {
		return nil, fmt.Errorf("flows: %w", err)
	}
	return repo, nil
}

func (a *app) close(ctx context.Context) error {
	a.clients.Close()
	if err := a.tracer.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("tracer shutdown: %w", err)
	}
	return nil
}
