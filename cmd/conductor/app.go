package main

import (
	"context"
	"log/slog"

	"conductor/internal/adapter/catalog"
	"conductor/internal/adapter/state"
	"conductor/internal/adapter/task"
	"conductor/internal/infra/config"
	"conductor/internal/infra/logger"
	"conductor/internal/infra/tracer"
	"conductor/internal/usecase"
	"conductor/internal/usecase/pipeline"
)

// app bundles everything a command needs after wiring.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	engine  *usecase.Engine
	catalog *catalog.FileCatalog
	loader  *pipeline.Loader
	files   *state.FileStore
	store   *state.SQLiteStore

	shutdown []func(context.Context) error
}

// newApp loads configuration and wires the full engine stack.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(rootFlags.configPath)
	if err != nil {
		return nil, err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: log}
	a.shutdown = append(a.shutdown, func(context.Context) error { return closeLog() })

	if cfg.Tracer.Enabled {
		stopTracer, err := tracer.Setup(ctx, cfg.Tracer)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		a.shutdown = append(a.shutdown, stopTracer)
	}

	cat := catalog.NewFileCatalog(cfg.Catalog.AgentsDir, cfg.Catalog.SkillsDir, logger.Component(log, "catalog"))
	if err := cat.Load(); err != nil {
		a.close(ctx)
		return nil, err
	}
	a.catalog = cat

	pipelineLog := logger.Component(log, "pipeline")
	loader, err := pipeline.NewLoader(cfg.Pipelines.Dir, pipelineLog)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	if err := loader.Load(); err != nil {
		a.close(ctx)
		return nil, err
	}
	a.loader = loader

	files, err := state.NewFileStore(cfg.Store.StateDir)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.files = files
	db, err := state.NewSQLiteStore(cfg.Store.DBPath)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.store = db
	a.shutdown = append(a.shutdown, func(context.Context) error { return db.Close() })

	tracker, err := task.NewFileTracker(cfg.Store.StateDir)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	machine := pipeline.NewMachine(loader, files, tracker, cfg.Pipelines, pipelineLog)
	gate := usecase.NewDispatchGate(cfg.Breaker, logger.Component(log, "dispatch-gate"))
	calibrator := usecase.NewCalibrator(cfg.Calibration, files, logger.Component(log, "calibration"))

	a.engine = usecase.NewEngine(cfg, usecase.EngineDeps{
		Catalog:    cat,
		Sessions:   files,
		Classifier: usecase.NewClassifier(usecase.NewSignalScorer(), cfg.Weights, cfg.Routing.Categories, topDispatchMin(cfg)),
		Tiers:      usecase.NewTierResolver(cfg.Tiers),
		Allocator:  usecase.NewAllocator(usecase.NewTokenCounter(cfg.Budget.Encoding, cfg.Budget.TokenDivisor, log), cfg.Budget, logger.Component(log, "budget")),
		Retry:      usecase.NewRetryEngine(cfg.Retry, db, gate, logger.Component(log, "retry")),
		Gate:       gate,
		Resolver:   usecase.NewResolver(cfg.Routing, machine, files, tracker, logger.Component(log, "routing")),
		Machine:    machine,
		Executions: files,
		Calibrator: calibrator,
		Decisions:  db,
		Logger:     logger.Component(log, "engine"),
	})
	return a, nil
}

func topDispatchMin(cfg *config.Config) int {
	if len(cfg.Tiers.Dispatch) == 0 {
		return 101
	}
	return cfg.Tiers.Dispatch[0].Min
}

func (a *app) close(ctx context.Context) {
	for i := len(a.shutdown) - 1; i >= 0; i-- {
		if err := a.shutdown[i](ctx); err != nil {
			a.logger.Warn("shutdown step failed", "error", err)
		}
	}
}
