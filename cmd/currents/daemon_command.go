package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"currents/internal/bus"
	"currents/internal/logging"
	"currents/internal/pipeline"
	"currents/internal/sources"
	"currents/internal/stages"
)

func newDaemonCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the pipeline daemon (workers, scheduler, reclaimer)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context(), cmdCtx)
		},
	}
}

func runDaemon(parent context.Context, cmdCtx *commandContext) error {
	cfg, err := cmdCtx.ensureConfig()
	if err != nil {
		return err
	}

	// One daemon per data directory.
	lock := flock.New(filepath.Join(cfg.Paths.DataDir, "currents.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire daemon lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("daemon already running for %s", cfg.Paths.DataDir)
	}
	defer func() { _ = lock.Unlock() }()

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return err
	}

	store, err := cmdCtx.openQueue()
	if err != nil {
		return err
	}
	defer store.Close()

	contentStore, err := cmdCtx.openContent()
	if err != nil {
		return err
	}
	defer contentStore.Close()

	featureGates, closeGates, err := cmdCtx.openGates()
	if err != nil {
		return err
	}
	defer func() { _ = closeGates() }()

	registry, err := sources.Load(cfg.Sources.Path)
	if err != nil {
		return err
	}

	events, err := bus.Connect(cfg, logger)
	if err != nil {
		return err
	}
	defer events.Close()

	handlers := stages.NewRegistry(cfg, contentStore, registry, logger)
	for _, health := range handlers.Health(parent) {
		if !health.Ready {
			logger.Warn("stage not ready",
				logging.String(logging.FieldStage, health.Name),
				logging.String("detail", health.Detail))
		}
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	trigger := pipeline.NewTrigger(store, contentStore, featureGates, cfg, logger)

	var wg sync.WaitGroup
	for i := 0; i < cfg.Pipeline.Workers; i++ {
		worker := pipeline.NewWorker(store, handlers, featureGates, events, cfg, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		trigger.RunScheduler(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		pipeline.RunReclaimer(ctx, store, cfg, logger)
	}()

	logger.Info("daemon started",
		logging.Int("workers", cfg.Pipeline.Workers),
		logging.String("data_dir", cfg.Paths.DataDir))

	<-ctx.Done()
	logger.Info("shutdown signal received, draining workers")
	wg.Wait()
	logger.Info("daemon stopped")
	return nil
}
