package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"currents/internal/config"
	"currents/internal/content"
	"currents/internal/gates"
	"currents/internal/logging"
	"currents/internal/pipeline"
	"currents/internal/queue"
	"currents/internal/services"
	"currents/internal/sources"
	"currents/internal/stage"
	"currents/internal/stages"
)

func newPipelineCommand(cmdCtx *commandContext) *cobra.Command {
	pipelineCmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Trigger pipeline stages",
	}
	pipelineCmd.AddCommand(newPipelineRunCommand(cmdCtx))
	return pipelineCmd
}

func newPipelineRunCommand(cmdCtx *commandContext) *cobra.Command {
	var stageFlags []string
	var limit int
	var force bool
	var viaQueue bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run pipeline stages, inline or via the task queue",
		Long: `Run stages inline in this process, or with --trigger enqueue manual tasks
at elevated priority for the daemon's workers to claim. With --force, stages
run (or are enqueued and claimable) even while their feature gate is
disabled.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}

			stagesToRun, err := expandStageFlags(stageFlags)
			if err != nil {
				return err
			}

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

			if viaQueue {
				store, err := cmdCtx.openQueue()
				if err != nil {
					return err
				}
				defer store.Close()
				return enqueueStages(cmd, cfg, store, contentStore, featureGates, stagesToRun, limit, force)
			}
			return runStagesInline(cmd, cfg, contentStore, featureGates, stagesToRun, limit, force)
		},
	}

	cmd.Flags().StringArrayVar(&stageFlags, "stage", nil, `Stage to run (repeatable, or "all")`)
	cmd.Flags().IntVar(&limit, "limit", 0, "Cap the number of items processed per stage")
	cmd.Flags().BoolVar(&force, "force", false, "Bypass disabled feature gates")
	cmd.Flags().BoolVar(&viaQueue, "trigger", false, "Enqueue tasks for the daemon instead of running inline")
	_ = cmd.MarkFlagRequired("stage")

	return cmd
}

func enqueueStages(cmd *cobra.Command, cfg *config.Config, store *queue.Store, contentStore *content.Store, featureGates *gates.FeatureGate, stagesToRun []queue.Stage, limit int, force bool) error {
	trigger := pipeline.NewTrigger(store, contentStore, featureGates, cfg, logging.NewNop())

	var skipped []string
	for _, s := range stagesToRun {
		task, inserted, err := trigger.Manual(cmd.Context(), s, limit, force)
		switch {
		case errors.Is(err, pipeline.ErrGateDisabled):
			skipped = append(skipped, string(s))
			fmt.Fprintf(cmd.OutOrStdout(), "%-20s skipped (feature gate disabled; use --force)\n", s)
		case err != nil:
			return err
		case inserted:
			fmt.Fprintf(cmd.OutOrStdout(), "%-20s enqueued as task %d\n", s, task.ID)
		default:
			fmt.Fprintf(cmd.OutOrStdout(), "%-20s already pending\n", s)
		}
	}

	if len(skipped) > 0 {
		return fmt.Errorf("stages skipped by disabled gates: %s", strings.Join(skipped, ", "))
	}
	return nil
}

func runStagesInline(cmd *cobra.Command, cfg *config.Config, contentStore *content.Store, featureGates *gates.FeatureGate, stagesToRun []queue.Stage, limit int, force bool) error {
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return err
	}

	// Every record from this invocation shares one correlation id, so logs
	// from an inline run can be told apart from concurrent daemon work.
	ctx := services.WithRequestID(cmd.Context(), uuid.NewString()[:8])
	logger = logging.WithContext(ctx, logger)

	registry, err := sources.Load(cfg.Sources.Path)
	if err != nil {
		return err
	}
	handlers := stages.NewRegistry(cfg, contentStore, registry, logger)

	var skipped, failed []string
	var totals stage.Result
	for _, s := range stagesToRun {
		if !force && !featureGates.IsEnabled(ctx, s) {
			skipped = append(skipped, string(s))
			fmt.Fprintf(cmd.OutOrStdout(), "%-20s skipped (feature gate disabled; use --force)\n", s)
			continue
		}
		handler, ok := handlers.Handler(s)
		if !ok {
			return fmt.Errorf("no handler for stage %q", s)
		}

		payload, encodeErr := queue.Payload{Limit: limit}.Encode()
		if encodeErr != nil {
			return encodeErr
		}
		result, execErr := handler.Execute(ctx, &queue.Task{Stage: s, PayloadJSON: payload})
		if execErr != nil {
			failed = append(failed, string(s))
			fmt.Fprintf(cmd.OutOrStdout(), "%-20s failed: %v\n", s, execErr)
			continue
		}
		totals.Merge(result)
		fmt.Fprintf(cmd.OutOrStdout(), "%-20s processed %d item(s), %d failure(s)\n", s, result.Processed, result.Failed)
	}

	if len(stagesToRun) > 1 {
		fmt.Fprintf(cmd.OutOrStdout(), "%-20s processed %d item(s), %d failure(s)\n", "total", totals.Processed, totals.Failed)
	}

	if len(failed) > 0 {
		return fmt.Errorf("stages failed: %s", strings.Join(failed, ", "))
	}
	if len(skipped) > 0 {
		return fmt.Errorf("stages skipped by disabled gates: %s", strings.Join(skipped, ", "))
	}
	return nil
}

func expandStageFlags(flags []string) ([]queue.Stage, error) {
	seen := make(map[queue.Stage]bool)
	var result []queue.Stage

	add := func(s queue.Stage) {
		if !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	for _, flag := range flags {
		for _, raw := range strings.Split(flag, ",") {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			if strings.EqualFold(raw, "all") {
				for _, s := range queue.AllStages() {
					add(s)
				}
				continue
			}
			s, ok := queue.ParseStage(raw)
			if !ok {
				return nil, fmt.Errorf("unknown stage %q (known: %s)", raw, knownStageList())
			}
			add(s)
		}
	}

	if len(result) == 0 {
		return nil, errors.New("no stages given")
	}
	return result, nil
}

func knownStageList() string {
	all := queue.AllStages()
	names := make([]string, len(all))
	for i, s := range all {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}
