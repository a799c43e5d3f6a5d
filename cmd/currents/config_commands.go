package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"currents/internal/config"
)

func newConfigCommand(cmdCtx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and scaffold configuration",
	}
	configCmd.AddCommand(newConfigShowCommand(cmdCtx))
	configCmd.AddCommand(newConfigInitCommand())
	return configCmd
}

func newConfigShowCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "data dir:        %s\n", cfg.Paths.DataDir)
			fmt.Fprintf(out, "log dir:         %s\n", cfg.Paths.LogDir)
			fmt.Fprintf(out, "queue db:        %s\n", cfg.QueueDatabasePath())
			fmt.Fprintf(out, "content db:      %s\n", cfg.ContentDatabasePath())
			fmt.Fprintf(out, "workers:         %d\n", cfg.Pipeline.Workers)
			fmt.Fprintf(out, "poll interval:   %ds\n", cfg.Pipeline.PollInterval)
			fmt.Fprintf(out, "max attempts:    %d\n", cfg.Pipeline.MaxAttempts)
			fmt.Fprintf(out, "batch size:      %d\n", cfg.Pipeline.BatchSize)
			fmt.Fprintf(out, "priorities:      manual=%d auto=%d\n", cfg.Pipeline.ManualPriority, cfg.Pipeline.AutoPriority)
			fmt.Fprintf(out, "cluster window:  %dd\n", cfg.Clustering.WindowDays)
			fmt.Fprintf(out, "cluster weights: rule=%.2f semantic=%.2f threshold=%.2f\n",
				cfg.Clustering.RuleWeight, cfg.Clustering.SemanticWeight, cfg.Clustering.MinSimilarity)
			fmt.Fprintf(out, "gate backend:    %s\n", cfg.Gates.Backend)
			fmt.Fprintf(out, "ai configured:   %s\n", yesNo(strings.TrimSpace(cfg.AI.APIKey) != ""))
			fmt.Fprintf(out, "vector base:     %s\n", valueOrDash(cfg.Vector.BaseURL))
			fmt.Fprintf(out, "event bus:       %s\n", valueOrDash(cfg.Bus.URL))
			fmt.Fprintf(out, "sources file:    %s\n", valueOrDash(cfg.Sources.Path))
			return nil
		},
	}
}

func newConfigInitCommand() *cobra.Command {
	var pathFlag string

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a documented sample configuration file",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			written, err := config.WriteSample(pathFlag)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote sample configuration to %s\n", written)
			return nil
		},
	}

	cmd.Flags().StringVar(&pathFlag, "path", "", "Destination path (defaults to the standard config location)")
	return cmd
}

func valueOrDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
