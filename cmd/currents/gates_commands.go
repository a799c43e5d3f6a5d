package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"currents/internal/queue"
)

func newGatesCommand(cmdCtx *commandContext) *cobra.Command {
	gatesCmd := &cobra.Command{
		Use:   "gates",
		Short: "Inspect and toggle stage feature gates",
	}
	gatesCmd.AddCommand(newGatesListCommand(cmdCtx))
	gatesCmd.AddCommand(newGatesSetCommand(cmdCtx, "enable", true))
	gatesCmd.AddCommand(newGatesSetCommand(cmdCtx, "disable", false))
	return gatesCmd
}

func newGatesListCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show the gate state for every stage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			featureGates, closeGates, err := cmdCtx.openGates()
			if err != nil {
				return err
			}
			defer func() { _ = closeGates() }()

			all, err := featureGates.All(cmd.Context())
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(all))
			for _, s := range queue.AllStages() {
				rows = append(rows, []string{string(s), yesNo(all[s])})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Stage", "Enabled"},
				rows,
				[]columnAlignment{alignLeft, alignLeft},
			))
			return nil
		},
	}
}

func newGatesSetCommand(cmdCtx *commandContext, verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <stage>",
		Short: capitalize(verb) + " a stage's feature gate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stage, ok := queue.ParseStage(args[0])
			if !ok {
				return fmt.Errorf("unknown stage %q (known: %s)", args[0], knownStageList())
			}

			featureGates, closeGates, err := cmdCtx.openGates()
			if err != nil {
				return err
			}
			defer func() { _ = closeGates() }()

			if err := featureGates.Set(cmd.Context(), stage, enabled); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %sd\n", stage, verb)
			return nil
		},
	}
}

func capitalize(value string) string {
	if value == "" {
		return value
	}
	return string(value[0]-'a'+'A') + value[1:]
}
