package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/sage/internal/app"
	"github.com/Ramsey-B/sage/pkg/models"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOutput bool

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent resolution runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app.App) error {
				if limit <= 0 {
					limit = a.Config.RunHistoryLimit
				}
				runs, err := a.RunLog.List(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, runs)
				}
				if len(runs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderRunList(runs))
				return nil
			}, app.WithoutSinks())
		},
	}
	runsCmd.Flags().IntVarP(&limit, "limit", "n", 0, "Number of runs to show (default RUN_HISTORY_LIMIT)")
	runsCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print runs as JSON")

	runsCmd.AddCommand(newRunShowCommand(ctx))
	return runsCmd
}

func newRunShowCommand(ctx *commandContext) *cobra.Command {
	var report bool

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app.App) error {
				run, err := a.RunLog.Get(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("run %s: %w", args[0], err)
				}
				if !report {
					return writeJSON(cmd, run)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderRunSummary(run, 0))
				writeRunReport(cmd.OutOrStdout(), run, nil)
				return nil
			}, app.WithoutSinks())
		},
	}
	cmd.Flags().BoolVar(&report, "report", false, "Print a summary table instead of JSON")
	return cmd
}

func renderRunList(runs []models.ResolutionRun) string {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			run.RunID,
			string(run.Status),
			formatTime(run.StartedAt),
			itoa(run.InputRecords),
			itoa(run.EntitiesCreated),
			itoa(run.EntitiesUpdated),
			itoa(run.EntitiesMerged),
			itoa(run.EntitiesSplit),
			itoa(len(run.Quarantined)),
			itoa(len(run.Ambiguous)),
		})
	}
	return renderTable(
		[]string{"Run", "Status", "Started", "Input", "Created", "Updated", "Merged", "Split", "Quarantined", "Ambiguous"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
	)
}
