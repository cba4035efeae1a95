package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/sage/internal/app"
	"github.com/Ramsey-B/sage/pkg/extractor"
	"github.com/Ramsey-B/sage/pkg/ingest"
	"github.com/Ramsey-B/sage/pkg/models"
)

func newResolveCommand(ctx *commandContext) *cobra.Command {
	var sourcesPath string
	var inputs []string
	var report bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve source files into canonical donors",
		Long: `Load one or more source files, resolve them against the dataset's canonical state and commit the result.

Each --input is source_id=path. The source id selects the field mapping from the sources file; the
file format comes from the mapping or the file extension (.csv, .jsonl).`,
		Example: "  sage resolve --sources sources.yaml --input crm=crm.csv --input events=events.jsonl --report",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(inputs) == 0 {
				return errors.New("at least one --input is required")
			}
			parsed := make([]ingest.Input, 0, len(inputs))
			for _, arg := range inputs {
				in, err := ingest.ParseInput(arg)
				if err != nil {
					return err
				}
				parsed = append(parsed, in)
			}

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(sourcesPath) == "" {
				sourcesPath = cfg.SourcesPath
			}
			if sourcesPath == "" {
				return errors.New("a sources file is required (--sources or SOURCES_PATH)")
			}
			sources, err := extractor.LoadSources(sourcesPath)
			if err != nil {
				return err
			}

			return ctx.withApp(cmd, func(a *app.App) error {
				records, rowErrors, err := ingest.NewLoader(sources, ctx.logger).Load(cmd.Context(), parsed)
				if err != nil {
					return err
				}
				if len(records) == 0 {
					return fmt.Errorf("no records loaded (%d rows rejected)", len(rowErrors))
				}
				if cfg.MaxRunRecords > 0 && len(records) > cfg.MaxRunRecords {
					return fmt.Errorf("%d records exceed the per-run limit of %d", len(records), cfg.MaxRunRecords)
				}

				result, runErr := a.Reconciler.Run(cmd.Context(), records)
				if jsonOutput {
					if err := writeJSON(cmd, struct {
						Run       *models.ResolutionRun `json:"run"`
						RowErrors []ingest.RowError     `json:"row_errors,omitempty"`
					}{result.Run, rowErrors}); err != nil {
						return err
					}
					return runErr
				}

				out := cmd.OutOrStdout()
				fmt.Fprint(out, renderRunSummary(result.Run, len(rowErrors)))
				if report {
					writeRunReport(out, result.Run, rowErrors)
				}
				return runErr
			})
		},
	}

	cmd.Flags().StringVarP(&sourcesPath, "sources", "s", "", "Source mapping file (overrides SOURCES_PATH)")
	cmd.Flags().StringArrayVarP(&inputs, "input", "i", nil, "Source file as source_id=path (repeatable)")
	cmd.Flags().BoolVar(&report, "report", false, "Print quarantined records, ambiguous clusters and near misses")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the run record as JSON")

	return cmd
}

func renderRunSummary(run *models.ResolutionRun, rejectedRows int) string {
	rows := [][]string{
		{"Run", run.RunID},
		{"Status", string(run.Status)},
		{"Duration", run.Duration().Round(time.Millisecond).String()},
		{"Input records", itoa(run.InputRecords)},
		{"Rejected rows", itoa(rejectedRows)},
		{"Quarantined", itoa(len(run.Quarantined))},
		{"Scope", itoa(run.ScopeRecords)},
		{"Comparisons", itoa(run.Comparisons)},
		{"Candidate matches", itoa(run.CandidateMatches)},
		{"Clusters", itoa(run.ClustersFormed)},
		{"Created", itoa(run.EntitiesCreated)},
		{"Updated", itoa(run.EntitiesUpdated)},
		{"Merged", itoa(run.EntitiesMerged)},
		{"Split", itoa(run.EntitiesSplit)},
		{"Unchanged", itoa(run.EntitiesUnchanged)},
		{"Ambiguous", itoa(len(run.Ambiguous))},
		{"State version", fmt.Sprintf("%d", run.StateVersion)},
	}
	if run.Error != "" {
		rows = append(rows, []string{"Error", run.Error})
	}
	return renderTable([]string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight})
}

func writeRunReport(out io.Writer, run *models.ResolutionRun, rowErrors []ingest.RowError) {
	if len(rowErrors) > 0 {
		rows := make([][]string, 0, len(rowErrors))
		for _, re := range rowErrors {
			rows = append(rows, []string{re.Path, itoa(re.Line), re.Err})
		}
		fmt.Fprintln(out, "\nRejected rows")
		fmt.Fprint(out, renderTable([]string{"File", "Line", "Error"}, rows, []columnAlignment{alignLeft, alignRight}))
	}

	if len(run.Quarantined) > 0 {
		rows := make([][]string, 0, len(run.Quarantined))
		for _, q := range run.Quarantined {
			rows = append(rows, []string{string(q.RecordID), q.Error})
		}
		fmt.Fprintln(out, "\nQuarantined records")
		fmt.Fprint(out, renderTable([]string{"Record", "Error"}, rows, nil))
	}

	if len(run.Ambiguous) > 0 {
		rows := make([][]string, 0, len(run.Ambiguous))
		for _, amb := range run.Ambiguous {
			rows = append(rows, []string{
				strings.Join(amb.Entities, ", "),
				joinRecordIDs(amb.Members),
				amb.Reason,
			})
		}
		fmt.Fprintln(out, "\nAmbiguous clusters held for review")
		fmt.Fprint(out, renderTable([]string{"Entities", "Members", "Reason"}, rows, nil))
	}

	if len(run.NearMisses) > 0 {
		rows := make([][]string, 0, len(run.NearMisses))
		for _, p := range run.NearMisses {
			rows = append(rows, []string{string(p.A), string(p.B), formatScore(p.Score), p.Block})
		}
		fmt.Fprintln(out, "\nNear misses")
		fmt.Fprint(out, renderTable([]string{"Record", "Record", "Score", "Block"}, rows,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft}))
	}
}

func joinRecordIDs(ids []models.RecordID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ", ")
}
