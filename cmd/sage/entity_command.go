package main

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/sage/internal/app"
	"github.com/Ramsey-B/sage/pkg/models"
)

func newEntityCommand(ctx *commandContext) *cobra.Command {
	var record string
	var trace bool

	cmd := &cobra.Command{
		Use:   "entity [entity-id]",
		Short: "Show a canonical donor",
		Long: `Show a canonical donor by entity id, or by one of its source records with --record source_id:record_id.
Ids of merged-away entities are followed to the surviving entity.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 0) == (record == "") {
				return errors.New("pass either an entity id or --record")
			}
			return ctx.withApp(cmd, func(a *app.App) error {
				var entity *models.CanonicalEntity
				var err error
				if record != "" {
					source, id, ok := strings.Cut(record, ":")
					if !ok || source == "" || id == "" {
						return fmt.Errorf("invalid record %q, expected source_id:record_id", record)
					}
					entity, err = a.Lookup.EntityForRecord(cmd.Context(), source, id)
				} else {
					entity, err = a.Lookup.EntityByID(cmd.Context(), args[0])
				}
				if err != nil {
					return err
				}

				if !trace {
					return writeJSON(cmd, entity)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTrace(entity))
				return nil
			}, app.WithoutSinks())
		},
	}
	cmd.Flags().StringVarP(&record, "record", "r", "", "Look up by source record (source_id:record_id)")
	cmd.Flags().BoolVar(&trace, "trace", false, "Print surviving fields with their source and rule")
	return cmd
}

func renderTrace(entity *models.CanonicalEntity) string {
	fields := make([]string, 0, len(entity.SurvivorshipTrace))
	for field := range entity.SurvivorshipTrace {
		fields = append(fields, field)
	}
	slices.Sort(fields)

	rows := make([][]string, 0, len(fields))
	for _, field := range fields {
		entry := entity.SurvivorshipTrace[field]
		source := string(entry.SourceRecordID)
		if len(entry.Contributors) > 0 {
			source = joinRecordIDs(entry.Contributors)
		}
		rows = append(rows, []string{
			field,
			fmt.Sprint(entity.Fields[field]),
			source,
			string(entry.Rule),
			itoa(entry.Candidates),
		})
	}
	header := fmt.Sprintf("Entity %s (version %d, %d members)\n", entity.EntityID, entity.Version, len(entity.MemberSourceIDs))
	return header + renderTable([]string{"Field", "Value", "Source", "Rule", "Candidates"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight})
}
