package main

import (
	"fmt"

	"github.com/mleitner/leadenrich/internal/excel"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newExportCommand() *cobra.Command {
	var runIDFlag string

	cmd := &cobra.Command{
		Use:   "export <input.xlsx> <output.xlsx>",
		Short: "Export the best-known state of a run, finished or not",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			_, conn, ledger, err := connect(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			var runID uuid.UUID
			if runIDFlag != "" {
				runID, err = uuid.Parse(runIDFlag)
				if err != nil {
					return fmt.Errorf("invalid run id %q: %w", runIDFlag, err)
				}
			} else {
				run, found, err := findRunForInput(ctx, ledger, args[0])
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("no active run found for %s, pass --run to export a finished one", args[0])
				}
				runID = run.ID
			}

			records, err := ledger.Records.ExportableSnapshot(ctx, runID)
			if err != nil {
				return err
			}
			if err := excel.WriteResults(args[0], args[1], records); err != nil {
				return err
			}
			fmt.Printf("Exported %d records to %s\n", len(records), args[1])
			return nil
		},
	}

	cmd.Flags().StringVar(&runIDFlag, "run", "", "export this run id instead of resolving by input hash")
	return cmd
}
