package main

import (
	"context"
	"fmt"

	"github.com/mleitner/leadenrich/internal/domain"
	"github.com/mleitner/leadenrich/internal/pipeline"
	"github.com/mleitner/leadenrich/internal/repository"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status [run-id]",
		Short: "Show run progress, or list recent runs when no id is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			_, conn, ledger, err := connect(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			if len(args) == 0 {
				return listRuns(ctx, ledger)
			}

			runID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid run id %q: %w", args[0], err)
			}
			return printStatus(ctx, ledger, runID)
		},
	}
}

func listRuns(ctx context.Context, ledger *repository.Ledger) error {
	runs, err := ledger.Runs.ListRuns(ctx, 20)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}
	for _, run := range runs {
		state := "active"
		if !run.Active() {
			state = "complete"
		}
		fmt.Printf("%s  %-16s  %-8s  rows=%-5d  %s\n",
			run.ID, run.Phase, state, run.TotalRows, run.InputFile)
	}
	return nil
}

func printStatus(ctx context.Context, ledger *repository.Ledger, runID uuid.UUID) error {
	summary, err := ledger.Records.RunStatus(ctx, runID)
	if err != nil {
		return err
	}

	fmt.Printf("Run %s  phase=%s  rows=%d\n", summary.RunID, summary.Phase, summary.TotalRows)
	for _, name := range []domain.Provider{domain.ProviderLusha, domain.ProviderApollo} {
		for _, field := range domain.AllFields {
			counts := summary.Counts(name, field)
			fmt.Printf("  %-7s %-12s pending=%-4d sent=%-4d complete=%-4d error=%-4d timeout=%-4d\n",
				name, field, counts.Pending, counts.Sent, counts.Complete, counts.Error, counts.Timeout)
		}
	}

	pending, err := ledger.Correlations.PendingCorrelations(ctx, runID)
	if err != nil {
		return err
	}
	fmt.Printf("  pending callbacks: %d\n", pending)
	return nil
}

// findRunForInput locates the unfinished run keyed by the file's content
// hash.
func findRunForInput(ctx context.Context, ledger *repository.Ledger, inputPath string) (domain.Run, bool, error) {
	hash, err := pipeline.HashInput(inputPath)
	if err != nil {
		return domain.Run{}, false, err
	}
	return ledger.Runs.FindActiveRunByInput(ctx, hash)
}
