package main

import (
	"context"
	"fmt"
	"log"

	"github.com/mleitner/leadenrich/internal/columns"
	"github.com/mleitner/leadenrich/internal/config"
	"github.com/mleitner/leadenrich/internal/domain"
	"github.com/mleitner/leadenrich/internal/pipeline"
	"github.com/mleitner/leadenrich/internal/provider"
	"github.com/mleitner/leadenrich/internal/repository"
	"github.com/mleitner/leadenrich/internal/webhook"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newEnrichCommand() *cobra.Command {
	var resetStuck bool

	cmd := &cobra.Command{
		Use:   "enrich <input.xlsx> <output.xlsx>",
		Short: "Run or resume the enrichment pipeline for an input workbook",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			settings, conn, ledger, err := connect(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			controller, err := buildController(ctx, settings, ledger)
			if err != nil {
				return err
			}

			// The callback listener runs for the whole enrichment so
			// callbacks arriving during the submission phase are not lost.
			correlator := webhook.NewCorrelator(ledger.Correlations, ledger.Records)
			server := webhook.NewServer(correlator, settings.Webhook.BindAddr, settings.Webhook.Port)

			serverCtx, stopServer := context.WithCancel(ctx)
			defer stopServer()

			group, groupCtx := errgroup.WithContext(serverCtx)
			group.Go(func() error { return server.Start(groupCtx) })
			group.Go(func() error {
				defer stopServer()

				if resetStuck {
					run, found, err := findRunForInput(groupCtx, ledger, args[0])
					if err != nil {
						return err
					}
					if found {
						n, err := controller.ResetStuck(groupCtx, run.ID)
						if err != nil {
							return err
						}
						log.Printf("[MAIN] reset %d stuck fields on run %s", n, run.ID)
					}
				}

				run, err := controller.Run(groupCtx, args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Printf("Run %s finished in phase %s\n", run.ID, run.Phase)
				return nil
			})

			return group.Wait()
		},
	}

	cmd.Flags().BoolVar(&resetStuck, "reset-stuck", false,
		"before running, move sent-but-unresolved fields back to pending")
	return cmd
}

func buildController(ctx context.Context, settings config.Settings, ledger *repository.Ledger) (*pipeline.Controller, error) {
	if settings.Lusha.APIKey == "" {
		return nil, fmt.Errorf("lusha api key is not configured (ENRICH_LUSHA_API_KEY)")
	}
	if settings.Apollo.APIKey == "" {
		return nil, fmt.Errorf("apollo api key is not configured (ENRICH_APOLLO_API_KEY)")
	}
	if settings.Webhook.PublicURL == "" {
		return nil, fmt.Errorf("webhook public url is not configured (ENRICH_WEBHOOK_URL)")
	}

	clients := []provider.Client{
		provider.NewLushaClient(settings.Lusha, settings.Retry, settings.HTTPTimeout),
		provider.NewApolloClient(settings.Apollo, settings.Retry, settings.HTTPTimeout, settings.Webhook.PublicURL),
	}

	mapper, err := buildMapper(ctx, settings.Columns)
	if err != nil {
		return nil, err
	}

	return pipeline.NewController(ledger, clients, mapper, pipeline.Options{
		WebhookTimeout: settings.Webhook.Timeout,
		PollInterval:   settings.Webhook.PollInterval,
		BatchSizes: map[domain.Provider]int{
			domain.ProviderLusha:  settings.Lusha.BatchSize,
			domain.ProviderApollo: settings.Apollo.BatchSize,
		},
	}), nil
}

func buildMapper(ctx context.Context, settings config.ColumnSettings) (columns.Mapper, error) {
	if settings.GeminiAPIKey == "" {
		log.Printf("[MAIN] no gemini api key configured, using heuristic column detection")
		return columns.HeuristicMapper{}, nil
	}
	mapper, err := columns.NewGeminiMapper(ctx, settings.GeminiAPIKey, settings.GeminiModel)
	if err != nil {
		return nil, err
	}
	return mapper, nil
}
