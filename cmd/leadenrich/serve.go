package main

import (
	"github.com/mleitner/leadenrich/internal/webhook"

	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run only the webhook callback listener",
		Long: "Runs the callback listener without the pipeline. Useful when the\n" +
			"listener lives on a public host while enrichment runs elsewhere\n" +
			"against the same database.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			settings, conn, ledger, err := connect(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			correlator := webhook.NewCorrelator(ledger.Correlations, ledger.Records)
			server := webhook.NewServer(correlator, settings.Webhook.BindAddr, settings.Webhook.Port)
			return server.Start(ctx)
		},
	}
}
