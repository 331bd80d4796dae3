package cmd

import (
	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the cron trigger and health endpoints",
		Long: `Starts the HTTP server exposing /api/cron/sentinel, /healthz, /readyz and
/metrics. Blocks until SIGINT or SIGTERM, then drains and releases clients.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := opts.build(cmd.Context())
			if err != nil {
				return err
			}
			return app.Run(cmd.Context())
		},
	}
}
