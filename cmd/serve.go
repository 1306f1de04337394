package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openscripture/helpserver/internal/config"
	"github.com/openscripture/helpserver/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the content server and pipeline workers",
		Long: `Starts the HTTP API, cache chain, and the queue-driven ingestion
workers (unzip and index) against the configured providers.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			app, err := server.Build(cmd.Context(), &cfg)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			return app.Run(cmd.Context())
		},
	}
}
