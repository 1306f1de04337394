package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openscripture/helpserver/internal/config"
	"github.com/openscripture/helpserver/internal/resource"
	"github.com/openscripture/helpserver/internal/server"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync org/lang/resource/version [...]",
		Short: "Fetch, verify, and persist archives, then exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			refs := make([]resource.Ref, 0, len(args))
			for _, raw := range args {
				ref, err := resource.ParseRef(raw)
				if err != nil {
					return err
				}
				refs = append(refs, ref)
			}

			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			app, err := server.Build(cmd.Context(), &cfg)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			defer func() { _ = app.Close() }()

			outcomes := app.Syncer().SyncBatch(cmd.Context(), refs, cfg.Sync.Concurrency)
			var failed int
			for _, out := range outcomes {
				if out.Err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "FAIL %s: %s\n", out.Ref, out.Error)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "OK   %s %s\n", out.Ref, out.Checksum)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d refs failed", failed, len(refs))
			}
			return nil
		},
	}
}
