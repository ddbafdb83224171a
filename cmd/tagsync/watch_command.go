package main

import (
	"github.com/spf13/cobra"

	"tagsync/internal/daemonrun"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var development bool
	cmd := &cobra.Command{
		Use:   "watch [root]...",
		Short: "Keep the store in sync with changing documents",
		Long: "Runs in the foreground: ingests every supported document under the watch\n" +
			"roots, then re-syncs files as they change and rescans on watch.rescan_interval_seconds.\n" +
			"Roots given as arguments replace watch.roots. Stop with Ctrl-C.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    ctx.logLevel(),
				Development: development,
				Roots:       args,
			})
		},
	}
	cmd.Flags().BoolVar(&development, "dev", false, "Include source locations in log output")
	return cmd
}
