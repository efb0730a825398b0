package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"curator/internal/daemon"
	"curator/internal/logging"
	"curator/internal/queue"
)

func newStartCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the curator daemon",
		Long:  "Watch for new video files, process the queue, and serve the management API until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}

			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("initialize logging: %w", err)
			}

			store, err := queue.Open(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("connect to queue database: %w", err)
			}

			d, err := daemon.New(cfg, store, logger)
			if err != nil {
				store.Close()
				return err
			}
			if err := d.Start(cmd.Context()); err != nil {
				store.Close()
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "curator started, api on %s\n", d.APIAddr())
			d.Wait()
			return d.Close()
		},
	}
}
