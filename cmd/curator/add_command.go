package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"curator/internal/queue"
)

func newAddCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "add <file>",
		Short: "Enqueue a video file for processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			absPath, err := filepath.Abs(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("resolve source path: %w", err)
			}
			info, err := os.Stat(absPath)
			if err != nil {
				return fmt.Errorf("stat source file: %w", err)
			}
			if info.IsDir() {
				return fmt.Errorf("source path %q is a directory", absPath)
			}

			ext := strings.ToLower(filepath.Ext(absPath))
			supported := false
			for _, allowed := range cfg.VideoExtensions {
				if ext == strings.ToLower(allowed) {
					supported = true
					break
				}
			}
			if !supported {
				return fmt.Errorf("unsupported file extension %q", ext)
			}

			return ctx.withStore(cmd.Context(), func(store *queue.Store) error {
				item, err := store.Enqueue(cmd.Context(), absPath)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued item %d: %s (%s)\n",
					item.ID, filepath.Base(item.FilePath), item.Status)
				return nil
			})
		},
	}
}
