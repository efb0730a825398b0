package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"curator/internal/queue"
)

func newDownloadsCommand(ctx *commandContext) *cobra.Command {
	downloadsCmd := &cobra.Command{
		Use:   "downloads",
		Short: "Manage yt-dlp download jobs",
	}

	downloadsCmd.AddCommand(newDownloadsListCommand(ctx))
	downloadsCmd.AddCommand(newDownloadsAddCommand(ctx))
	downloadsCmd.AddCommand(newDownloadsCleanupCommand(ctx))

	return downloadsCmd
}

func newDownloadsCleanupCommand(ctx *commandContext) *cobra.Command {
	var olderThanDays int

	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete finished download jobs past the retention window",
		Long:  "Deletes completed and failed download jobs older than the given number of days. Queued and running jobs are never touched.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThanDays < 1 {
				return fmt.Errorf("--older-than must be at least 1 day, got %d", olderThanDays)
			}
			return ctx.withStore(cmd.Context(), func(store *queue.Store) error {
				deleted, err := store.CleanupOldDownloads(cmd.Context(),
					time.Duration(olderThanDays)*24*time.Hour)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d finished download jobs older than %d days\n", deleted, olderThanDays)
				return nil
			})
		},
	}

	cleanupCmd.Flags().IntVar(&olderThanDays, "older-than", 30, "Retention window in days")
	return cleanupCmd
}

func newDownloadsListCommand(ctx *commandContext) *cobra.Command {
	var limit int

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent download jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.Context(), func(store *queue.Store) error {
				jobs, err := store.ListDownloads(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No download jobs")
					return nil
				}

				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					rows = append(rows, []string{
						strconv.FormatInt(job.ID, 10),
						string(job.Status),
						truncateCell(job.URL, 60),
						job.Filename,
						formatJobTime(job.FinishedAt),
						truncateCell(job.Error, 40),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Status", "URL", "Filename", "Finished", "Error"},
					rows, 0))
				return nil
			})
		},
	}

	listCmd.Flags().IntVar(&limit, "limit", 20, "Maximum jobs to show")
	return listCmd
}

func newDownloadsAddCommand(ctx *commandContext) *cobra.Command {
	var filename string

	addCmd := &cobra.Command{
		Use:   "add <url>",
		Short: "Queue a URL for download into the watch directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.Context(), func(store *queue.Store) error {
				job, err := store.AddDownload(cmd.Context(), args[0], filename)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued download %d: %s\n", job.ID, job.URL)
				return nil
			})
		},
	}

	addCmd.Flags().StringVar(&filename, "filename", "", "Output filename override")
	return addCmd
}

func formatJobTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04")
}
