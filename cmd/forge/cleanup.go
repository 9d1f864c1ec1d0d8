package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/yourusername/archive-forge/internal/storage"
)

func newCleanupCmd() *cobra.Command {
	var (
		taskID    string
		showStats bool
	)
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove expired uploads, scratch directories and results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadRuntime()
			if err != nil {
				return err
			}

			if showStats {
				return printStats(cmd, env.layout)
			}

			var report storage.CleanupReport
			if taskID != "" {
				report = env.layout.RemoveTask(taskID)
			} else {
				report = env.layout.Sweep(time.Now(), storage.Retention{
					Uploads: env.cfg.UploadRetention,
					Temp:    env.cfg.TempRetention,
					Outputs: env.cfg.OutputRetention,
				})
			}

			out := cmd.OutOrStdout()
			for _, path := range report.Removed {
				fmt.Fprintf(out, "  %s %s\n", color.GreenString("removed"), path)
			}
			for _, path := range report.Failed {
				fmt.Fprintf(out, "  %s %s\n", color.RedString("failed "), path)
			}
			fmt.Fprintf(out, "%d removed, %d failed, %.1f MB freed\n",
				len(report.Removed), len(report.Failed), float64(report.FreedBytes)/(1<<20))
			if len(report.Failed) > 0 {
				return fmt.Errorf("%d path(s) could not be removed", len(report.Failed))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "remove the files of a single task instead of sweeping by age")
	cmd.Flags().BoolVar(&showStats, "stats", false, "only show file counts and sizes per area")
	return cmd
}

func printStats(cmd *cobra.Command, layout *storage.Layout) error {
	stats, err := layout.Stats()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\n", color.New(color.Bold).Sprint(layout.Root()))
	for _, s := range stats {
		fmt.Fprintf(out, "  %-8s %5d files  %8.2f MB\n", s.Area, s.Files, float64(s.Bytes)/(1<<20))
	}
	return nil
}
