package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/yourusername/archive-forge/internal/fetch"
	"github.com/yourusername/archive-forge/internal/jobs"
)

type runFlags struct {
	output  string
	timeout time.Duration
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.output, "output", "o", ".", "directory to write the PDFs and zip into")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 10*time.Minute, "give up waiting after this long")
}

func newConvertCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "convert <archive>",
		Short: "Convert a local archive into one PDF per folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadRuntime()
			if err != nil {
				return err
			}
			manager, err := env.newLocalManager(nil)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			defer shutdown(manager)

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			record, err := manager.SubmitArchive(ctx, f.Name(), f)
			f.Close()
			if err != nil {
				return err
			}
			return runToCompletion(ctx, cmd, manager, record.TaskID, flags)
		},
	}
	flags.register(cmd)
	return cmd
}

func newFetchCmd() *cobra.Command {
	var (
		flags   runFlags
		baseURL string
	)
	cmd := &cobra.Command{
		Use:   "fetch <albumId>",
		Short: "Download a remote album and convert it into a PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadRuntime()
			if err != nil {
				return err
			}
			if baseURL == "" {
				baseURL = env.cfg.AlbumBaseURL
			}
			fetcher := &fetch.HTTPFetcher{
				BaseURL:     baseURL,
				Client:      &http.Client{Timeout: 60 * time.Second},
				Retries:     env.cfg.FetchRetries,
				Backoff:     env.cfg.FetchBackoff,
				Concurrency: env.cfg.FetchConcurrency,
				Logger:      env.logger,
			}
			manager, err := env.newLocalManager(fetcher)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			defer shutdown(manager)

			record, err := manager.SubmitAlbum(ctx, args[0])
			if err != nil {
				return err
			}
			return runToCompletion(ctx, cmd, manager, record.TaskID, flags)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&baseURL, "base-url", "", "album API base URL (default: ALBUM_BASE_URL)")
	return cmd
}

func runToCompletion(ctx context.Context, cmd *cobra.Command, manager *jobs.Manager, taskID string, flags runFlags) error {
	out := cmd.OutOrStdout()
	color.New(color.Faint).Fprintf(out, "task %s\n", taskID)

	record, err := waitForTask(ctx, manager, taskID, flags.timeout, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	return finishTask(context.WithoutCancel(ctx), manager, record, flags.output, out)
}

func shutdown(manager *jobs.Manager) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = manager.Shutdown(ctx)
}
