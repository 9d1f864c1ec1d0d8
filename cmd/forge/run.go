package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"

	"github.com/yourusername/archive-forge/internal/config"
	"github.com/yourusername/archive-forge/internal/jobs"
	"github.com/yourusername/archive-forge/internal/logging"
	"github.com/yourusername/archive-forge/internal/storage"
)

const pollInterval = 500 * time.Millisecond

var errTimeout = errors.New("task did not finish before the deadline")

// runtimeEnv はCLIの1回の実行で使う設定とロガーです。
type runtimeEnv struct {
	cfg    *config.Config
	logger zerolog.Logger
	layout *storage.Layout
}

func loadRuntime() (*runtimeEnv, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	logger := logging.New(logLevel, "console", "archive-forge-cli", os.Stderr)
	layout, err := storage.NewLayout(cfg.DataDir, logger)
	if err != nil {
		return nil, err
	}
	return &runtimeEnv{cfg: cfg, logger: logger, layout: layout}, nil
}

// newLocalManager はプロセス内で1件ずつ実行する Manager を作成します。
func (env *runtimeEnv) newLocalManager(fetcher jobs.Fetcher) (*jobs.Manager, error) {
	opts, err := jobs.OptionsFromConfig(env.cfg)
	if err != nil {
		return nil, err
	}
	return jobs.NewManager(jobs.NewMemoryStore(), jobs.NewGoroutineScheduler(1), env.layout, fetcher, opts, env.logger)
}

// waitForTask は pollInterval ごとにタスクを取得して進捗バーを更新し、終了状態か期限切れまで待ちます。
func waitForTask(ctx context.Context, m *jobs.Manager, taskID string, timeout time.Duration, out io.Writer) (*jobs.Record, error) {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowDescriptionAtLineEnd(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionClearOnFinish(),
	)
	defer bar.Close()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		record, err := m.Get(ctx, taskID)
		if err != nil {
			return nil, err
		}
		bar.Describe(record.Message)
		_ = bar.Set(record.Progress)
		if record.Status.Terminal() {
			return record, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return record, errTimeout
		case <-ticker.C:
		}
	}
}

// finishTask は結果を表示し、成果物を outDir にコピーしてからタスクを削除します。
func finishTask(ctx context.Context, m *jobs.Manager, record *jobs.Record, outDir string, out io.Writer) error {
	if record.Status == jobs.StatusFailed {
		code, message := "", record.Message
		if record.Error != nil {
			code, message = record.Error.Code, record.Error.Message
			if record.Error.Detail != "" {
				message += " (" + record.Error.Detail + ")"
			}
		}
		_, _ = m.Cleanup(ctx, record.TaskID)
		return fmt.Errorf("task failed [%s]: %s", code, message)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	ok := color.New(color.FgGreen, color.Bold)
	ok.Fprintf(out, "✔ %d document(s) generated\n", record.DocumentCount())
	for _, doc := range record.Documents {
		dst := filepath.Join(outDir, doc.Filename)
		if err := copyFile(doc.Path, dst); err != nil {
			return err
		}
		fmt.Fprintf(out, "  %s  %s\n", color.CyanString("%-24s", doc.Label), dst)
	}
	pkg := filepath.Join(outDir, filepath.Base(record.PackagePath))
	if err := copyFile(record.PackagePath, pkg); err != nil {
		return err
	}
	fmt.Fprintf(out, "  %s  %s\n", color.YellowString("%-24s", "package"), pkg)

	if _, err := m.Cleanup(ctx, record.TaskID); err != nil {
		return fmt.Errorf("cleanup task: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", filepath.Base(src), err)
	}
	return out.Close()
}
