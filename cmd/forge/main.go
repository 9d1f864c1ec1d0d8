// Package main はアーカイブをフォルダごとのPDFに変換するコマンドラインツールです。
package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	logLevel string
	dataDir  string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "forge",
		Short:         "Convert image archives into per-folder PDFs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "working directory (default: DATA_DIR)")

	root.AddCommand(newConvertCmd(), newFetchCmd(), newCleanupCmd(), newStatusCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
