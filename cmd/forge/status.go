package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type taskStatus struct {
	TaskID        string `json:"taskId"`
	Status        string `json:"status"`
	Progress      int    `json:"progress"`
	Message       string `json:"message"`
	DocumentCount int    `json:"documentCount"`
	DownloadURL   string `json:"downloadUrl"`
	Error         *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newStatusCmd() *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "status <taskId>",
		Short: "Show the status of a task on a running API server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			endpoint, err := url.JoinPath(server, "api", "tasks", url.PathEscape(args[0]))
			if err != nil {
				return err
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusNotFound {
				return fmt.Errorf("task %s not found", args[0])
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unexpected response: %s", resp.Status)
			}

			var status taskStatus
			if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
				return fmt.Errorf("decode status: %w", err)
			}
			printStatus(cmd, status, server)
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "API server base URL")
	return cmd
}

func printStatus(cmd *cobra.Command, s taskStatus, server string) {
	out := cmd.OutOrStdout()
	state := color.YellowString(s.Status)
	switch s.Status {
	case "completed":
		state = color.GreenString(s.Status)
	case "failed":
		state = color.RedString(s.Status)
	}
	fmt.Fprintf(out, "%s  %s  %3d%%  %s\n", s.TaskID, state, s.Progress, s.Message)
	if s.Error != nil {
		fmt.Fprintf(out, "  %s %s\n", color.RedString(s.Error.Code), s.Error.Message)
	}
	if s.DownloadURL != "" {
		fmt.Fprintf(out, "  %d document(s): %s%s\n", s.DocumentCount, server, s.DownloadURL)
	}
}
