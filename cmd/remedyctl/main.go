// Copyright 2026 The Remedy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command remedyctl is the operator CLI for the run engine's boundary API
// and local state directory: listing/inspecting runs, recording review
// decisions, inspecting the idempotency ledger, and seeding default
// playbooks, grounded in the teacher's cobra command layout
// (internal/commands/run) and lipgloss status styling
// (internal/commands/shared/styles.go).
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/remedyrun/remedy/pkg/ledger"
	"github.com/remedyrun/remedy/pkg/playbook"
)

var (
	version = "dev"
	commit  = "unknown"
)

var (
	statusOK    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	statusError = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	muted       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	header      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
)

const (
	symbolOK    = "✓"
	symbolError = "✗"
)

func renderOK(msg string) string    { return statusOK.Render(symbolOK) + " " + msg }
func renderError(msg string) string { return statusError.Render(symbolError) + " " + msg }

func main() {
	var apiAddr, token string

	root := &cobra.Command{
		Use:     "remedyctl",
		Short:   "Operate the remedy run engine",
		Version: fmt.Sprintf("%s (commit %s)", version, commit),
	}
	root.PersistentFlags().StringVar(&apiAddr, "api", "http://localhost:8080", "boundary API base URL")
	root.PersistentFlags().StringVar(&token, "token", "", "bearer token for an auth-enabled API")

	client := func() *apiClient { return &apiClient{baseURL: apiAddr, token: token, http: &http.Client{Timeout: 30 * time.Second}} }

	root.AddCommand(newRunsCommand(client))
	root.AddCommand(newReviewCommand(client))
	root.AddCommand(newLedgerCommand())
	root.AddCommand(newPlaybooksCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, renderError(err.Error()))
		os.Exit(1)
	}
}

// apiClient is a thin wrapper over the boundary HTTP surface (spec §4.12).
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func (c *apiClient) do(method, path string, body any) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return data, resp.StatusCode, nil
}

func newRunsCommand(client func() *apiClient) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect remediation runs",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List every run's summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, status, err := client().do(http.MethodGet, "/runs", nil)
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return fmt.Errorf("unexpected status %d: %s", status, string(data))
			}

			var summaries []map[string]any
			if err := json.Unmarshal(data, &summaries); err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Println(muted.Render("no runs recorded yet"))
				return nil
			}
			fmt.Println(header.Render("RUN ID          STATUS        FINDINGS"))
			for _, s := range summaries {
				fmt.Printf("%-15v %-13v %v\n", s["run_id"], s["status"], s["total_findings"])
			}
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show <run_id>",
		Short: "Show one run's full state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, status, err := client().do(http.MethodGet, "/runs/"+args[0], nil)
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return fmt.Errorf("unexpected status %d: %s", status, string(data))
			}
			return prettyPrint(data)
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

func newReviewCommand(client func() *apiClient) *cobra.Command {
	var runID, reason string

	cmd := &cobra.Command{
		Use:   "review",
		Short: "Record a human review decision on a session",
	}
	cmd.PersistentFlags().StringVar(&runID, "run", "", "run id the session belongs to (required)")
	cmd.PersistentFlags().StringVar(&reason, "reason", "", "optional reason recorded with the decision")

	submit := func(action string) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			if runID == "" {
				return fmt.Errorf("--run is required")
			}
			body := map[string]string{"action": action, "reason": reason, "run_id": runID}
			data, status, err := client().do(http.MethodPost, "/sessions/"+args[0]+"/review", body)
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				fmt.Println(renderError(fmt.Sprintf("review rejected (%d): %s", status, string(data))))
				return fmt.Errorf("review not applied")
			}
			fmt.Println(renderOK(fmt.Sprintf("session %s %s", args[0], action)))
			return nil
		}
	}

	approve := &cobra.Command{Use: "approve <session_id>", Args: cobra.ExactArgs(1), RunE: submit("approved")}
	reject := &cobra.Command{Use: "reject <session_id>", Args: cobra.ExactArgs(1), RunE: submit("rejected")}

	cmd.AddCommand(approve, reject)
	return cmd
}

func newLedgerCommand() *cobra.Command {
	var stateDir string

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the idempotency ledger (spec §4.4)",
	}
	cmd.PersistentFlags().StringVar(&stateDir, "state-dir", "state", "state directory a run was persisted under")

	show := &cobra.Command{
		Use:   "show <run_id>",
		Short: "Print every idempotency key and its bound session id for a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			led := ledger.Load(filepath.Join(stateDir, "runs", args[0], "idempotency.json"))
			snap := led.Snapshot()
			if len(snap) == 0 {
				fmt.Println(muted.Render("ledger is empty"))
				return nil
			}
			for key, sessionID := range snap {
				fmt.Printf("%-60s %s\n", key, sessionID)
			}
			return nil
		},
	}

	cmd.AddCommand(show)
	return cmd
}

func newPlaybooksCommand() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "playbooks",
		Short: "Manage the per-category playbook documents (spec §4.5/§4.9)",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", "playbooks", "playbook directory")

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default playbook for every known category, skipping existing files",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := playbook.WriteDefaults(dir); err != nil {
				return err
			}
			fmt.Println(renderOK("playbooks written to " + dir))
			return nil
		},
	}

	cmd.AddCommand(initCmd)
	return cmd
}

func prettyPrint(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		fmt.Println(string(data))
		return nil
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(pretty))
	return nil
}
