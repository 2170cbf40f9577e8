package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/hairizuanbinnoorazman/guiagent/run"
)

// PaginatedResponse matches handlers.PaginatedResponse.
type PaginatedResponse[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// CreateRunRequest matches handlers.CreateRunRequest.
type CreateRunRequest struct {
	Instruction  string `json:"instruction"`
	Operator     string `json:"operator"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Manage agent runs",
	}

	cmd.AddCommand(newRunsListCmd())
	cmd.AddCommand(newRunsCreateCmd())
	cmd.AddCommand(newRunsGetCmd())
	cmd.AddCommand(newRunsCancelCmd())
	cmd.AddCommand(newRunsScreenshotCmd())
	return cmd
}

func printRaw(body []byte) {
	var raw json.RawMessage
	json.Unmarshal(body, &raw)
	printJSON(raw)
}

func decodeRun(body []byte) (*run.Run, error) {
	var r run.Run
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &r, nil
}

func printRun(r *run.Run) {
	errorCode := "-"
	if r.ErrorCode != nil {
		errorCode = strconv.Itoa(*r.ErrorCode)
	}
	headers := []string{"FIELD", "VALUE"}
	rows := [][]string{
		{"ID", r.ID.String()},
		{"Instruction", r.Instruction},
		{"Operator", r.Operator},
		{"Status", string(r.Status)},
		{"Iterations", strconv.Itoa(r.Iterations)},
		{"Screenshots", strconv.Itoa(r.Screenshots)},
		{"Stop Reason", orDash(r.StopReason)},
		{"Final Answer", orDash(r.FinalAnswer)},
		{"Error Code", errorCode},
		{"Error", orDash(r.ErrorMessage)},
		{"Started At", formatTime(r.StartTime)},
		{"Ended At", formatTime(r.EndTime)},
		{"Created At", r.CreatedAt.Format("2006-01-02 15:04:05")},
	}
	printTable(headers, rows)
}

func newRunsListCmd() *cobra.Command {
	var status string
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			if status != "" {
				query.Set("status", status)
			}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}
			if offset > 0 {
				query.Set("offset", strconv.Itoa(offset))
			}

			body, err := getClient().Get("/api/v1/runs", query)
			if err != nil {
				return err
			}

			if flagJSON {
				printRaw(body)
				return nil
			}

			var resp PaginatedResponse[run.Run]
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}

			headers := []string{"ID", "OPERATOR", "STATUS", "ITERATIONS", "STOP REASON", "CREATED AT"}
			var rows [][]string
			for _, r := range resp.Items {
				rows = append(rows, []string{
					r.ID.String(),
					r.Operator,
					string(r.Status),
					strconv.Itoa(r.Iterations),
					orDash(r.StopReason),
					r.CreatedAt.Format("2006-01-02 15:04:05"),
				})
			}
			printTable(headers, rows)
			printMessage(fmt.Sprintf("\nShowing %d of %d runs", len(resp.Items), resp.Total))
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (queued, running, finished, errored, cancelled)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")
	cmd.Flags().IntVar(&offset, "offset", 0, "Offset for pagination")
	return cmd
}

func newRunsCreateCmd() *cobra.Command {
	var req CreateRunRequest
	var wait bool
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Queue a new run",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := getClient()

			body, err := client.Post("/api/v1/runs", req)
			if err != nil {
				return err
			}

			r, err := decodeRun(body)
			if err != nil {
				return err
			}
			if !wait {
				if flagJSON {
					printRaw(body)
					return nil
				}
				printMessage(fmt.Sprintf("Run queued: %s (status: %s)", r.ID, r.Status))
				return nil
			}

			r, body, err = waitForRun(client, r.ID.String(), interval)
			if err != nil {
				return err
			}
			if flagJSON {
				printRaw(body)
				return nil
			}
			printRun(r)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Instruction, "instruction", "", "Instruction for the agent (required)")
	cmd.MarkFlagRequired("instruction")
	cmd.Flags().StringVar(&req.Operator, "operator", "browser", "Operator: browser, shell, filesystem or remote")
	cmd.Flags().StringVar(&req.SystemPrompt, "system-prompt", "", "System prompt template overriding the server's")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until the run ends")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Polling interval with --wait")
	return cmd
}

// waitForRun polls a run until it reaches a terminal status.
func waitForRun(client *Client, id string, interval time.Duration) (*run.Run, []byte, error) {
	for {
		body, err := client.Get("/api/v1/runs/"+id, nil)
		if err != nil {
			return nil, nil, err
		}
		r, err := decodeRun(body)
		if err != nil {
			return nil, nil, err
		}
		if r.Status.IsTerminal() {
			return r, body, nil
		}
		if flagDebug {
			fmt.Fprintf(os.Stderr, "DEBUG: run %s is %s after %d iterations\n", id, r.Status, r.Iterations)
		}
		time.Sleep(interval)
	}
}

func newRunsGetCmd() *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Get a run by ID",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := getClient().Get("/api/v1/runs/"+id, nil)
			if err != nil {
				return err
			}

			if flagJSON {
				printRaw(body)
				return nil
			}

			r, err := decodeRun(body)
			if err != nil {
				return err
			}
			printRun(r)
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Run ID (required)")
	cmd.MarkFlagRequired("id")
	return cmd
}

func newRunsCancelCmd() *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a queued or running run",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := getClient().Post("/api/v1/runs/"+id+"/cancel", nil)
			if err != nil {
				return err
			}

			if flagJSON {
				printRaw(body)
				return nil
			}

			r, err := decodeRun(body)
			if err != nil {
				return err
			}
			printMessage(fmt.Sprintf("Cancel requested: %s (status: %s)", r.ID, r.Status))
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Run ID (required)")
	cmd.MarkFlagRequired("id")
	return cmd
}

func newRunsScreenshotCmd() *cobra.Command {
	var id, out string
	var iteration int

	cmd := &cobra.Command{
		Use:   "screenshot",
		Short: "Download the screenshot of one iteration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				out = fmt.Sprintf("%s-%04d.png", id, iteration)
			}
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", out, err)
			}
			defer f.Close()

			n, err := getClient().Download(fmt.Sprintf("/api/v1/runs/%s/screenshots/%d", id, iteration), f)
			if err != nil {
				f.Close()
				os.Remove(out)
				return err
			}
			printMessage(fmt.Sprintf("Saved %s (%d bytes)", out, n))
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Run ID (required)")
	cmd.MarkFlagRequired("id")
	cmd.Flags().IntVar(&iteration, "iteration", 1, "Iteration number")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default <id>-<iteration>.png)")
	return cmd
}
