package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/isWangjianhua/GenPulse/pkg/client"
)

func newSubmitCmd(a *app) *cobra.Command {
	var (
		req        client.SubmitRequest
		paramPairs []string
		paramsJSON string
		wait       bool
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a generation task",
		Long: `Submit a generation task to the gateway.

Parameters can be given as repeated --param key=value pairs, as a JSON
object with --params, or both (pairs win). Values that parse as JSON are
sent as JSON, anything else as a string.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := buildParams(paramsJSON, paramPairs)
			if err != nil {
				return err
			}
			req.Params = params

			ctx := cmd.Context()
			c := a.client()
			accepted, err := c.Submit(ctx, req)
			if err != nil {
				return a.explain(err)
			}
			out := cmd.OutOrStdout()
			if !wait {
				if a.jsonOutput() {
					return json.NewEncoder(out).Encode(accepted)
				}
				fmt.Fprintf(out, "%s %s\n", accepted.TaskID, accepted.Status)
				return nil
			}
			return waitAndPrint(cmd, a, c, accepted.TaskID)
		},
	}
	cmd.Flags().StringVarP(&req.Provider, "provider", "p", "", "provider name (required)")
	cmd.Flags().StringVarP(&req.TaskType, "type", "t", "", "task type, e.g. text-to-image (required)")
	cmd.Flags().StringArrayVar(&paramPairs, "param", nil, "parameter as key=value (repeatable)")
	cmd.Flags().StringVar(&paramsJSON, "params", "", "parameters as a JSON object")
	cmd.Flags().StringVar(&req.Priority, "priority", "", "high, normal or low")
	cmd.Flags().StringVar(&req.CallbackURL, "callback", "", "URL that receives the final task event")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "wait for the task to finish")
	_ = cmd.MarkFlagRequired("provider")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func buildParams(raw string, pairs []string) (map[string]any, error) {
	params := make(map[string]any)
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			return nil, fmt.Errorf("--params must be a JSON object: %w", err)
		}
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q, want key=value", pair)
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			params[key] = decoded
		} else {
			params[key] = value
		}
	}
	return params, nil
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <task-id>",
		Short: "Show the current state of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := a.client().Get(cmd.Context(), args[0])
			if err != nil {
				return a.explain(err)
			}
			if a.jsonOutput() {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(task)
			}
			printTask(cmd.OutOrStdout(), task)
			return nil
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := a.client().List(cmd.Context(), limit)
			if err != nil {
				return a.explain(err)
			}
			out := cmd.OutOrStdout()
			if a.jsonOutput() {
				return json.NewEncoder(out).Encode(tasks)
			}
			if len(tasks) == 0 {
				fmt.Fprintln(out, "No tasks found.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TASK ID\tPROVIDER\tTYPE\tSTATUS\tPROGRESS\tUPDATED")
			for _, t := range tasks {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d%%\t%s\n",
					t.TaskID, t.Provider, t.TaskType, t.Status, t.Progress, t.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "max results")
	return cmd
}

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <task-id>",
		Short: "Follow a task until it completes or fails",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return waitAndPrint(cmd, a, a.client(), args[0])
		},
	}
}

func waitAndPrint(cmd *cobra.Command, a *app, c *client.Client, taskID string) error {
	out := cmd.OutOrStdout()
	last := ""
	task, err := c.Wait(cmd.Context(), taskID, nil, func(t client.Task) {
		line := fmt.Sprintf("%s %d%%", t.Status, t.Progress)
		if line != last && !a.jsonOutput() {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", t.TaskID, line)
			last = line
		}
	})
	if err != nil {
		return a.explain(err)
	}
	if a.jsonOutput() {
		if err := json.NewEncoder(out).Encode(task); err != nil {
			return err
		}
	} else {
		printTask(out, task)
	}
	if task.Status == client.StatusFailed {
		return fmt.Errorf("task %s failed", task.TaskID)
	}
	return nil
}

func newUploadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a file and print its URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			up, err := a.client().Upload(cmd.Context(), f.Name(), f)
			if err != nil {
				return a.explain(err)
			}
			if a.jsonOutput() {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(up)
			}
			fmt.Fprintln(cmd.OutOrStdout(), up.URL)
			return nil
		},
	}
}
