package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"Ekronos-Agents/sdk/go/ekronos"
)

func newTaskCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Submit and inspect asynchronous orchestration tasks",
	}
	cmd.AddCommand(newTaskSubmitCmd(opts), newTaskGetCmd(opts), newTaskListCmd(opts))
	return cmd
}

func newTaskSubmitCmd(opts *globalOptions) *cobra.Command {
	flags := &runFlags{}
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "submit <goal>",
		Short: "Queue a run and print the task id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			req, err := flags.request(strings.Join(args, " "))
			if err != nil {
				return err
			}
			t, err := client.SubmitTask(cmd.Context(), req)
			if err != nil {
				return err
			}
			if wait > 0 {
				if t, err = waitForTask(cmd, client, t.ID, wait); err != nil {
					return err
				}
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), t)
			}
			printTask(cmd.OutOrStdout(), t)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&flags.id, "id", "", "task id, generated by the server when empty")
	cmd.Flags().DurationVar(&wait, "wait", 0, "poll until the task finishes or the duration elapses")
	return cmd
}

// waitForTask 每秒轮询一次，直到任务进入终态或超时。
func waitForTask(cmd *cobra.Command, client *ekronos.Client, id string, limit time.Duration) (*ekronos.Task, error) {
	deadline := time.Now().Add(limit)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		t, err := client.GetTask(cmd.Context(), id)
		if err != nil {
			return nil, err
		}
		if t.Status == "succeeded" || t.Status == "failed" || time.Now().After(deadline) {
			return t, nil
		}
		select {
		case <-cmd.Context().Done():
			return nil, cmd.Context().Err()
		case <-ticker.C:
		}
	}
}

func newTaskGetCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a task and its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			t, err := client.GetTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), t)
			}
			printTask(cmd.OutOrStdout(), t)
			if t.Result != nil {
				printRunResult(cmd.OutOrStdout(), t.Result)
			}
			return nil
		},
	}
}

func newTaskListCmd(opts *globalOptions) *cobra.Command {
	var list ekronos.ListOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			tasks, err := client.ListTasks(cmd.Context(), list)
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), tasks)
			}
			out := cmd.OutOrStdout()
			if len(tasks) == 0 {
				fmt.Fprintln(out, "no tasks")
				return nil
			}
			for i := range tasks {
				t := &tasks[i]
				fmt.Fprintf(out, "%-36s  %s  %s\n", t.ID, statusLabel(t.Status), truncate(t.Goal, 60))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&list.Statuses, "status", nil, "filter by status (pending,running,succeeded,failed)")
	cmd.Flags().IntVar(&list.Limit, "limit", 20, "maximum number of tasks")
	cmd.Flags().IntVar(&list.Offset, "offset", 0, "number of tasks to skip")
	cmd.Flags().StringVarP(&list.Query, "query", "q", "", "substring match on goal")
	cmd.Flags().BoolVar(&list.Ascending, "asc", false, "oldest first")
	return cmd
}

func printTask(out io.Writer, t *ekronos.Task) {
	fmt.Fprintf(out, "%s %s (attempts=%d)\n", color.New(color.Bold).Sprint(t.ID), statusLabel(t.Status), t.Attempts)
	if t.LastError != "" {
		fmt.Fprintf(out, "  %s %s\n", color.RedString(t.ErrorCode), t.LastError)
	}
}
