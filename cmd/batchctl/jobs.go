package main

import (
	"fmt"
	"strings"

	"batchctl/internal/job"
	"batchctl/internal/logs"

	"github.com/spf13/cobra"
)

func newTerminateCommand(a *app) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "terminate JOB_ID...",
		Short: "Terminate jobs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range args {
				if err := svc.Terminate(cmd.Context(), id, reason); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&reason, "reason", "r", job.DefaultTerminateReason, "reason recorded on the job")
	return cmd
}

func newListCommand(a *app) *cobra.Command {
	var queues, statuses []string
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List jobs by queue and status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := parseStatuses(statuses)
			if err != nil {
				return err
			}
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			descs, err := svc.List(cmd.Context(), queues, st)
			if err != nil {
				return err
			}
			return a.printJSON(descs)
		},
	}
	cmd.Flags().StringSliceVarP(&queues, "queue", "q", nil, "queues to list (default: all)")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "statuses to list (default: all)")
	return cmd
}

func newDescribeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "describe JOB_ID",
		Short: "Describe a job, from its snapshot once the live record has expired",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			desc, err := svc.Describe(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printJSON(desc)
		},
	}
}

func newGetLogsCommand(a *app) *cobra.Command {
	var head, tail int
	var group string
	cmd := &cobra.Command{
		Use:   "get-logs LOG_STREAM",
		Short: "Print the events of a log stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.cloud(cmd.Context())
			if err != nil {
				return err
			}
			if group == "" {
				group = a.cfg.LogGroup
			}
			reader, err := logs.Source{API: c.Logs, Group: group}.Open(args[0], logs.Options{Head: head, Tail: tail})
			if err != nil {
				return err
			}
			for e, err := range reader.Events(cmd.Context()) {
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, e)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&head, "head", 0, "print only the first N events")
	cmd.Flags().IntVar(&tail, "tail", 0, "print only the last N events")
	cmd.Flags().StringVar(&group, "log-group", "", "log group (default from config)")
	cmd.MarkFlagsMutuallyExclusive("head", "tail")
	return cmd
}

func newWatchCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch JOB_ID",
		Short: "Follow a job's status and logs until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.monitor(cmd.Context())
			if err != nil {
				return err
			}
			desc, err := m.Watch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if desc.Status == job.StatusFailed {
				return jobFailed(desc)
			}
			return nil
		},
	}
}

func parseStatuses(raw []string) ([]job.Status, error) {
	out := make([]job.Status, 0, len(raw))
	for _, s := range raw {
		st, err := job.ParseStatus(strings.ToUpper(s))
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}
