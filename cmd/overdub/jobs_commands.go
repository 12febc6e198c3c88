package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage transformation jobs",
	}

	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsRetryCommand(ctx))
	jobsCmd.AddCommand(newJobsResetStuckCommand(ctx))
	jobsCmd.AddCommand(newJobsRemoveCommand(ctx))
	jobsCmd.AddCommand(newJobsClearCommand(ctx))

	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, optionally filtered by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			jobs, err := client.ListJobs(cmd.Context(), strings.TrimSpace(statusFilter))
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd, jobs)
			}

			stdout := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintln(stdout, "No jobs found")
				return nil
			}

			colorize := shouldColorize(stdout)
			rows := make([][]string, 0, len(jobs))
			for _, job := range jobs {
				rows = append(rows, []string{
					job.ID,
					job.Kind,
					statusCell(job.Status, colorize),
					fmt.Sprintf("%d", job.Attempts),
					job.CreatedAt.Local().Format(time.DateTime),
				})
			}
			fmt.Fprintln(stdout, renderTable(
				[]string{"ID", "Kind", "Status", "Attempts", "Created"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().StringVarP(&statusFilter, "status", "s", "", "Filter by status (pending, processing, completed, failed, timed_out)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output jobs as JSON")
	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			job, err := client.GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd, job)
			}

			stdout := cmd.OutOrStdout()
			fmt.Fprintf(stdout, "ID:        %s\n", job.ID)
			fmt.Fprintf(stdout, "Kind:      %s\n", job.Kind)
			fmt.Fprintf(stdout, "Status:    %s\n", job.Status)
			fmt.Fprintf(stdout, "Attempts:  %d\n", job.Attempts)
			if job.ExternalJobID != "" {
				fmt.Fprintf(stdout, "External:  %s\n", job.ExternalJobID)
			}
			if job.ResultURL != "" {
				fmt.Fprintf(stdout, "Result:    %s\n", job.ResultURL)
			}
			if job.ProcessingMS > 0 {
				fmt.Fprintf(stdout, "Took:      %s\n", time.Duration(job.ProcessingMS)*time.Millisecond)
			}
			if job.Error != nil {
				fmt.Fprintf(stdout, "Error:     [%s] %s\n", job.Error.Kind, job.Error.Message)
			}
			fmt.Fprintf(stdout, "Created:   %s\n", job.CreatedAt.Local().Format(time.DateTime))
			fmt.Fprintf(stdout, "Updated:   %s\n", job.UpdatedAt.Local().Format(time.DateTime))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output the job as JSON")
	return cmd
}

func newJobsRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [job-id...]",
		Short: "Requeue failed jobs (all failed jobs when no ids are given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			count, err := client.RetryJobs(cmd.Context(), args)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d job(s)\n", count)
			return nil
		},
	}
}

func newJobsResetStuckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-stuck",
		Short: "Return processing jobs to pending (use after an unclean shutdown)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			count, err := client.ResetStuckJobs(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset %d job(s)\n", count)
			return nil
		},
	}
}

func newJobsRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <job-id>",
		Short: "Delete a job record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			if err := client.RemoveJob(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed job %s\n", args[0])
			return nil
		},
	}
}

func newJobsClearCommand(ctx *commandContext) *cobra.Command {
	var scope string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete finished job records",
		RunE: func(cmd *cobra.Command, args []string) error {
			if scope != "completed" && scope != "terminal" {
				return fmt.Errorf("scope must be completed or terminal, got %q", scope)
			}
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			count, err := client.ClearJobs(cmd.Context(), scope)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d job(s)\n", count)
			return nil
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "completed", "Which jobs to clear: completed, or terminal (completed, failed, and timed out)")
	return cmd
}
