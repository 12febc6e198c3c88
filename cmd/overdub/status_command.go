package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd, status)
			}

			stdout := cmd.OutOrStdout()
			fmt.Fprintf(stdout, "Daemon running: %s\n", yesNo(status.Running))
			fmt.Fprintf(stdout, "Job database:   %s\n", status.QueueDBPath)
			fmt.Fprintln(stdout)

			rows := make([][]string, 0, len(status.Jobs))
			for _, state := range []string{"pending", "processing", "completed", "failed", "timed_out"} {
				rows = append(rows, []string{state, fmt.Sprintf("%d", status.Jobs[state])})
			}
			fmt.Fprintln(stdout, renderTable(
				[]string{"Status", "Jobs"},
				rows,
				[]columnAlignment{alignLeft, alignRight},
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output status as JSON")
	return cmd
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Show daemon readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			health, err := client.Health(cmd.Context())
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd, health)
			}

			stdout := cmd.OutOrStdout()
			fmt.Fprintf(stdout, "Ready: %s\n", yesNo(health.Ready))
			fmt.Fprintf(stdout, "Jobs:  %d total, %d pending, %d processing\n",
				health.Queue["total"], health.Queue["pending"], health.Queue["processing"])
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output health as JSON")
	return cmd
}
