package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var serverFlag string
	var configFlag string

	root := &cobra.Command{
		Use:           "overdub",
		Short:         "Manage the overdub media transformation daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&serverFlag, "server", "", "Daemon API base URL (default from config)")
	root.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Path to configuration file")

	ctx := newCommandContext(&serverFlag, &configFlag)

	root.AddCommand(newStatusCommand(ctx))
	root.AddCommand(newJobsCommand(ctx))
	root.AddCommand(newHealthCommand(ctx))
	root.AddCommand(newConfigCommand(ctx))

	return root
}
