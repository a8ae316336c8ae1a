package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "vidscribe",
		Short:         "Queue videos for transcription and follow their progress",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&ctx.configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&ctx.logLevel, "log-level", "", "Log level (overrides log.level)")
	rootCmd.PersistentFlags().StringVar(&ctx.serverFlag, "server", "", "Backend URL (overrides server.url)")

	rootCmd.AddCommand(newQueueCommand(ctx))
	rootCmd.AddCommand(newAddCommand(ctx))
	rootCmd.AddCommand(newAddDirCommand(ctx))
	rootCmd.AddCommand(newRemoveCommand(ctx))
	rootCmd.AddCommand(newClearCommand(ctx))
	rootCmd.AddCommand(newExportCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newStartCommand(ctx))
	rootCmd.AddCommand(newPauseCommand(ctx))
	rootCmd.AddCommand(newStopCommand(ctx))
	rootCmd.AddCommand(newRevealCommand(ctx))
	rootCmd.AddCommand(newOpenCommand(ctx))
	rootCmd.AddCommand(newValidateCommand(ctx))
	rootCmd.AddCommand(newWatchCommand(ctx))

	return rootCmd
}
