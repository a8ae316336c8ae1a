package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vrsandeep/vidscribe/internal/session"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the processing state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, func(s *session.Session) error {
				st, err := s.Status(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), renderStatus(st))
				return nil
			})
		},
	}
}

func newStartCommand(ctx *commandContext) *cobra.Command {
	var outputDir string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start or resume processing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, func(s *session.Session) error {
				st, err := s.Start(cmd.Context(), outputDir)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), renderStatus(st))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "Directory transcripts are written to")
	return cmd
}

func newPauseCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Pause processing after the current step",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, func(s *session.Session) error {
				st, err := s.Pause(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), renderStatus(st))
				return nil
			})
		},
	}
}

func newStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop processing and requeue the current item",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, func(s *session.Session) error {
				st, err := s.Stop(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), renderStatus(st))
				return nil
			})
		},
	}
}
