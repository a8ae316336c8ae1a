package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vrsandeep/vidscribe/internal/pathguard"
	"github.com/vrsandeep/vidscribe/internal/session"
)

func newRevealCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reveal <path>",
		Short: "Show a file in the file manager",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, func(s *session.Session) error {
				return s.Reveal(cmd.Context(), args[0])
			})
		},
	}
}

func newOpenCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "open <path>",
		Short: "Open a file with its default application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, func(s *session.Session) error {
				return s.Open(cmd.Context(), args[0])
			})
		},
	}
}

func newValidateCommand(ctx *commandContext) *cobra.Command {
	var (
		kind   string
		native bool
	)
	cmd := &cobra.Command{
		Use:   "validate <path>...",
		Short: "Check paths against the path guard",
		Long:  "Check paths against the path guard and print the normalized form or the rule that rejected each one.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, ok := pathguard.ParseKind(kind)
			if !ok {
				return fmt.Errorf("unknown kind %q (want input-file, output-file or directory)", kind)
			}
			return ctx.withSession(cmd, func(s *session.Session) error {
				rejected := 0
				for _, p := range args {
					clean, err := s.Guard().Validate(p, pathguard.Context{Kind: k, Native: native})
					var verr *pathguard.ValidationError
					switch {
					case errors.As(err, &verr):
						rejected++
						fmt.Fprintf(cmd.OutOrStdout(), "REJECT %s %s\n", verr.Code, p)
					case err != nil:
						return err
					default:
						fmt.Fprintf(cmd.OutOrStdout(), "OK     %s\n", clean)
					}
				}
				if rejected > 0 {
					return fmt.Errorf("%d of %d paths rejected", rejected, len(args))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "input-file", "Path kind: input-file, output-file or directory")
	cmd.Flags().BoolVar(&native, "native", false, "Apply the rules for reveal and open")
	return cmd
}
