package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vrsandeep/vidscribe/internal/models"
	"github.com/vrsandeep/vidscribe/internal/session"
)

var errAmbiguousID = errors.New("id prefix matches more than one item")

func newQueueCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "List the transcription queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, func(s *session.Session) error {
				if err := s.Refresh(cmd.Context()); err != nil {
					return err
				}
				items := s.Items()
				out := cmd.OutOrStdout()
				if len(items) == 0 {
					fmt.Fprintln(out, "Queue is empty")
					return nil
				}
				fmt.Fprint(out, renderQueue(items))
				fmt.Fprint(out, renderStats(s.Stats()))
				return nil
			})
		},
	}
}

func newAddCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "add <file>...",
		Short: "Queue video files",
		Long:  "Queue video files. Every path is checked first; if any is rejected nothing is queued.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, func(s *session.Session) error {
				items, err := s.Enqueue(cmd.Context(), args)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), renderQueue(items))
				return nil
			})
		},
	}
}

func newAddDirCommand(ctx *commandContext) *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "add-dir <directory>",
		Short: "Queue the videos in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, func(s *session.Session) error {
				items, err := s.EnqueueDirectory(cmd.Context(), args[0], recursive)
				if err != nil {
					return err
				}
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No videos found")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderQueue(items))
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Include subdirectories")
	return cmd
}

func newRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove an item from the queue",
		Long:  "Remove an item from the queue. The id may be shortened to any unique prefix.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, func(s *session.Session) error {
				id, err := resolveID(cmd.Context(), s, args[0])
				if err != nil {
					return err
				}
				if err := s.Remove(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", shortID(id))
				return nil
			})
		},
	}
}

func newClearCommand(ctx *commandContext) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove finished items from the queue",
		Long:  "Remove items with the given status, or every item not being processed when no status is given.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, func(s *session.Session) error {
				n, err := s.Clear(cmd.Context(), models.ItemStatus(status))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d items\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only remove items with this status (queued, completed, failed)")
	return cmd
}

func newExportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "export <id> <destination>",
		Short: "Copy a finished transcript to a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, func(s *session.Session) error {
				id, err := resolveID(cmd.Context(), s, args[0])
				if err != nil {
					return err
				}
				if _, err := s.Export(cmd.Context(), id, args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %s to %s\n", shortID(id), args[1])
				return nil
			})
		},
	}
}

// resolveID expands a unique id prefix using a fresh snapshot.
func resolveID(ctx context.Context, s *session.Session, prefix string) (string, error) {
	if err := s.Refresh(ctx); err != nil {
		return "", err
	}
	var match string
	for _, it := range s.Items() {
		if it.ID == prefix {
			return it.ID, nil
		}
		if strings.HasPrefix(it.ID, prefix) {
			if match != "" {
				return "", fmt.Errorf("%s: %w", prefix, errAmbiguousID)
			}
			match = it.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("no queue item with id %s", prefix)
	}
	return match, nil
}
