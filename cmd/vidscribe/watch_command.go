package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vrsandeep/vidscribe/internal/events"
	"github.com/vrsandeep/vidscribe/internal/session"
	"github.com/vrsandeep/vidscribe/internal/watch"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [directory]",
		Short: "Follow progress live and queue videos dropped into a folder",
		Long: "Connect to the event stream and print progress as it happens. When a directory is given,\n" +
			"or watch.path is set, new videos appearing there are queued automatically.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			root := cfg.Watch.Path
			if len(args) == 1 {
				root = args[0]
			}
			log, err := ctx.logger(cmd, cfg)
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return ctx.withSession(cmd, func(s *session.Session) error {
				printer := &eventPrinter{out: cmd.OutOrStdout()}
				printer.attach(s.Registry())

				var wg sync.WaitGroup
				wg.Add(1)
				go func() {
					defer wg.Done()
					s.Run(runCtx)
				}()
				defer wg.Wait()
				defer stop()

				if err := s.Connect(runCtx); err != nil {
					return fmt.Errorf("connect to %s: %w", cfg.EventsURL(), err)
				}

				if root != "" {
					w := watch.New(watch.Options{
						Root:       root,
						Extensions: cfg.Watch.Extensions,
						Debounce:   cfg.Watch.Debounce,
						Logger:     log,
					}, s)
					if err := w.Start(); err != nil {
						return fmt.Errorf("watch %s: %w", root, err)
					}
					defer w.Stop()
				}

				<-runCtx.Done()
				return cmd.Context().Err()
			})
		},
	}
}

// eventPrinter writes one line per event the user cares about.
type eventPrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *eventPrinter) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *eventPrinter) attach(reg *events.Registry) {
	events.Subscribe(reg, func(c events.ConnectionChange) {
		p.printf("[%s] %s", c.At.Format("15:04:05"), c.State)
	})
	events.Subscribe(reg, func(u events.QueueUpdate) {
		switch u.Action {
		case events.QueueAdded:
			for _, it := range u.Items {
				p.printf("queued     %s %s", shortID(it.ID), it.SourcePath)
			}
		case events.QueueRemoved, events.QueueCleared:
			p.printf("removed    %d items", len(u.RemovedIDs))
		}
	})
	events.Subscribe(reg, func(u events.ProcessingUpdate) {
		if u.CurrentStep != "" {
			p.printf("progress   %s %3d%% %s", shortID(u.ID), u.Progress, u.CurrentStep)
			return
		}
		p.printf("progress   %s %3d%%", shortID(u.ID), u.Progress)
	})
	events.Subscribe(reg, func(c events.ProcessingComplete) {
		p.printf("completed  %s %s", shortID(c.ID), c.OutputPath)
	})
	events.Subscribe(reg, func(e events.ProcessingError) {
		p.printf("failed     %s %s: %s", shortID(e.ID), e.Error.Kind, e.Error.Message)
	})
	events.Subscribe(reg, func(a events.SystemAlert) {
		p.printf("%-10s %s", a.Level, a.Message)
	})
}
