// Package shell hands approved paths to the desktop: reveal in the file
// manager and open with the default application.
package shell

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path"
	"runtime"
	"strings"

	"github.com/pkg/browser"

	"github.com/vrsandeep/vidscribe/internal/pathguard"
)

// Runner starts an external program and waits for it.
type Runner func(ctx context.Context, name string, args ...string) error

func execRunner(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run() //nolint:gosec
}

// Options configures a Shell. Zero values pick the host defaults.
type Options struct {
	Guard *pathguard.Guard
	// AllowNetwork lets UNC and smb:// paths through to the desktop.
	AllowNetwork bool
	GOOS         string
	Runner       Runner
	Open         func(path string) error
	Logger       *slog.Logger
}

type Shell struct {
	guard        *pathguard.Guard
	allowNetwork bool
	goos         string
	run          Runner
	open         func(string) error
	log          *slog.Logger
}

func New(opts Options) *Shell {
	s := &Shell{
		guard:        opts.Guard,
		allowNetwork: opts.AllowNetwork,
		goos:         opts.GOOS,
		run:          opts.Runner,
		open:         opts.Open,
		log:          opts.Logger,
	}
	if s.guard == nil {
		s.guard = pathguard.New(pathguard.Options{})
	}
	if s.goos == "" {
		s.goos = runtime.GOOS
	}
	if s.run == nil {
		s.run = execRunner
	}
	if s.open == nil {
		s.open = browser.OpenFile
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

func (s *Shell) approve(p string) (string, error) {
	return s.guard.Validate(p, pathguard.Context{
		Kind:         pathguard.InputFile,
		Native:       true,
		AllowNetwork: s.allowNetwork,
	})
}

// Reveal shows p selected in the platform file manager. Rejected paths
// never reach the desktop.
func (s *Shell) Reveal(ctx context.Context, p string) error {
	clean, err := s.approve(p)
	if err != nil {
		return err
	}
	name, args := revealCommand(s.goos, clean)
	s.log.Debug("revealing path", "path", clean, "command", name)
	if err := s.run(ctx, name, args...); err != nil {
		return fmt.Errorf("reveal %s: %w", clean, err)
	}
	return nil
}

// OpenExternal opens p with its default application.
func (s *Shell) OpenExternal(ctx context.Context, p string) error {
	clean, err := s.approve(p)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	target := argPath(clean)
	if s.goos == "windows" {
		target = strings.ReplaceAll(clean, "/", `\`)
	}
	s.log.Debug("opening path", "path", target)
	if err := s.open(target); err != nil {
		return fmt.Errorf("open %s: %w", clean, err)
	}
	return nil
}

func revealCommand(goos, p string) (string, []string) {
	switch goos {
	case "darwin":
		return "open", []string{"-R", argPath(p)}
	case "windows":
		return "explorer", []string{`/select,` + strings.ReplaceAll(p, "/", `\`)}
	default:
		// xdg-open has no selection support; open the containing folder.
		return "xdg-open", []string{argPath(path.Dir(p))}
	}
}

// argPath keeps a relative path that starts with '-' from being read as an
// option by the opener.
func argPath(p string) string {
	if strings.HasPrefix(p, "-") {
		return "./" + p
	}
	return p
}
