// Package watch enqueues video files that appear in a watched folder.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vrsandeep/vidscribe/internal/clock"
	"github.com/vrsandeep/vidscribe/internal/models"
	"github.com/vrsandeep/vidscribe/internal/util"
)

// Enqueuer adds files to the transcription queue. The session implements
// it, so every path still passes the path guard.
type Enqueuer interface {
	Enqueue(ctx context.Context, paths []string) ([]models.QueueItem, error)
}

// Options configures a Watcher.
type Options struct {
	Root       string
	Extensions []string      // lower-case, with the leading dot
	Debounce   time.Duration // quiet period after the last change
	Clock      clock.Clock
	Logger     *slog.Logger
}

// Watcher watches Root recursively and enqueues new video files once
// writes to them have settled.
type Watcher struct {
	root     string
	exts     map[string]bool
	debounce time.Duration
	clock    clock.Clock
	log      *slog.Logger
	enqueue  Enqueuer

	watcher  *fsnotify.Watcher
	stopChan chan struct{}
	done     chan struct{}

	mu      sync.Mutex
	pending map[string]bool
	seen    map[string]bool
	timer   clock.Timer
}

func New(opts Options, enq Enqueuer) *Watcher {
	exts := make(map[string]bool, len(opts.Extensions))
	for _, e := range opts.Extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = true
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 2 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Watcher{
		root:     opts.Root,
		exts:     exts,
		debounce: opts.Debounce,
		clock:    opts.Clock,
		log:      opts.Logger.With("component", "watch"),
		enqueue:  enq,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
		pending:  make(map[string]bool),
		seen:     make(map[string]bool),
	}
}

// Start begins watching. Files already present are not enqueued.
func (w *Watcher) Start() error {
	if w.root == "" {
		return errors.New("watch path is empty")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = watcher

	err = filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		// Files are watched through their parent directory.
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		watcher.Close()
		return err
	}

	w.log.Info("watching folder", "path", w.root)
	go w.processEvents()
	return nil
}

// Stop stops watching and drops changes still waiting for the debounce.
func (w *Watcher) Stop() error {
	select {
	case <-w.stopChan:
		return nil
	default:
	}
	close(w.stopChan)
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	if w.watcher == nil {
		return nil
	}
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *Watcher) processEvents() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("file watcher error", "error", err)
		case <-w.stopChan:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	info, err := os.Stat(event.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if event.Has(fsnotify.Create) {
			if err := w.watcher.Add(event.Name); err != nil {
				w.log.Warn("watching new folder", "path", event.Name, "error", err)
			}
		}
		return
	}
	if !w.IsVideo(event.Name) {
		return
	}
	w.touch(event.Name)
}

// IsVideo reports whether path has one of the configured extensions.
func (w *Watcher) IsVideo(path string) bool {
	return w.exts[strings.ToLower(filepath.Ext(path))]
}

// touch records a change to path and restarts the debounce.
func (w *Watcher) touch(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seen[path] {
		return
	}
	w.pending[path] = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = w.clock.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
		w.seen[p] = true
	}
	w.pending = make(map[string]bool)
	w.mu.Unlock()

	util.SortNatural(paths)
	w.log.Info("new videos detected", "count", len(paths))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := w.enqueue.Enqueue(ctx, paths); err != nil {
		w.log.Warn("enqueue from watch folder failed", "error", err)
		// Let a later write retry them.
		w.mu.Lock()
		for _, p := range paths {
			delete(w.seen, p)
		}
		w.mu.Unlock()
	}
}
