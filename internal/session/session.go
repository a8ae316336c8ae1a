// Package session wires the client side together: one transport, one
// registry and one mirror per backend, plus the request layer and the
// desktop shell. Nothing here is global; callers own the Session.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/vrsandeep/vidscribe/internal/client"
	"github.com/vrsandeep/vidscribe/internal/clock"
	"github.com/vrsandeep/vidscribe/internal/config"
	"github.com/vrsandeep/vidscribe/internal/events"
	"github.com/vrsandeep/vidscribe/internal/mirror"
	"github.com/vrsandeep/vidscribe/internal/models"
	"github.com/vrsandeep/vidscribe/internal/pathguard"
	"github.com/vrsandeep/vidscribe/internal/shell"
	"github.com/vrsandeep/vidscribe/internal/transport"
)

// ErrNotAcknowledged is returned when removing an item the backend has not
// assigned an id to yet.
var ErrNotAcknowledged = errors.New("item is not yet acknowledged by the backend")

// Options overrides collaborators, mostly for tests. Zero values build the
// real ones from the config.
type Options struct {
	Logger     *slog.Logger
	Clock      clock.Clock
	Dialer     transport.Dialer
	HTTPClient *http.Client
	Shell      *shell.Shell
}

type Session struct {
	cfg *config.Config
	log *slog.Logger

	guard     *pathguard.Guard
	registry  *events.Registry
	transport *transport.Transport
	mirror    *mirror.Mirror
	sync      *mirror.Sync
	client    *client.Client
	shell     *shell.Shell
}

// New builds a disconnected session. Call Run in a goroutine to start
// delivering events, then Connect.
func New(cfg *config.Config, opts Options) (*Session, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}

	guard := pathguard.New(pathguard.Options{
		ExtraDeniedDirs: cfg.PathGuard.DeniedDirs,
		MaxLength:       cfg.PathGuard.MaxLength,
		AllowNetwork:    cfg.PathGuard.AllowNetworkPaths,
	})

	clientOpts := []client.Option{client.WithGuard(guard)}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, client.WithHTTPClient(opts.HTTPClient))
	}
	api, err := client.New(cfg.Server.URL, clientOpts...)
	if err != nil {
		return nil, err
	}

	policy := transport.ReconnectPolicy{
		Base:        cfg.Transport.Reconnect.Base,
		Multiplier:  cfg.Transport.Reconnect.Multiplier,
		Cap:         cfg.Transport.Reconnect.Cap,
		MaxAttempts: cfg.Transport.Reconnect.MaxAttempts,
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("transport.reconnect: %w", err)
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = transport.WSDialer{URL: cfg.EventsURL()}
	}

	registry := events.NewRegistry(opts.Logger)
	tr := transport.New(transport.Options{
		Dialer:            dialer,
		Policy:            policy,
		HeartbeatInterval: cfg.Transport.HeartbeatInterval,
		Clock:             opts.Clock,
		Logger:            opts.Logger,
	}, registry)

	m := mirror.New(mirror.WithLogger(opts.Logger), mirror.WithClock(opts.Clock))

	sh := opts.Shell
	if sh == nil {
		sh = shell.New(shell.Options{
			Guard:        guard,
			AllowNetwork: cfg.PathGuard.AllowNetworkPaths,
			Logger:       opts.Logger,
		})
	}

	s := &Session{
		cfg:       cfg,
		log:       opts.Logger.With("component", "session"),
		guard:     guard,
		registry:  registry,
		transport: tr,
		mirror:    m,
		client:    api,
		shell:     sh,
	}
	s.sync = mirror.NewSync(registry, m, api, opts.Logger)
	events.Subscribe(registry, s.onAlert)
	return s, nil
}

func (s *Session) onAlert(a events.SystemAlert) {
	switch a.Level {
	case "error":
		s.log.Error("backend alert", "message", a.Message)
	case "warning", "warn":
		s.log.Warn("backend alert", "message", a.Message)
	default:
		s.log.Info("backend alert", "message", a.Message)
	}
}

// Run delivers events until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	return s.transport.Run(ctx)
}

// Connect checks the backend version when a minimum is configured and opens
// the event stream. The mirror is reconciled once the stream is up.
func (s *Session) Connect(ctx context.Context) error {
	if c := s.cfg.Client.MinBackendVersion; c != "" {
		v, err := s.client.CheckCompatible(ctx, ">= "+c)
		if err != nil {
			return err
		}
		s.log.Info("backend version", "version", v)
	}
	return s.transport.Connect(ctx)
}

// Close drops the connection and detaches the mirror from the registry.
func (s *Session) Close() {
	s.transport.Disconnect()
	s.sync.Close()
}

func (s *Session) State() transport.State     { return s.transport.State() }
func (s *Session) Registry() *events.Registry { return s.registry }
func (s *Session) Items() []models.QueueItem  { return s.mirror.Items() }
func (s *Session) Stats() models.QueueStats   { return s.mirror.Stats() }
func (s *Session) Client() *client.Client     { return s.client }
func (s *Session) Guard() *pathguard.Guard    { return s.guard }

// Refresh replaces the mirror with a fresh snapshot.
func (s *Session) Refresh(ctx context.Context) error {
	return s.sync.Refresh(ctx)
}

// Enqueue validates every path, shows the items immediately and then asks
// the backend to queue them. A rejected path aborts the whole call before
// anything is shown or sent; a failed request rolls the items back.
func (s *Session) Enqueue(ctx context.Context, paths []string) ([]models.QueueItem, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	clean, err := s.client.ValidateFiles(paths)
	if err != nil {
		return nil, err
	}
	provisional := s.mirror.AddOptimistic(clean)
	ids := make([]string, len(provisional))
	for i, it := range provisional {
		ids[i] = it.ID
	}
	items, err := s.client.AddValidatedFiles(ctx, clean)
	if err != nil {
		s.mirror.Discard(ids...)
		s.log.Warn("enqueue failed", "count", len(clean), "error", err)
		return nil, err
	}
	s.mirror.Merge(items)
	// The request is done; any provisional item the response did not claim
	// would otherwise linger as an in-flight add.
	s.mirror.Discard(ids...)
	s.log.Info("files queued", "count", len(items))
	return items, nil
}

// EnqueueDirectory queues the videos the backend finds in dir. There is no
// optimistic step since the file list is only known to the backend.
func (s *Session) EnqueueDirectory(ctx context.Context, dir string, recursive bool) ([]models.QueueItem, error) {
	items, err := s.client.AddDirectory(ctx, dir, recursive)
	if err != nil {
		return nil, err
	}
	s.mirror.Merge(items)
	s.log.Info("directory queued", "path", dir, "count", len(items))
	return items, nil
}

// Remove hides the item at once and restores it if the backend refuses.
func (s *Session) Remove(ctx context.Context, id string) error {
	if s.mirror.IsProvisional(id) {
		return fmt.Errorf("%s: %w", id, ErrNotAcknowledged)
	}
	if err := s.mirror.Remove(id); err != nil {
		return err
	}
	if err := s.client.RemoveItem(ctx, id); err != nil {
		s.mirror.Restore(id)
		s.log.Warn("remove failed", "item_id", id, "error", err)
		return err
	}
	return nil
}

// Clear removes items by status on the backend and resyncs.
func (s *Session) Clear(ctx context.Context, status models.ItemStatus) (int, error) {
	n, err := s.client.ClearQueue(ctx, status)
	if err != nil {
		return 0, err
	}
	if err := s.sync.Refresh(ctx); err != nil {
		s.log.Warn("snapshot after clear failed", "error", err)
	}
	return n, nil
}

func (s *Session) Export(ctx context.Context, id, dest string) (models.QueueItem, error) {
	it, err := s.client.Export(ctx, id, dest)
	if err != nil {
		return models.QueueItem{}, err
	}
	s.mirror.Merge([]models.QueueItem{it})
	return it, nil
}

func (s *Session) Status(ctx context.Context) (models.ProcessingStatus, error) {
	return s.client.Status(ctx)
}

func (s *Session) Start(ctx context.Context, outputDir string) (models.ProcessingStatus, error) {
	return s.client.StartProcessing(ctx, outputDir)
}

func (s *Session) Pause(ctx context.Context) (models.ProcessingStatus, error) {
	return s.client.PauseProcessing(ctx)
}

func (s *Session) Stop(ctx context.Context) (models.ProcessingStatus, error) {
	return s.client.StopProcessing(ctx)
}

// Reveal shows p in the file manager.
func (s *Session) Reveal(ctx context.Context, p string) error {
	return s.shell.Reveal(ctx, p)
}

// Open opens p with its default application.
func (s *Session) Open(ctx context.Context, p string) error {
	return s.shell.OpenExternal(ctx, p)
}
