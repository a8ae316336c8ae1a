package mirror

import (
	"context"
	"log/slog"
	"time"

	"github.com/vrsandeep/vidscribe/internal/events"
	"github.com/vrsandeep/vidscribe/internal/models"
)

// SnapshotFetcher returns the backend's full queue.
type SnapshotFetcher interface {
	Queue(ctx context.Context) ([]models.QueueItem, error)
}

// Sync feeds registry events into a Mirror and reconciles a fresh snapshot
// after every Connected transition, since events sent while disconnected
// are lost.
type Sync struct {
	reg     *events.Registry
	mirror  *Mirror
	fetch   SnapshotFetcher
	log     *slog.Logger
	timeout time.Duration
	subs    []events.Subscription
	kinds   []events.Kind
}

// NewSync registers the mirror's handlers on reg. A nil logger falls back
// to slog.Default.
func NewSync(reg *events.Registry, m *Mirror, fetch SnapshotFetcher, logger *slog.Logger) *Sync {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sync{
		reg:     reg,
		mirror:  m,
		fetch:   fetch,
		log:     logger.With("component", "mirror"),
		timeout: 10 * time.Second,
	}
	apply := func(evt events.Event) { _ = m.ApplyEvent(evt) }
	for _, k := range []events.Kind{
		events.KindQueueUpdate,
		events.KindProcessingUpdate,
		events.KindProcessingComplete,
		events.KindProcessingError,
	} {
		s.subs = append(s.subs, reg.On(k, apply))
		s.kinds = append(s.kinds, k)
	}
	s.subs = append(s.subs, events.Subscribe(reg, s.onConnection))
	s.kinds = append(s.kinds, events.KindConnection)
	return s
}

func (s *Sync) onConnection(c events.ConnectionChange) {
	if c.State != events.Connected {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.Refresh(ctx); err != nil {
		s.log.Warn("snapshot after reconnect failed", "error", err)
	}
}

// Refresh fetches a snapshot and reconciles the mirror against it.
func (s *Sync) Refresh(ctx context.Context) error {
	items, err := s.fetch.Queue(ctx)
	if err != nil {
		return err
	}
	s.mirror.Reconcile(items)
	s.log.Debug("mirror reconciled", "items", len(items))
	return nil
}

// Close removes the handlers registered by NewSync.
func (s *Sync) Close() {
	for i, sub := range s.subs {
		s.reg.Off(s.kinds[i], sub)
	}
	s.subs, s.kinds = nil, nil
}
