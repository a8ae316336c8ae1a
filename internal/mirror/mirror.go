// Package mirror keeps the client's view of the backend queue. It applies
// events and optimistic local edits, and reconciles against full snapshots
// fetched after every reconnect.
package mirror

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/vrsandeep/vidscribe/internal/clock"
	"github.com/vrsandeep/vidscribe/internal/events"
	"github.com/vrsandeep/vidscribe/internal/models"
)

// StaleReferenceError is returned when an event or edit names an id the
// mirror does not hold.
type StaleReferenceError struct {
	ID   string
	Kind events.Kind
}

func (e *StaleReferenceError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("stale reference to unknown item %q", e.ID)
	}
	return fmt.Sprintf("stale %s for unknown item %q", e.Kind, e.ID)
}

// Option configures a Mirror.
type Option func(*Mirror)

// WithIDGenerator replaces the provisional id generator.
func WithIDGenerator(gen func() string) Option {
	return func(m *Mirror) { m.newID = gen }
}

// WithLogger sets the logger used for stale references.
func WithLogger(l *slog.Logger) Option {
	return func(m *Mirror) { m.log = l }
}

// WithClock sets the clock used for provisional creation times.
func WithClock(c clock.Clock) Option {
	return func(m *Mirror) { m.clock = c }
}

type removal struct {
	item  models.QueueItem
	index int
}

// Mirror is safe for concurrent use.
type Mirror struct {
	newID func() string
	log   *slog.Logger
	clock clock.Clock

	mu          sync.Mutex
	order       []string
	items       map[string]*models.QueueItem
	provisional map[string]bool
	removing    map[string]*removal
	stats       *models.QueueStats // last server counts since the last snapshot
}

func New(opts ...Option) *Mirror {
	m := &Mirror{
		newID:       func() string { return "local-" + uuid.NewString() },
		log:         slog.Default(),
		clock:       clock.Real(),
		items:       make(map[string]*models.QueueItem),
		provisional: make(map[string]bool),
		removing:    make(map[string]*removal),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// AddOptimistic inserts one queued item per path with a provisional id and
// returns them. The provisional id is replaced when the server reports an
// item with the same source path.
func (m *Mirror) AddOptimistic(paths []string) []models.QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	out := make([]models.QueueItem, 0, len(paths))
	for _, p := range paths {
		it := models.QueueItem{
			ID:         m.newID(),
			SourcePath: p,
			Status:     models.StatusQueued,
			CreatedAt:  now,
		}
		m.items[it.ID] = &it
		m.order = append(m.order, it.ID)
		m.provisional[it.ID] = true
		out = append(out, it)
	}
	return out
}

// Discard drops provisional items whose request failed. Confirmed items are
// left alone.
func (m *Mirror) Discard(ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if m.provisional[id] {
			m.deleteLocked(id)
		}
	}
}

// Merge folds server-confirmed items into the mirror. Known ids are
// replaced in place and absorb a provisional add of the same active path;
// otherwise the oldest provisional item with the same source path takes the
// server id; otherwise the item is appended.
func (m *Mirror) Merge(items []models.QueueItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range items {
		m.mergeLocked(it.Clone())
	}
}

func (m *Mirror) mergeLocked(it models.QueueItem) {
	if r, ok := m.removing[it.ID]; ok {
		if !olderThan(it, r.item) {
			r.item = it
		}
		return
	}
	if cur, ok := m.items[it.ID]; ok {
		if olderThan(it, *cur) {
			m.log.Debug("ignoring outdated item", "item_id", it.ID, "status", it.Status)
			return
		}
		if it.Status == models.StatusProcessing && cur.Status == models.StatusProcessing {
			it.Progress = max(it.Progress, cur.Progress)
		}
		*cur = it
		delete(m.provisional, it.ID)
		// The backend never queues an active path twice, so a provisional
		// add of the same path resolves to this item.
		if it.Status == models.StatusQueued || it.Status == models.StatusProcessing {
			if prov := m.provisionalFor(it.SourcePath); prov != "" {
				m.deleteLocked(prov)
			}
		}
		return
	}
	if prov := m.provisionalFor(it.SourcePath); prov != "" {
		idx := m.indexOf(prov)
		delete(m.items, prov)
		delete(m.provisional, prov)
		m.items[it.ID] = &it
		m.order[idx] = it.ID
		return
	}
	m.items[it.ID] = &it
	m.order = append(m.order, it.ID)
}

// olderThan reports whether it was written by the backend before cur. A
// frame queued before a snapshot can arrive after it.
func olderThan(it, cur models.QueueItem) bool {
	return !it.UpdatedAt.IsZero() && it.UpdatedAt.Before(cur.UpdatedAt)
}

// provisionalFor returns the oldest provisional id for path.
func (m *Mirror) provisionalFor(path string) string {
	for _, id := range m.order {
		if m.provisional[id] && m.items[id].SourcePath == path {
			return id
		}
	}
	return ""
}

// ApplyEvent applies one event. Events naming unknown ids are logged and
// reported as *StaleReferenceError without changing anything.
func (m *Mirror) ApplyEvent(evt events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch p := evt.Payload.(type) {
	case events.QueueUpdate:
		m.applyQueueUpdate(p)
	case events.ProcessingUpdate:
		it := m.lookup(p.ID)
		if it == nil {
			return m.stale(p.ID, evt.Kind)
		}
		if it.Status == models.StatusCompleted || it.Status == models.StatusFailed {
			m.log.Debug("ignoring progress for finished item", "item_id", p.ID, "status", it.Status)
			return nil
		}
		progress := min(max(p.Progress, 0), 99)
		it.Progress = max(it.Progress, progress)
		it.Status = models.StatusProcessing
		if p.CurrentStep != "" {
			it.CurrentStep = p.CurrentStep
		}
	case events.ProcessingComplete:
		it := m.lookup(p.ID)
		if it == nil {
			return m.stale(p.ID, evt.Kind)
		}
		it.Status = models.StatusCompleted
		it.Progress = 100
		it.OutputPath = p.OutputPath
		it.CurrentStep = ""
		it.Error = nil
	case events.ProcessingError:
		it := m.lookup(p.ID)
		if it == nil {
			return m.stale(p.ID, evt.Kind)
		}
		e := p.Error
		if e.Message == "" {
			e.Message = "processing failed"
		}
		it.Status = models.StatusFailed
		it.Progress = min(it.Progress, 99)
		it.OutputPath = ""
		it.CurrentStep = ""
		it.Error = &e
	case events.ConnectionChange, events.Heartbeat, events.SystemAlert:
	}
	return nil
}

func (m *Mirror) applyQueueUpdate(p events.QueueUpdate) {
	switch p.Action {
	case events.QueueAdded, events.QueueUpdated:
		for _, it := range p.Items {
			m.mergeLocked(it.Clone())
		}
	case events.QueueRemoved, events.QueueCleared:
		for _, id := range p.RemovedIDs {
			delete(m.removing, id)
			m.deleteLocked(id)
		}
	}
	if p.Stats != nil {
		s := *p.Stats
		m.stats = &s
	}
}

// lookup finds id among visible items and pending removals, so a reverted
// removal shows the latest state.
func (m *Mirror) lookup(id string) *models.QueueItem {
	if it, ok := m.items[id]; ok {
		return it
	}
	if r, ok := m.removing[id]; ok {
		return &r.item
	}
	return nil
}

func (m *Mirror) stale(id string, kind events.Kind) error {
	err := &StaleReferenceError{ID: id, Kind: kind}
	m.log.Warn("stale queue reference", "item_id", id, "kind", kind)
	return err
}

// Remove hides id optimistically. The removal is reverted by Restore or by a
// later snapshot that still contains the id.
func (m *Mirror) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return &StaleReferenceError{ID: id}
	}
	idx := m.indexOf(id)
	if m.provisional[id] {
		m.deleteLocked(id)
		return nil
	}
	m.removing[id] = &removal{item: *it, index: idx}
	m.deleteLocked(id)
	return nil
}

// Restore reverts a pending optimistic removal.
func (m *Mirror) Restore(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.removing[id]
	if !ok {
		return
	}
	delete(m.removing, id)
	m.insertLocked(r.item, r.index)
}

// Reconcile replaces the mirror with an authoritative snapshot. Items only
// on the server are added and local items missing from it are dropped,
// except provisional adds still in flight. A pending removal whose id is
// still in the snapshot is reverted.
func (m *Mirror) Reconcile(snapshot []models.QueueItem) {
	m.mu.Lock()
	defer m.mu.Unlock()

	claimed := make(map[string]bool)
	order := make([]string, 0, len(snapshot)+len(m.provisional))
	items := make(map[string]*models.QueueItem, len(snapshot)+len(m.provisional))

	for _, s := range snapshot {
		it := s.Clone()
		if _, dup := items[it.ID]; dup {
			continue
		}
		_, known := m.items[it.ID]
		_, pending := m.removing[it.ID]
		if !known && !pending {
			m.claimNextProvisional(it.SourcePath, claimed)
		}
		items[it.ID] = &it
		order = append(order, it.ID)
	}

	provisional := make(map[string]bool)
	for _, id := range m.order {
		if m.provisional[id] && !claimed[id] {
			items[id] = m.items[id]
			order = append(order, id)
			provisional[id] = true
		}
	}

	m.items = items
	m.order = order
	m.provisional = provisional
	m.removing = make(map[string]*removal)
	m.stats = nil
}

// claimNextProvisional marks the oldest unclaimed provisional item for path.
func (m *Mirror) claimNextProvisional(path string, claimed map[string]bool) {
	for _, id := range m.order {
		if m.provisional[id] && !claimed[id] && m.items[id].SourcePath == path {
			claimed[id] = true
			return
		}
	}
}

// Items returns a copy of every visible item in display order.
func (m *Mirror) Items() []models.QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.QueueItem, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.items[id].Clone())
	}
	return out
}

// Get returns a copy of the visible item with id.
func (m *Mirror) Get(id string) (models.QueueItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return models.QueueItem{}, false
	}
	return it.Clone(), true
}

// IsProvisional reports whether id is an unconfirmed optimistic add.
func (m *Mirror) IsProvisional(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.provisional[id]
}

// Stats returns the latest server counts received since the last snapshot,
// or counts over the visible items when there are none.
func (m *Mirror) Stats() models.QueueStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stats != nil {
		return *m.stats
	}
	items := make([]models.QueueItem, 0, len(m.order))
	for _, id := range m.order {
		items = append(items, *m.items[id])
	}
	return models.StatsOf(items)
}

func (m *Mirror) indexOf(id string) int {
	for i, cur := range m.order {
		if cur == id {
			return i
		}
	}
	return -1
}

func (m *Mirror) deleteLocked(id string) {
	idx := m.indexOf(id)
	if idx < 0 {
		return
	}
	m.order = append(m.order[:idx], m.order[idx+1:]...)
	delete(m.items, id)
	delete(m.provisional, id)
}

func (m *Mirror) insertLocked(it models.QueueItem, idx int) {
	if _, ok := m.items[it.ID]; ok {
		return
	}
	idx = min(max(idx, 0), len(m.order))
	m.order = append(m.order, "")
	copy(m.order[idx+1:], m.order[idx:])
	m.order[idx] = it.ID
	m.items[it.ID] = &it
}
