package mirror

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/vidscribe/internal/clock"
	"github.com/vrsandeep/vidscribe/internal/events"
	"github.com/vrsandeep/vidscribe/internal/models"
)

func newTestMirror(ids ...string) *Mirror {
	n := 0
	return New(
		WithIDGenerator(func() string {
			if n < len(ids) {
				n++
				return ids[n-1]
			}
			n++
			return fmt.Sprintf("local-%d", n)
		}),
		WithClock(clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))),
	)
}

func item(id, path string, status models.ItemStatus) models.QueueItem {
	it := models.QueueItem{ID: id, SourcePath: path, Status: status}
	switch status {
	case models.StatusCompleted:
		it.Progress = 100
		it.OutputPath = path + ".srt"
	case models.StatusProcessing:
		it.Progress = 40
	case models.StatusFailed:
		it.Error = &models.ItemError{Kind: "decode", Message: "bad input"}
	}
	return it
}

func ids(items []models.QueueItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestOptimisticAddResolvedByQueueUpdate(t *testing.T) {
	m := newTestMirror("not-yet-assigned")
	added := m.AddOptimistic([]string{"/videos/talk.mp4"})
	require.Len(t, added, 1)
	assert.Equal(t, "not-yet-assigned", added[0].ID)
	assert.Equal(t, models.StatusQueued, added[0].Status)
	assert.True(t, m.IsProvisional("not-yet-assigned"))

	err := m.ApplyEvent(events.New(events.QueueUpdate{
		Action: events.QueueAdded,
		Items:  []models.QueueItem{item("srv-1", "/videos/talk.mp4", models.StatusQueued)},
	}))
	require.NoError(t, err)

	items := m.Items()
	require.Len(t, items, 1, "no duplicate after the server confirms")
	assert.Equal(t, "srv-1", items[0].ID)
	assert.Equal(t, models.StatusQueued, items[0].Status)
	assert.False(t, m.IsProvisional("srv-1"))

	// The request response carrying the same item is idempotent.
	m.Merge([]models.QueueItem{item("srv-1", "/videos/talk.mp4", models.StatusQueued)})
	assert.Len(t, m.Items(), 1)
}

func TestOptimisticAddSamePathMatchedOldestFirst(t *testing.T) {
	m := newTestMirror("p1", "p2")
	m.AddOptimistic([]string{"/v/a.mp4", "/v/a.mp4"})

	m.Merge([]models.QueueItem{item("s1", "/v/a.mp4", models.StatusQueued)})
	assert.Equal(t, []string{"s1", "p2"}, ids(m.Items()))

	m.Merge([]models.QueueItem{item("s2", "/v/a.mp4", models.StatusQueued)})
	assert.Equal(t, []string{"s1", "s2"}, ids(m.Items()))
}

func TestReAddOfActivePathResolvesToExistingItem(t *testing.T) {
	m := newTestMirror("p1", "p2")
	m.Merge([]models.QueueItem{item("srv-1", "/v/a.mp4", models.StatusQueued)})

	m.AddOptimistic([]string{"/v/a.mp4"})
	require.Len(t, m.Items(), 2)

	// The backend answers a re-add of a queued path with the existing item.
	m.Merge([]models.QueueItem{item("srv-1", "/v/a.mp4", models.StatusQueued)})
	assert.Equal(t, []string{"srv-1"}, ids(m.Items()))

	m.Reconcile([]models.QueueItem{item("srv-1", "/v/a.mp4", models.StatusQueued)})
	assert.Equal(t, []string{"srv-1"}, ids(m.Items()))
	assert.False(t, m.IsProvisional("p1"))
}

func TestReAddOfFinishedPathKeepsProvisional(t *testing.T) {
	m := newTestMirror("p1")
	m.Merge([]models.QueueItem{item("srv-1", "/v/a.mp4", models.StatusCompleted)})
	m.AddOptimistic([]string{"/v/a.mp4"})

	m.Merge([]models.QueueItem{item("srv-1", "/v/a.mp4", models.StatusCompleted)})
	assert.Equal(t, []string{"srv-1", "p1"}, ids(m.Items()))

	m.Merge([]models.QueueItem{item("srv-2", "/v/a.mp4", models.StatusQueued)})
	assert.Equal(t, []string{"srv-1", "srv-2"}, ids(m.Items()))
}

func TestDiscardOnlyDropsProvisional(t *testing.T) {
	m := newTestMirror("p1")
	m.Merge([]models.QueueItem{item("s1", "/v/x.mp4", models.StatusQueued)})
	m.AddOptimistic([]string{"/v/y.mp4"})

	m.Discard("p1", "s1")
	assert.Equal(t, []string{"s1"}, ids(m.Items()))
}

func TestApplyProcessingEvents(t *testing.T) {
	m := newTestMirror()
	m.Merge([]models.QueueItem{
		item("a", "/v/a.mp4", models.StatusQueued),
		item("b", "/v/b.mp4", models.StatusQueued),
	})

	require.NoError(t, m.ApplyEvent(events.New(events.ProcessingUpdate{ID: "a", Progress: 30, CurrentStep: "extracting audio"})))
	a, _ := m.Get("a")
	assert.Equal(t, models.StatusProcessing, a.Status)
	assert.Equal(t, 30, a.Progress)
	assert.Equal(t, "extracting audio", a.CurrentStep)

	require.NoError(t, m.ApplyEvent(events.New(events.ProcessingUpdate{ID: "a", Progress: 10})))
	a, _ = m.Get("a")
	assert.Equal(t, 30, a.Progress, "progress never moves backwards")

	require.NoError(t, m.ApplyEvent(events.New(events.ProcessingUpdate{ID: "a", Progress: 250})))
	a, _ = m.Get("a")
	assert.Equal(t, 99, a.Progress, "only completion reaches 100")

	require.NoError(t, m.ApplyEvent(events.New(events.ProcessingComplete{ID: "a", OutputPath: "/out/a.srt"})))
	a, _ = m.Get("a")
	assert.Equal(t, models.StatusCompleted, a.Status)
	assert.Equal(t, 100, a.Progress)
	assert.Equal(t, "/out/a.srt", a.OutputPath)
	assert.NoError(t, a.Validate())

	require.NoError(t, m.ApplyEvent(events.New(events.ProcessingUpdate{ID: "a", Progress: 50})))
	a, _ = m.Get("a")
	assert.Equal(t, models.StatusCompleted, a.Status, "late progress does not reopen a finished item")

	require.NoError(t, m.ApplyEvent(events.New(events.ProcessingError{
		ID:    "b",
		Error: models.ItemError{Kind: "whisper", Message: "model not found"},
	})))
	b, _ := m.Get("b")
	assert.Equal(t, models.StatusFailed, b.Status)
	require.NotNil(t, b.Error)
	assert.Equal(t, "model not found", b.Error.Message)
	assert.Empty(t, b.OutputPath)
	assert.NoError(t, b.Validate())
}

func TestProcessingErrorWithoutMessage(t *testing.T) {
	m := newTestMirror()
	m.Merge([]models.QueueItem{item("a", "/v/a.mp4", models.StatusProcessing)})
	require.NoError(t, m.ApplyEvent(events.New(events.ProcessingError{ID: "a"})))
	a, _ := m.Get("a")
	require.NotNil(t, a.Error)
	assert.NotEmpty(t, a.Error.Message)
}

func TestApplyEventUnknownIDIsStale(t *testing.T) {
	m := newTestMirror()
	m.Merge([]models.QueueItem{item("a", "/v/a.mp4", models.StatusQueued)})
	before := m.Items()

	for _, p := range []events.Payload{
		events.ProcessingUpdate{ID: "ghost", Progress: 10},
		events.ProcessingComplete{ID: "ghost", OutputPath: "/o.srt"},
		events.ProcessingError{ID: "ghost"},
	} {
		err := m.ApplyEvent(events.New(p))
		var stale *StaleReferenceError
		require.True(t, errors.As(err, &stale), "%T", p)
		assert.Equal(t, "ghost", stale.ID)
	}
	assert.Equal(t, before, m.Items())
}

func TestQueueUpdateRemovedAndStats(t *testing.T) {
	m := newTestMirror()
	m.Merge([]models.QueueItem{
		item("a", "/v/a.mp4", models.StatusCompleted),
		item("b", "/v/b.mp4", models.StatusQueued),
	})
	assert.Equal(t, models.QueueStats{Total: 2, Queued: 1, Completed: 1}, m.Stats())

	stats := models.QueueStats{Total: 1, Queued: 1}
	require.NoError(t, m.ApplyEvent(events.New(events.QueueUpdate{
		Action:     events.QueueCleared,
		RemovedIDs: []string{"a"},
		Stats:      &stats,
	})))
	assert.Equal(t, []string{"b"}, ids(m.Items()))
	assert.Equal(t, stats, m.Stats())

	m.Reconcile([]models.QueueItem{item("b", "/v/b.mp4", models.StatusQueued), item("c", "/v/c.mp4", models.StatusFailed)})
	assert.Equal(t, models.QueueStats{Total: 2, Queued: 1, Failed: 1}, m.Stats(), "a snapshot supersedes older counts")
}

func TestReconcileAfterReconnect(t *testing.T) {
	m := newTestMirror()
	m.Merge([]models.QueueItem{
		item("A", "/v/a.mp4", models.StatusProcessing),
		item("C", "/v/c.mp4", models.StatusQueued),
	})

	m.Reconcile([]models.QueueItem{
		item("A", "/v/a.mp4", models.StatusCompleted),
		item("B", "/v/b.mp4", models.StatusQueued),
	})

	items := m.Items()
	assert.Equal(t, []string{"A", "B"}, ids(items))
	assert.Equal(t, models.StatusCompleted, items[0].Status)
	assert.Equal(t, models.StatusQueued, items[1].Status)
}

func TestQueueUpdateOlderThanSnapshotIsIgnored(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	at := func(it models.QueueItem, d time.Duration) models.QueueItem {
		it.UpdatedAt = t0.Add(d)
		return it
	}
	m := newTestMirror()
	m.Reconcile([]models.QueueItem{at(item("A", "/v/a.mp4", models.StatusProcessing), 2*time.Second)})

	// Sent before the snapshot was taken, delivered after it.
	require.NoError(t, m.ApplyEvent(events.New(events.QueueUpdate{
		Action: events.QueueUpdated,
		Items:  []models.QueueItem{at(item("A", "/v/a.mp4", models.StatusQueued), time.Second)},
	})))
	got, ok := m.Get("A")
	require.True(t, ok)
	assert.Equal(t, models.StatusProcessing, got.Status)

	// A later requeue still applies.
	require.NoError(t, m.ApplyEvent(events.New(events.QueueUpdate{
		Action: events.QueueUpdated,
		Items:  []models.QueueItem{at(item("A", "/v/a.mp4", models.StatusQueued), 3*time.Second)},
	})))
	got, _ = m.Get("A")
	assert.Equal(t, models.StatusQueued, got.Status)
}

func TestReconcileKeepsInFlightOptimisticAdds(t *testing.T) {
	m := newTestMirror("p1", "p2")
	m.Merge([]models.QueueItem{item("A", "/v/a.mp4", models.StatusQueued)})
	m.AddOptimistic([]string{"/v/new.mp4", "/v/other.mp4"})

	m.Reconcile([]models.QueueItem{
		item("A", "/v/a.mp4", models.StatusQueued),
		item("S", "/v/new.mp4", models.StatusQueued),
	})

	assert.Equal(t, []string{"A", "S", "p2"}, ids(m.Items()))
	assert.True(t, m.IsProvisional("p2"))
	assert.False(t, m.IsProvisional("S"))
}

func TestRemoveRevertedBySnapshot(t *testing.T) {
	m := newTestMirror()
	m.Merge([]models.QueueItem{
		item("a", "/v/a.mp4", models.StatusQueued),
		item("b", "/v/b.mp4", models.StatusQueued),
	})

	require.NoError(t, m.Remove("a"))
	assert.Equal(t, []string{"b"}, ids(m.Items()))

	m.Reconcile([]models.QueueItem{
		item("a", "/v/a.mp4", models.StatusQueued),
		item("b", "/v/b.mp4", models.StatusQueued),
	})
	assert.Equal(t, []string{"a", "b"}, ids(m.Items()), "the server still has it")
}

func TestRemoveConfirmedBySnapshot(t *testing.T) {
	m := newTestMirror()
	m.Merge([]models.QueueItem{item("a", "/v/a.mp4", models.StatusQueued)})
	require.NoError(t, m.Remove("a"))

	m.Reconcile(nil)
	assert.Empty(t, m.Items())
	m.Restore("a")
	assert.Empty(t, m.Items(), "nothing left to restore once confirmed")
}

func TestRestoreKeepsPositionAndLatestState(t *testing.T) {
	m := newTestMirror()
	m.Merge([]models.QueueItem{
		item("a", "/v/a.mp4", models.StatusQueued),
		item("b", "/v/b.mp4", models.StatusQueued),
		item("c", "/v/c.mp4", models.StatusQueued),
	})
	require.NoError(t, m.Remove("b"))
	require.NoError(t, m.ApplyEvent(events.New(events.ProcessingUpdate{ID: "b", Progress: 12})))

	m.Restore("b")
	assert.Equal(t, []string{"a", "b", "c"}, ids(m.Items()))
	b, _ := m.Get("b")
	assert.Equal(t, 12, b.Progress)

	var stale *StaleReferenceError
	assert.ErrorAs(t, m.Remove("zzz"), &stale)
}

type stubFetcher struct {
	items []models.QueueItem
	err   error
	calls int
}

func (s *stubFetcher) Queue(context.Context) ([]models.QueueItem, error) {
	s.calls++
	return s.items, s.err
}

func TestSyncReconcilesOnConnected(t *testing.T) {
	reg := events.NewRegistry(nil)
	m := newTestMirror()
	m.Merge([]models.QueueItem{
		item("A", "/v/a.mp4", models.StatusProcessing),
		item("C", "/v/c.mp4", models.StatusQueued),
	})
	fetch := &stubFetcher{items: []models.QueueItem{
		item("A", "/v/a.mp4", models.StatusCompleted),
		item("B", "/v/b.mp4", models.StatusQueued),
	}}
	s := NewSync(reg, m, fetch, nil)

	reg.Dispatch(events.New(events.ConnectionChange{State: events.Connecting}))
	assert.Zero(t, fetch.calls)

	reg.Dispatch(events.New(events.ConnectionChange{State: events.Connected}))
	assert.Equal(t, 1, fetch.calls)
	assert.Equal(t, []string{"A", "B"}, ids(m.Items()))

	reg.Dispatch(events.New(events.ProcessingUpdate{ID: "B", Progress: 20}))
	b, _ := m.Get("B")
	assert.Equal(t, models.StatusProcessing, b.Status)

	fetch.err = errors.New("backend down")
	reg.Dispatch(events.New(events.ConnectionChange{State: events.Connected}))
	assert.Equal(t, []string{"A", "B"}, ids(m.Items()), "a failed fetch leaves the mirror alone")

	s.Close()
	assert.Zero(t, reg.Count(events.KindConnection))
	assert.Zero(t, reg.Count(events.KindProcessingUpdate))
}
