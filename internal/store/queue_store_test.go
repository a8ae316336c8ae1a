package store_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/vidscribe/internal/models"
	"github.com/vrsandeep/vidscribe/internal/store"
	"github.com/vrsandeep/vidscribe/internal/testutil"
)

type fakeNow struct{ t time.Time }

func (f *fakeNow) now() time.Time { return f.t }

func newStore(t *testing.T) (*store.Store, *fakeNow) {
	t.Helper()
	clock := &fakeNow{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	n := 0
	s := store.New(testutil.SetupTestDB(t),
		store.WithClock(clock.now),
		store.WithIDGenerator(func() string { n++; return fmt.Sprintf("item-%d", n) }),
	)
	return s, clock
}

func TestAddAndListItems(t *testing.T) {
	s, _ := newStore(t)

	added, err := s.AddItems([]string{"/v/b.mp4", "/v/a.mp4"})
	require.NoError(t, err)
	require.Len(t, added, 2)
	assert.Equal(t, "item-1", added[0].ID)
	assert.Equal(t, models.StatusQueued, added[0].Status)

	// Adding an active path again returns the existing item.
	again, err := s.AddItems([]string{"/v/a.mp4", "/v/c.mp4"})
	require.NoError(t, err)
	assert.Equal(t, "item-2", again[0].ID)
	assert.Equal(t, "item-3", again[1].ID)

	items, err := s.ListItems()
	require.NoError(t, err)
	var ids []string
	for _, it := range items {
		ids = append(ids, it.ID)
		assert.NoError(t, it.Validate())
	}
	assert.Equal(t, []string{"item-1", "item-2", "item-3"}, ids, "queue order is insertion order")
}

func TestLifecycle(t *testing.T) {
	s, _ := newStore(t)
	_, err := s.AddItems([]string{"/v/a.mp4", "/v/b.mp4"})
	require.NoError(t, err)

	claimed, err := s.ClaimNext()
	require.NoError(t, err)
	assert.Equal(t, "item-1", claimed.ID)
	assert.Equal(t, models.StatusProcessing, claimed.Status)

	it, err := s.UpdateProgress("item-1", 40, "transcribing")
	require.NoError(t, err)
	assert.Equal(t, 40, it.Progress)
	assert.Equal(t, "transcribing", it.CurrentStep)

	it, err = s.UpdateProgress("item-1", 20, "")
	require.NoError(t, err)
	assert.Equal(t, 40, it.Progress, "progress never goes backwards")

	it, err = s.UpdateProgress("item-1", 100, "")
	require.NoError(t, err)
	assert.Equal(t, 99, it.Progress, "100 is reserved for completion")

	it, err = s.CompleteItem("item-1", "/out/a.txt")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, it.Status)
	assert.Equal(t, 100, it.Progress)
	assert.NoError(t, it.Validate())

	_, err = s.UpdateProgress("item-1", 10, "")
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	_, err = s.ClaimNext()
	require.NoError(t, err)
	it, err = s.FailItem("item-2", "", "")
	require.NoError(t, err)
	require.NotNil(t, it.Error)
	assert.Equal(t, "processing failed", it.Error.Message)
	assert.NoError(t, it.Validate())

	_, err = s.ClaimNext()
	assert.ErrorIs(t, err, store.ErrNoQueuedItems)

	it, err = s.RequeueItem("item-2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, it.Status)
	assert.Nil(t, it.Error)

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, models.QueueStats{Total: 2, Queued: 1, Completed: 1}, st)
}

func TestDeleteAndClear(t *testing.T) {
	s, _ := newStore(t)
	_, err := s.AddItems([]string{"/v/a.mp4", "/v/b.mp4", "/v/c.mp4"})
	require.NoError(t, err)
	_, err = s.ClaimNext()
	require.NoError(t, err)

	assert.ErrorIs(t, s.DeleteItem("item-1"), store.ErrItemBusy)
	assert.ErrorIs(t, s.DeleteItem("missing"), store.ErrItemNotFound)
	require.NoError(t, s.DeleteItem("item-2"))

	removed, err := s.ClearItems("")
	require.NoError(t, err)
	assert.Equal(t, []string{"item-3"}, removed, "the processing item survives a full clear")

	_, err = s.ClearItems(models.StatusProcessing)
	assert.ErrorIs(t, err, store.ErrItemBusy)

	n, err := s.RequeueProcessing()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	it, err := s.GetItem("item-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, it.Status)
}

func TestPruneFinished(t *testing.T) {
	s, clock := newStore(t)
	_, err := s.AddItems([]string{"/v/a.mp4", "/v/b.mp4", "/v/c.mp4"})
	require.NoError(t, err)

	_, err = s.ClaimNext()
	require.NoError(t, err)
	_, err = s.CompleteItem("item-1", "/out/a.txt")
	require.NoError(t, err)

	clock.t = clock.t.Add(48 * time.Hour)
	_, err = s.ClaimNext()
	require.NoError(t, err)
	_, err = s.FailItem("item-2", "decode", "bad stream")
	require.NoError(t, err)

	removed, err := s.PruneFinished(clock.t.Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"item-1"}, removed)

	items, err := s.ListItems()
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestProcessingState(t *testing.T) {
	s, _ := newStore(t)
	st, err := s.GetProcessing()
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingStopped, st.State)

	_, err = s.AddItems([]string{"/v/a.mp4"})
	require.NoError(t, err)
	st, err = s.UpdateProcessing(func(p *models.ProcessingStatus) error {
		p.State = models.ProcessingRunning
		p.OutputDir = "/out"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingRunning, st.State)
	assert.Equal(t, "/out", st.OutputDir)
	assert.Equal(t, 1, st.Stats.Queued)

	_, err = s.UpdateProcessing(func(p *models.ProcessingStatus) error {
		p.State = models.ProcessingPaused
		return store.ErrInvalidTransition
	})
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
	st, err = s.GetProcessing()
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingRunning, st.State, "an aborted update is rolled back")
}

func TestClaimForProcessing(t *testing.T) {
	s, _ := newStore(t)
	_, err := s.AddItems([]string{"/v/a.mp4", "/v/b.mp4"})
	require.NoError(t, err)

	_, _, err = s.ClaimForProcessing()
	assert.ErrorIs(t, err, store.ErrNotRunning)

	_, err = s.UpdateProcessing(func(p *models.ProcessingStatus) error {
		p.State = models.ProcessingRunning
		return nil
	})
	require.NoError(t, err)

	it, st, err := s.ClaimForProcessing()
	require.NoError(t, err)
	assert.Equal(t, "item-1", it.ID)
	assert.Equal(t, models.StatusProcessing, it.Status)
	assert.Equal(t, "item-1", st.CurrentItemID)
	assert.Equal(t, 1, st.Stats.Processing)

	_, _, err = s.ClaimForProcessing()
	assert.ErrorIs(t, err, store.ErrWorkerBusy)

	_, err = s.CompleteItem("item-1", "/out/a.txt")
	require.NoError(t, err)
	_, err = s.UpdateProcessing(func(p *models.ProcessingStatus) error {
		p.CurrentItemID = ""
		return nil
	})
	require.NoError(t, err)
	it, _, err = s.ClaimForProcessing()
	require.NoError(t, err)
	assert.Equal(t, "item-2", it.ID)

	_, err = s.FailItem("item-2", "", "")
	require.NoError(t, err)
	_, err = s.UpdateProcessing(func(p *models.ProcessingStatus) error {
		p.CurrentItemID = ""
		return nil
	})
	require.NoError(t, err)
	_, _, err = s.ClaimForProcessing()
	assert.ErrorIs(t, err, store.ErrNoQueuedItems)
}
