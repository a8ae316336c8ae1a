package events

import (
	"bytes"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/vidscribe/internal/models"
)

func TestDecode(t *testing.T) {
	t.Run("processing update", func(t *testing.T) {
		evt, err := Decode([]byte(`{"type":"processing_update","data":{"id":"a1","progress":42,"current_step":"transcribing"}}`))
		require.NoError(t, err)
		assert.Equal(t, KindProcessingUpdate, evt.Kind)
		assert.Equal(t, ProcessingUpdate{ID: "a1", Progress: 42, CurrentStep: "transcribing"}, evt.Payload)
		assert.False(t, evt.ReceivedAt.IsZero())
	})

	t.Run("kind and payload spelling", func(t *testing.T) {
		evt, err := Decode([]byte(`{"kind":"system_alert","payload":{"level":"warn","message":"disk low"}}`))
		require.NoError(t, err)
		assert.Equal(t, SystemAlert{Level: "warn", Message: "disk low"}, evt.Payload)
	})

	t.Run("queue update with items", func(t *testing.T) {
		evt, err := Decode([]byte(`{"type":"queue_update","data":{"action":"added","items":[{"id":"x","source_path":"/v/a.mp4","status":"queued","progress":0}]}}`))
		require.NoError(t, err)
		qu := evt.Payload.(QueueUpdate)
		assert.Equal(t, QueueAdded, qu.Action)
		require.Len(t, qu.Items, 1)
		assert.Equal(t, models.StatusQueued, qu.Items[0].Status)
	})

	t.Run("heartbeat without data", func(t *testing.T) {
		evt, err := Decode([]byte(`{"type":"heartbeat"}`))
		require.NoError(t, err)
		assert.Equal(t, KindHeartbeat, evt.Kind)
	})

	malformed := map[string]string{
		"not json":               `{"type":`,
		"missing type":           `{"data":{}}`,
		"unknown type":           `{"type":"nope","data":{}}`,
		"connection on the wire": `{"type":"connection","data":{}}`,
		"wrong payload shape":    `{"type":"processing_update","data":{"id":"a","progress":"half"}}`,
		"processing without id":  `{"type":"processing_complete","data":{"output_path":"/o.srt"}}`,
	}
	for name, raw := range malformed {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(raw))
			var mf *MalformedFrameError
			assert.True(t, errors.As(err, &mf), "got %v", err)
		})
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	b, err := Encode(ProcessingError{ID: "a1", Error: models.ItemError{Kind: "decode", Message: "bad codec"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"processing_error","data":{"id":"a1","error":{"kind":"decode","message":"bad codec"}}}`, string(b))

	evt, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, "bad codec", evt.Payload.(ProcessingError).Error.Message)

	_, err = Encode(ConnectionChange{State: Connected})
	assert.Error(t, err)
}

func TestRegistryOrderAndPanicIsolation(t *testing.T) {
	var logs bytes.Buffer
	r := NewRegistry(slog.New(slog.NewTextHandler(&logs, nil)))

	var calls []string
	r.On(KindSystemAlert, func(Event) {
		calls = append(calls, "first")
		panic("boom")
	})
	r.On(KindSystemAlert, func(Event) { calls = append(calls, "second") })
	r.On(KindHeartbeat, func(Event) { calls = append(calls, "other kind") })

	r.Dispatch(New(SystemAlert{Message: "hi"}))

	assert.Equal(t, []string{"first", "second"}, calls)
	assert.Contains(t, logs.String(), "event handler panicked")
}

func TestRegistryHandlersGetTheirOwnQueueItems(t *testing.T) {
	r := NewRegistry(nil)
	evt := New(QueueUpdate{
		Action:     QueueAdded,
		Items:      []models.QueueItem{{ID: "a", SourcePath: "/v/a.mp4", Status: models.StatusQueued}},
		RemovedIDs: []string{"b"},
	})

	var seen QueueUpdate
	Subscribe(r, func(u QueueUpdate) {
		u.Items[0].Status = models.StatusFailed
		u.RemovedIDs[0] = "x"
	})
	Subscribe(r, func(u QueueUpdate) { seen = u })
	r.Dispatch(evt)

	require.Len(t, seen.Items, 1)
	assert.Equal(t, models.StatusQueued, seen.Items[0].Status)
	assert.Equal(t, []string{"b"}, seen.RemovedIDs)
	assert.Equal(t, models.StatusQueued, evt.Payload.(QueueUpdate).Items[0].Status)
}

func TestRegistryOff(t *testing.T) {
	r := NewRegistry(nil)
	var a, b int
	subA := r.On(KindHeartbeat, func(Event) { a++ })
	r.On(KindHeartbeat, func(Event) { b++ })

	r.Off(KindHeartbeat, subA)
	r.Dispatch(New(Heartbeat{}))
	assert.Equal(t, 0, a)
	assert.Equal(t, 1, b)

	r.Off(KindHeartbeat)
	r.Dispatch(New(Heartbeat{}))
	assert.Equal(t, 1, b)
	assert.Zero(t, r.Count(KindHeartbeat))

	// Removing something that is not registered is a no-op.
	r.Off(KindQueueUpdate, subA)
}

func TestRegistryHandlerMayUnsubscribeDuringDispatch(t *testing.T) {
	r := NewRegistry(nil)
	var sub Subscription
	var n int
	sub = r.On(KindHeartbeat, func(Event) {
		n++
		r.Off(KindHeartbeat, sub)
	})
	r.Dispatch(New(Heartbeat{}))
	r.Dispatch(New(Heartbeat{}))
	assert.Equal(t, 1, n)
}

func TestSubscribeTyped(t *testing.T) {
	r := NewRegistry(nil)
	var got []ProcessingUpdate
	Subscribe(r, func(p ProcessingUpdate) { got = append(got, p) })

	r.Dispatch(New(ProcessingUpdate{ID: "a", Progress: 10}))
	r.Dispatch(New(ProcessingComplete{ID: "a"}))

	assert.Equal(t, []ProcessingUpdate{{ID: "a", Progress: 10}}, got)
}

func TestRegistryConcurrentUse(t *testing.T) {
	r := NewRegistry(nil)
	var mu sync.Mutex
	n := 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := r.On(KindHeartbeat, func(Event) {
				mu.Lock()
				n++
				mu.Unlock()
			})
			r.Dispatch(New(Heartbeat{}))
			r.Off(KindHeartbeat, s)
		}()
	}
	wg.Wait()
	assert.Positive(t, n)
	assert.Zero(t, r.Count(KindHeartbeat))
}
