package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQueueItemValidate(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		item    QueueItem
		wantErr bool
	}{
		{"queued", QueueItem{ID: "a", Status: StatusQueued, CreatedAt: now}, false},
		{"processing", QueueItem{ID: "a", Status: StatusProcessing, Progress: 40}, false},
		{"completed", QueueItem{ID: "a", Status: StatusCompleted, Progress: 100, OutputPath: "/out/a.srt"}, false},
		{"failed", QueueItem{ID: "a", Status: StatusFailed, Progress: 12, Error: &ItemError{Kind: "decode", Message: "bad stream"}}, false},
		{"missing id", QueueItem{Status: StatusQueued}, true},
		{"unknown status", QueueItem{ID: "a", Status: "paused"}, true},
		{"completed without 100", QueueItem{ID: "a", Status: StatusCompleted, Progress: 90, OutputPath: "/x"}, true},
		{"100 while processing", QueueItem{ID: "a", Status: StatusProcessing, Progress: 100}, true},
		{"completed without output", QueueItem{ID: "a", Status: StatusCompleted, Progress: 100}, true},
		{"output while queued", QueueItem{ID: "a", Status: StatusQueued, OutputPath: "/x"}, true},
		{"failed without error", QueueItem{ID: "a", Status: StatusFailed}, true},
		{"error while queued", QueueItem{ID: "a", Status: StatusQueued, Error: &ItemError{Message: "x"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.item.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStatsOf(t *testing.T) {
	items := []QueueItem{
		{Status: StatusQueued}, {Status: StatusQueued}, {Status: StatusProcessing},
		{Status: StatusCompleted}, {Status: StatusFailed},
	}
	assert.Equal(t, QueueStats{Total: 5, Queued: 2, Processing: 1, Completed: 1, Failed: 1}, StatsOf(items))
}

func TestCloneCopiesError(t *testing.T) {
	orig := QueueItem{ID: "a", Status: StatusFailed, Error: &ItemError{Message: "boom"}}
	c := orig.Clone()
	c.Error.Message = "changed"
	assert.Equal(t, "boom", orig.Error.Message)
}
