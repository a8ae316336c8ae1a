// This file defines the queue data structures shared by the client mirror,
// the request layer and the backend store.

package models

import (
	"fmt"
	"time"
)

// ItemStatus is the lifecycle status of a queue item.
type ItemStatus string

const (
	StatusQueued     ItemStatus = "queued"
	StatusProcessing ItemStatus = "processing"
	StatusCompleted  ItemStatus = "completed"
	StatusFailed     ItemStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s ItemStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// ItemError describes why an item failed.
type ItemError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// QueueItem is one video file tracked through transcription.
type QueueItem struct {
	ID          string     `json:"id"`
	SourcePath  string     `json:"source_path"`
	Status      ItemStatus `json:"status"`
	Progress    int        `json:"progress"`               // 0-100
	CurrentStep string     `json:"current_step,omitempty"` // human readable, optional
	OutputPath  string     `json:"output_path,omitempty"`  // set only when completed
	Error       *ItemError `json:"error,omitempty"`        // set only when failed
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"` // last backend write
}

// Validate checks the status invariants of an item: progress is 100 exactly
// when completed, an output path exists only when completed, and an error
// exists exactly when failed.
func (i QueueItem) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("queue item has no id")
	}
	if !i.Status.Valid() {
		return fmt.Errorf("queue item %s: unknown status %q", i.ID, i.Status)
	}
	if i.Progress < 0 || i.Progress > 100 {
		return fmt.Errorf("queue item %s: progress %d out of range", i.ID, i.Progress)
	}
	completed := i.Status == StatusCompleted
	if completed != (i.Progress == 100) {
		return fmt.Errorf("queue item %s: progress %d does not match status %s", i.ID, i.Progress, i.Status)
	}
	if !completed && i.OutputPath != "" {
		return fmt.Errorf("queue item %s: output path set while %s", i.ID, i.Status)
	}
	if completed && i.OutputPath == "" {
		return fmt.Errorf("queue item %s: completed without output path", i.ID)
	}
	if (i.Status == StatusFailed) != (i.Error != nil) {
		return fmt.Errorf("queue item %s: error presence does not match status %s", i.ID, i.Status)
	}
	return nil
}

// Clone returns a deep copy of the item.
func (i QueueItem) Clone() QueueItem {
	if i.Error != nil {
		e := *i.Error
		i.Error = &e
	}
	return i
}

// QueueStats holds aggregate counts used for summary display.
type QueueStats struct {
	Total      int `json:"total"`
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// StatsOf counts items per status.
func StatsOf(items []QueueItem) QueueStats {
	var s QueueStats
	for _, it := range items {
		s.Total++
		switch it.Status {
		case StatusQueued:
			s.Queued++
		case StatusProcessing:
			s.Processing++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}

// ProcessingState is the backend's processing loop state.
type ProcessingState string

const (
	ProcessingRunning ProcessingState = "running"
	ProcessingPaused  ProcessingState = "paused"
	ProcessingStopped ProcessingState = "stopped"
)

// ProcessingStatus is the processing-status snapshot returned by the backend.
type ProcessingStatus struct {
	State         ProcessingState `json:"state"`
	CurrentItemID string          `json:"current_item_id,omitempty"`
	OutputDir     string          `json:"output_dir,omitempty"`
	Stats         QueueStats      `json:"stats"`
}
