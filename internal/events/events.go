// Package events defines the event kinds delivered over the event stream and
// a typed publish/subscribe registry for them.
package events

import (
	"slices"
	"time"

	"github.com/vrsandeep/vidscribe/internal/models"
)

// Kind names an event kind on the wire.
type Kind string

const (
	KindQueueUpdate        Kind = "queue_update"
	KindProcessingUpdate   Kind = "processing_update"
	KindProcessingComplete Kind = "processing_complete"
	KindProcessingError    Kind = "processing_error"
	KindSystemAlert        Kind = "system_alert"
	KindHeartbeat          Kind = "heartbeat"

	// KindConnection is the pseudo-kind for connection-state changes. It is
	// produced locally and never appears on the wire.
	KindConnection Kind = "connection"
)

// Payload is implemented by every kind-specific record. The set is closed:
// only this package defines payloads.
type Payload interface {
	Kind() Kind
	payload()
}

// Event is one delivered event. It is immutable once constructed.
type Event struct {
	Kind       Kind
	Payload    Payload
	ReceivedAt time.Time
}

// New wraps p in an Event received now.
func New(p Payload) Event {
	return Event{Kind: p.Kind(), Payload: p, ReceivedAt: time.Now()}
}

// copy gives each handler its own QueueUpdate slices.
func (e Event) copy() Event {
	u, ok := e.Payload.(QueueUpdate)
	if !ok {
		return e
	}
	if u.Items != nil {
		items := make([]models.QueueItem, len(u.Items))
		for i, it := range u.Items {
			items[i] = it.Clone()
		}
		u.Items = items
	}
	u.RemovedIDs = slices.Clone(u.RemovedIDs)
	if u.Stats != nil {
		st := *u.Stats
		u.Stats = &st
	}
	e.Payload = u
	return e
}

// QueueAction says what changed in a QueueUpdate.
type QueueAction string

const (
	QueueAdded   QueueAction = "added"
	QueueUpdated QueueAction = "updated"
	QueueRemoved QueueAction = "removed"
	QueueCleared QueueAction = "cleared"
	QueueStats   QueueAction = "stats"
)

// QueueUpdate announces queue membership changes and aggregate counts.
type QueueUpdate struct {
	Action     QueueAction        `json:"action"`
	Items      []models.QueueItem `json:"items,omitempty"`
	RemovedIDs []string           `json:"removed_ids,omitempty"`
	Stats      *models.QueueStats `json:"stats,omitempty"`
}

// ProcessingUpdate reports progress on one item.
type ProcessingUpdate struct {
	ID          string `json:"id"`
	Progress    int    `json:"progress"`
	CurrentStep string `json:"current_step,omitempty"`
}

// ProcessingComplete reports that an item finished.
type ProcessingComplete struct {
	ID         string `json:"id"`
	OutputPath string `json:"output_path"`
}

// ProcessingError reports that an item failed.
type ProcessingError struct {
	ID    string           `json:"id"`
	Error models.ItemError `json:"error"`
}

// SystemAlert is a backend notice meant for the user.
type SystemAlert struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Heartbeat is the keep-alive frame sent on a fixed period while connected.
type Heartbeat struct {
	Timestamp time.Time `json:"timestamp"`
}

// ConnectionChange is the payload of the connection pseudo-kind.
type ConnectionChange struct {
	State ConnectionState
	At    time.Time
}

func (QueueUpdate) Kind() Kind        { return KindQueueUpdate }
func (ProcessingUpdate) Kind() Kind   { return KindProcessingUpdate }
func (ProcessingComplete) Kind() Kind { return KindProcessingComplete }
func (ProcessingError) Kind() Kind    { return KindProcessingError }
func (SystemAlert) Kind() Kind        { return KindSystemAlert }
func (Heartbeat) Kind() Kind          { return KindHeartbeat }
func (ConnectionChange) Kind() Kind   { return KindConnection }

func (QueueUpdate) payload()        {}
func (ProcessingUpdate) payload()   {}
func (ProcessingComplete) payload() {}
func (ProcessingError) payload()    {}
func (SystemAlert) payload()        {}
func (Heartbeat) payload()          {}
func (ConnectionChange) payload()   {}

// ConnectionState is the state of the event transport.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Error
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Error:
		return "error"
	}
	return "unknown"
}
