package sync

import (
	"github.com/itadriver/fieldsync/internal/models"
	"github.com/itadriver/fieldsync/internal/sync/queue"
)

// EventType names the engine events observers can subscribe to.
type EventType string

const (
	EventSyncStarted     EventType = "sync.started"
	EventSyncCompleted   EventType = "sync.completed"
	EventSyncFailed      EventType = "sync.failed"
	EventRecordRelocated EventType = "record.relocated"
	EventItemDead        EventType = "sync.item_dead"
)

// Event is one engine notification. Only the fields relevant to the type are
// set; the struct marshals directly onto the WebSocket feed.
type Event struct {
	Type       EventType               `json:"type"`
	At         int64                   `json:"at"`
	Relocation *models.RelocationEvent `json:"relocation,omitempty"`
	Item       *queue.Item             `json:"item,omitempty"`
	Error      string                  `json:"error,omitempty"`
	Synced     int                     `json:"synced,omitempty"`
	Failed     int                     `json:"failed,omitempty"`
}

// EventSink receives engine events. Publish is called from the drain
// goroutine; implementations must not block.
type EventSink interface {
	Publish(Event)
}

// SinkFunc adapts a function to the EventSink interface.
type SinkFunc func(Event)

// Publish calls f.
func (f SinkFunc) Publish(ev Event) { f(ev) }
