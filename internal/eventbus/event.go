// Package eventbus broadcasts config state transitions to subscribers (the
// operator dashboard's websocket connections), adapted from the teacher's
// internal/realtime package: same buffered-channel-plus-broadcast-worker
// shape, repurposed from alert/silence events to config lifecycle events.
package eventbus

import (
	"time"

	"github.com/google/uuid"
)

// Event is one observable config lifecycle transition.
type Event struct {
	Type      string         `json:"type"`
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
	Sequence  int64          `json:"sequence"`
}

// Event type constants. internal/adminapi's Router publishes the first five
// after successful admin commands; poker cooldowns publish no event, and
// nothing in this tree publishes EventWorkerStarted.
const (
	EventConfigLoaded    = "config_loaded"
	EventConfigDiscarded = "config_discarded"
	EventConfigUsed      = "config_used"
	EventStateChanged    = "state_changed"
	EventLabelUpdated    = "label_updated"
	EventWorkerStarted   = "worker_started"
)

// NewEvent stamps a fresh event with a random ID and the current time. The
// sequence number is assigned by the bus on publish, not here.
func NewEvent(eventType, name string, data map[string]any) Event {
	return Event{
		Type:      eventType,
		ID:        uuid.NewString(),
		Name:      name,
		Data:      data,
		Timestamp: time.Now(),
	}
}
