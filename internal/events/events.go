package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventSyncCompleted       = "sync_completed"
	EventItemFailed          = "item_failed"
	EventConnectivityOnline  = "connectivity_online"
	EventConnectivityOffline = "connectivity_offline"
)

// SyncSummaryPayload is published after a drain pass for the
// notification surface to display.
type SyncSummaryPayload struct {
	Synced     int       `json:"synced"`
	Failed     int       `json:"failed"`
	FailFast   bool      `json:"fail_fast"`
	FinishedAt time.Time `json:"finished_at"`
}

// ItemFailedPayload carries per-item failure detail.
type ItemFailedPayload struct {
	ItemID    string `json:"item_id"`
	Type      string `json:"type"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error"`
	Exhausted bool   `json:"exhausted"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub. The sync core publishes here and
// never calls into the UI layer directly.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
