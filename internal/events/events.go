package events

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	EventMappingCreated = "mapping_created"
	EventTaskEnqueued   = "task_enqueued"
	EventTaskThrottled  = "task_throttled"
	EventTaskFailed     = "task_failed"
	EventTaskCompleted  = "task_completed"
)

// MappingEventPayload describes a newly persisted source to destination link.
type MappingEventPayload struct {
	SourceTenant        string    `json:"source_tenant"`
	DestinationTenant   string    `json:"destination_tenant"`
	EntityType          string    `json:"entity_type"`
	SourceEntityID      string    `json:"source_entity_id"`
	DestinationEntityID string    `json:"destination_entity_id"`
	Name                string    `json:"name,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

// TaskEventPayload is the minimal task snapshot for event consumers.
type TaskEventPayload struct {
	TaskID      int64     `json:"task_id"`
	TenantKey   string    `json:"tenant_key"`
	EntityType  string    `json:"entity_type"`
	EntityID    string    `json:"entity_id"`
	Operation   string    `json:"operation"`
	Attempts    int       `json:"attempts"`
	Error       string    `json:"error,omitempty"`
	ScheduledAt time.Time `json:"scheduled_at,omitempty"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
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

// Publish notifies subscribers of the event type. Every handler runs; their
// errors are joined.
func (b *EventBus) Publish(event *Event) error {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	var errs []error
	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
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

	return b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
}

// AuditLogger returns a handler writing every event it receives to the logger.
func AuditLogger(logger *zerolog.Logger) EventHandler {
	return func(event *Event) error {
		logger.Info().
			Str("event", event.Type).
			Time("at", event.CreatedAt).
			RawJSON("payload", event.Payload).
			Msg("audit")
		return nil
	}
}
