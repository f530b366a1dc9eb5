package events

import (
	"bytes"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()

	var received *Event
	var callCount int

	bus.Subscribe(EventMappingCreated, func(event *Event) error {
		received = event
		callCount++
		return nil
	})

	err := bus.PublishJSON(EventMappingCreated, MappingEventPayload{
		SourceTenant:        "main",
		DestinationTenant:   "shop-1",
		EntityType:          "productfolder",
		SourceEntityID:      "a",
		DestinationEntityID: "b",
	})
	require.NoError(t, err)
	require.Equal(t, 1, callCount)
	assert.Equal(t, EventMappingCreated, received.Type)
	assert.False(t, received.CreatedAt.IsZero())

	var decoded MappingEventPayload
	require.NoError(t, received.Decode(&decoded))
	assert.Equal(t, "shop-1", decoded.DestinationTenant)
	assert.Equal(t, "b", decoded.DestinationEntityID)
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	var count1, count2 int

	bus.Subscribe("event", func(_ *Event) error { count1++; return errors.New("first") })
	bus.Subscribe("event", func(_ *Event) error { count2++; return nil })

	err := bus.Publish(&Event{Type: "event"})

	assert.EqualError(t, err, "first")
	assert.Equal(t, 1, count1)
	assert.Equal(t, 1, count2)
}

func TestEventBusNoSubscribers(t *testing.T) {
	bus := NewEventBus()
	assert.NoError(t, bus.PublishJSON("nobody", map[string]string{"a": "b"}))
}

func TestNilEventBus(t *testing.T) {
	var bus *EventBus
	assert.NoError(t, bus.PublishJSON(EventTaskFailed, TaskEventPayload{TaskID: 1}))
}

func TestPublishJSONMarshalError(t *testing.T) {
	bus := NewEventBus()
	assert.Error(t, bus.PublishJSON("bad", make(chan int)))
}

func TestAuditLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	bus := NewEventBus()
	bus.Subscribe(EventTaskFailed, AuditLogger(&logger))

	require.NoError(t, bus.PublishJSON(EventTaskFailed, TaskEventPayload{TaskID: 7, Error: "boom"}))

	out := buf.String()
	assert.Contains(t, out, `"event":"task_failed"`)
	assert.Contains(t, out, `"task_id":7`)
	assert.Contains(t, out, `"error":"boom"`)
}
