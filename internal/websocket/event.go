package websocket

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType represents what happened to an entity
type EventType string

const (
	EventTypeCreated   EventType = "created"
	EventTypeUpdated   EventType = "updated"
	EventTypeDeleted   EventType = "deleted"
	EventTypeGenerated EventType = "generated"
)

// EntityType represents the type of entity the event is about
type EntityType string

const (
	EntityTypeDues       EntityType = "dues"
	EntityTypeCollection EntityType = "collection"
)

// Event represents a WebSocket event message sent to clients
// Format: { type, entity, billingGroupIds, payload, timestamp }
type Event struct {
	Type            string      `json:"type"`                      // Combined type e.g. "collection.created"
	Entity          EntityType  `json:"entity"`                    // Entity type e.g. "collection"
	BillingGroupIDs []int32     `json:"billingGroupIds,omitempty"` // Groups whose ledger changed, empty means site-wide
	Payload         interface{} `json:"payload"`
	Timestamp       time.Time   `json:"timestamp"`
}

// NewEvent creates a new event with the given type, entity, and payload
func NewEvent(eventType EventType, entityType EntityType, payload interface{}, groupIDs ...int32) Event {
	return Event{
		Type:            fmt.Sprintf("%s.%s", entityType, eventType),
		Entity:          entityType,
		BillingGroupIDs: groupIDs,
		Payload:         payload,
		Timestamp:       time.Now().UTC(),
	}
}

// ToJSON serializes the event to JSON bytes
func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// Touches reports whether the event concerns the billing group. Site-wide events touch every group.
func (e Event) Touches(groupID int32) bool {
	if len(e.BillingGroupIDs) == 0 {
		return true
	}
	for _, id := range e.BillingGroupIDs {
		if id == groupID {
			return true
		}
	}
	return false
}

// DuesGenerated creates a dues.generated event
func DuesGenerated(payload interface{}, groupIDs ...int32) Event {
	return NewEvent(EventTypeGenerated, EntityTypeDues, payload, groupIDs...)
}

// DuesDeleted creates a dues.deleted event
func DuesDeleted(payload interface{}, groupIDs ...int32) Event {
	return NewEvent(EventTypeDeleted, EntityTypeDues, payload, groupIDs...)
}

// CollectionCreated creates a collection.created event
func CollectionCreated(payload interface{}, groupIDs ...int32) Event {
	return NewEvent(EventTypeCreated, EntityTypeCollection, payload, groupIDs...)
}

// CollectionUpdated creates a collection.updated event
func CollectionUpdated(payload interface{}, groupIDs ...int32) Event {
	return NewEvent(EventTypeUpdated, EntityTypeCollection, payload, groupIDs...)
}

// CollectionDeleted creates a collection.deleted event
func CollectionDeleted(payload interface{}, groupIDs ...int32) Event {
	return NewEvent(EventTypeDeleted, EntityTypeCollection, payload, groupIDs...)
}
