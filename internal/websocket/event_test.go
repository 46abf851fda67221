package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	payload := map[string]interface{}{
		"id":     1,
		"amount": "12000.00",
	}

	before := time.Now()
	evt := NewEvent(EventTypeCreated, EntityTypeCollection, payload, 4)
	after := time.Now()

	assert.Equal(t, "collection.created", evt.Type)
	assert.Equal(t, EntityTypeCollection, evt.Entity)
	assert.Equal(t, []int32{4}, evt.BillingGroupIDs)
	assert.Equal(t, payload, evt.Payload)
	assert.True(t, !evt.Timestamp.Before(before) && !evt.Timestamp.After(after))
}

func TestEvent_JSON_Serialization(t *testing.T) {
	fixedTime := time.Date(2025, 7, 15, 10, 30, 0, 0, time.UTC)
	evt := Event{
		Type:            "collection.updated",
		Entity:          EntityTypeCollection,
		BillingGroupIDs: []int32{1, 2},
		Payload:         map[string]interface{}{"id": float64(1), "amount": "15000.00"},
		Timestamp:       fixedTime,
	}

	data, err := evt.ToJSON()
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, evt.Type, decoded.Type)
	assert.Equal(t, evt.Entity, decoded.Entity)
	assert.Equal(t, []int32{1, 2}, decoded.BillingGroupIDs)
	assert.Equal(t, fixedTime, decoded.Timestamp.UTC())

	decodedPayload, ok := decoded.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "15000.00", decodedPayload["amount"])
}

func TestEvent_SiteWideOmitsGroups(t *testing.T) {
	data, err := DuesGenerated(map[string]interface{}{"period": "2025-2026"}).ToJSON()
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "dues.generated", decoded["type"])
	assert.Equal(t, "dues", decoded["entity"])
	_, hasGroups := decoded["billingGroupIds"]
	assert.False(t, hasGroups)
}

func TestEvent_Touches(t *testing.T) {
	siteWide := DuesDeleted(nil)
	assert.True(t, siteWide.Touches(1))
	assert.True(t, siteWide.Touches(99))

	scoped := CollectionDeleted(nil, 1, 3)
	assert.True(t, scoped.Touches(1))
	assert.True(t, scoped.Touches(3))
	assert.False(t, scoped.Touches(2))
}

func TestEvent_Helpers(t *testing.T) {
	payload := map[string]interface{}{"id": float64(1)}

	tests := []struct {
		name   string
		evt    Event
		typ    string
		entity EntityType
	}{
		{"DuesGenerated", DuesGenerated(payload), "dues.generated", EntityTypeDues},
		{"DuesDeleted", DuesDeleted(payload), "dues.deleted", EntityTypeDues},
		{"CollectionCreated", CollectionCreated(payload, 1), "collection.created", EntityTypeCollection},
		{"CollectionUpdated", CollectionUpdated(payload, 1), "collection.updated", EntityTypeCollection},
		{"CollectionDeleted", CollectionDeleted(payload, 1), "collection.deleted", EntityTypeCollection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.typ, tt.evt.Type)
			assert.Equal(t, tt.entity, tt.evt.Entity)
			assert.Equal(t, payload, tt.evt.Payload)
		})
	}
}

func TestWantsEvent(t *testing.T) {
	assert.True(t, wantsEvent(nil, CollectionCreated(nil, 5)))
	assert.True(t, wantsEvent(map[int32]bool{5: true}, CollectionCreated(nil, 5)))
	assert.False(t, wantsEvent(map[int32]bool{6: true}, CollectionCreated(nil, 5)))
	assert.True(t, wantsEvent(map[int32]bool{6: true}, DuesGenerated(nil)))
}
