package websocket

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockClient is a test double for Client that captures sent messages
type mockClient struct {
	id       string
	groups   map[int32]bool
	messages [][]byte
	mu       sync.Mutex
	closed   bool
}

func newMockClient(id string, groupIDs ...int32) *mockClient {
	var groups map[int32]bool
	if len(groupIDs) > 0 {
		groups = make(map[int32]bool)
		for _, g := range groupIDs {
			groups[g] = true
		}
	}
	return &mockClient{
		id:       id,
		groups:   groups,
		messages: make([][]byte, 0),
	}
}

func (m *mockClient) ID() string {
	return m.id
}

func (m *mockClient) Wants(event Event) bool {
	return wantsEvent(m.groups, event)
}

func (m *mockClient) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClientClosed
	}
	m.messages = append(m.messages, data)
	return nil
}

func (m *mockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockClient) GetMessages() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := make([][]byte, len(m.messages))
	copy(copied, m.messages)
	return copied
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := NewHub()

	client1 := newMockClient("client-1")
	client2 := newMockClient("client-2", 7)

	hub.Register(client1)
	hub.Register(client2)
	assert.Equal(t, 2, hub.ClientCount())

	hub.Unregister(client1)
	assert.Equal(t, 1, hub.ClientCount())

	hub.Unregister(client2)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHub_Broadcast_GroupFilter(t *testing.T) {
	hub := NewHub()

	everything := newMockClient("all")
	group1 := newMockClient("group-1", 1)
	group2 := newMockClient("group-2", 2)

	hub.Register(everything)
	hub.Register(group1)
	hub.Register(group2)

	hub.Broadcast(CollectionCreated(map[string]interface{}{"id": float64(42)}, 1))

	// Give goroutines time to process
	time.Sleep(10 * time.Millisecond)

	assert.Len(t, everything.GetMessages(), 1)
	assert.Len(t, group1.GetMessages(), 1)
	assert.Len(t, group2.GetMessages(), 0, "group 2 subscriber should not see group 1 collections")
}

func TestHub_Broadcast_SiteWideEventReachesEveryone(t *testing.T) {
	hub := NewHub()

	clients := make([]*mockClient, 5)
	for i := 0; i < 5; i++ {
		clients[i] = newMockClient(fmt.Sprintf("client-%d", i), int32(i))
		hub.Register(clients[i])
	}

	hub.Broadcast(DuesGenerated(map[string]interface{}{"period": "2025-2026"}))

	time.Sleep(10 * time.Millisecond)

	for i, c := range clients {
		assert.Len(t, c.GetMessages(), 1, "client %d should receive message", i)
	}
}

func TestHub_ConcurrentAccess(t *testing.T) {
	hub := NewHub()

	var wg sync.WaitGroup
	clientCount := 50

	clients := make([]*mockClient, clientCount)
	for i := 0; i < clientCount; i++ {
		clients[i] = newMockClient(fmt.Sprintf("client-%d", i), int32(i%5))
	}

	for i := 0; i < clientCount; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			hub.Register(clients[idx])
		}(i)
	}

	wg.Wait()
	assert.Equal(t, clientCount, hub.ClientCount())

	// Concurrently broadcast and unregister
	for i := 0; i < clientCount; i++ {
		wg.Add(2)
		go func(idx int) {
			defer wg.Done()
			hub.Broadcast(CollectionUpdated(map[string]interface{}{"id": float64(idx)}, int32(idx%5)))
		}(i)
		go func(idx int) {
			defer wg.Done()
			hub.Unregister(clients[idx])
		}(i)
	}

	wg.Wait()
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHub_UnregisterNonexistent(t *testing.T) {
	hub := NewHub()

	require.NotPanics(t, func() {
		hub.Unregister(newMockClient("client-1"))
	})
}

func TestHub_BroadcastWithoutClients(t *testing.T) {
	hub := NewHub()

	require.NotPanics(t, func() {
		hub.Broadcast(DuesDeleted(map[string]interface{}{"period": "2025-2026"}))
	})
}
