package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return Event{}
	}
}

func TestHubRoutesByTopic(t *testing.T) {
	h := NewHub()

	warehouse, cancelW := h.Subscribe(TopicWarehouse, 4)
	defer cancelW()
	admin, cancelA := h.Subscribe(TopicAdmin, 4)
	defer cancelA()

	h.NotifyWarehouse("o1", map[string]string{"userId": "u1"})

	ev := recv(t, warehouse)
	assert.Equal(t, EventWarehouseOrder, ev.Name)
	assert.Equal(t, "o1", ev.OrderID)
	assert.Equal(t, "u1", ev.Data["userId"])

	select {
	case ev := <-admin:
		t.Fatalf("admin should not see warehouse events, got %v", ev)
	default:
	}
}

func TestHubScopedRiderDelivery(t *testing.T) {
	h := NewHub()

	all, cancelAll := h.Subscribe(TopicRider, 4)
	defer cancelAll()
	one, cancelOne := h.Subscribe(TopicRider+":r1", 4)
	defer cancelOne()

	// Broadcast reaches the shared feed only.
	h.NotifyRider("", "o1", EventRiderDelivery, "new delivery")
	ev := recv(t, all)
	assert.Equal(t, EventRiderDelivery, ev.Name)

	// Targeted send reaches the scoped feed only.
	h.NotifyRider("r1", "o1", EventOrderCancelled, "cancelled")
	ev = recv(t, one)
	assert.Equal(t, EventOrderCancelled, ev.Name)

	select {
	case ev := <-all:
		t.Fatalf("broadcast feed should not see targeted events, got %v", ev)
	default:
	}
}

func TestHubCustomerScope(t *testing.T) {
	h := NewHub()

	mine, cancelMine := h.Subscribe(TopicCustomer+":u1", 4)
	defer cancelMine()
	theirs, cancelTheirs := h.Subscribe(TopicCustomer+":u2", 4)
	defer cancelTheirs()

	h.NotifyCustomer("u1", "o1", "confirmed", "on the way", nil)

	ev := recv(t, mine)
	assert.Equal(t, "confirmed", ev.Status)

	select {
	case <-theirs:
		t.Fatal("event leaked to another customer")
	default:
	}
}

func TestHubSlowSubscriberDropsNotBlocks(t *testing.T) {
	h := NewHub()

	ch, cancel := h.Subscribe(TopicAdmin, 1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			h.NotifyAdmin("o1", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	// The buffer held at most one event.
	assert.LessOrEqual(t, len(ch), 1)
}

func TestHubCancelClosesChannel(t *testing.T) {
	h := NewHub()

	ch, cancel := h.Subscribe(TopicAdmin, 4)
	cancel()

	_, open := <-ch
	require.False(t, open)

	// Publishing after cancel must not panic.
	h.NotifyAdmin("o1", nil)
}
