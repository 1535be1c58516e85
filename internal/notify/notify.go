// Package notify provides the best-effort real-time fan-out to connected
// listeners (warehouse, rider, admin, customer). There is no delivery
// guarantee and no persistence: a lost notification only degrades the
// real-time UX, never order-state correctness.
package notify

import (
	"sync"
)

// Event is the minimal payload emitted to listeners.
type Event struct {
	Name    string            `json:"event"`
	OrderID string            `json:"orderId"`
	Status  string            `json:"status,omitempty"`
	Message string            `json:"message,omitempty"`
	Data    map[string]string `json:"data,omitempty"`
}

// Well-known event names.
const (
	EventNewOrder       = "new-order"
	EventWarehouseOrder = "warehouse:newOrder"
	EventAdminOrder     = "admin:newOrder"
	EventRiderDelivery  = "rider:newDelivery"
	EventOrderUpdate    = "order-update"
	EventOrderCancelled = "order-cancelled"
	EventOrderTaken     = "order-taken"
)

// Topics a listener can subscribe to. Scoped topics are "<topic>:<id>".
const (
	TopicWarehouse = "warehouse"
	TopicAdmin     = "admin"
	TopicRider     = "rider"
	TopicCustomer  = "customer"
)

type subscriber struct {
	id int
	ch chan Event
}

// Hub fans events out to subscribed channels. Sends never block: a
// subscriber that cannot keep up loses events.
type Hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string][]subscriber
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string][]subscriber)}
}

// Subscribe registers a listener on a topic and returns its channel and
// a cancel func. The buffer bounds how far a slow listener may lag.
func (h *Hub) Subscribe(topic string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[topic] = append(h.subs[topic], subscriber{id: id, ch: ch})
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs := h.subs[topic]
		for i, s := range subs {
			if s.id == id {
				h.subs[topic] = append(subs[:i], subs[i+1:]...)
				close(s.ch)
				return
			}
		}
	}
	return ch, cancel
}

func (h *Hub) publish(topic string, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs[topic] {
		select {
		case s.ch <- ev:
		default: // listener too slow, drop
		}
	}
}

// NotifyWarehouse broadcasts a new order to warehouse listeners.
func (h *Hub) NotifyWarehouse(orderID string, data map[string]string) {
	h.publish(TopicWarehouse, Event{Name: EventWarehouseOrder, OrderID: orderID, Data: data})
}

// NotifyAdmin broadcasts an order event to admin listeners.
func (h *Hub) NotifyAdmin(orderID string, data map[string]string) {
	h.publish(TopicAdmin, Event{Name: EventAdminOrder, OrderID: orderID, Data: data})
}

// NotifyRider sends an event to one rider when riderID is set, and
// broadcasts to all riders otherwise.
func (h *Hub) NotifyRider(riderID, orderID, event, message string) {
	ev := Event{Name: event, OrderID: orderID, Message: message}
	if riderID != "" {
		h.publish(TopicRider+":"+riderID, ev)
		return
	}
	h.publish(TopicRider, ev)
}

// NotifyCustomer sends an order update to the owning customer only.
func (h *Hub) NotifyCustomer(userID, orderID, status, message string, data map[string]string) {
	h.publish(TopicCustomer+":"+userID, Event{
		Name:    EventOrderUpdate,
		OrderID: orderID,
		Status:  status,
		Message: message,
		Data:    data,
	})
}
