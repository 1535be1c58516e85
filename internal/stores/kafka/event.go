package kafka

import "time"

const (
	TopicOrderCreated    = `order-service.order-created`
	TopicOrderPaid       = `order-service.order-paid`
	TopicAccountCreated  = `user-service.account-created`
	TopicAutomationTasks = `order-service.automation-tasks`

	ConsumerGroupAutomation = `order-automation-workers`
)

// Representation of events exchanged between services.

type OrderCreatedEvent struct {
	OrderId     string    `json:"order_id"`
	UserId      string    `json:"user_id"`
	TotalAmount int64     `json:"total_amount"`
	ItemCount   int       `json:"item_count"`
	CreatedAt   time.Time `json:"created_at"`
}

type OrderPaidEvent struct {
	OrderId   string    `json:"order_id"`
	ProductId string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
}

type AccountCreatedEvent struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"` // Timestamp of creation
	UpdatedAt time.Time `json:"updated_at"` // Timestamp of last update
}
