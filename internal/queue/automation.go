package queue

import (
	"context"
	"fmt"
	"log/slog"

	"everestmart-backend/pkg/logkey"
)

// LowStockThreshold is the stock level at or below which a restock alert
// goes out.
const LowStockThreshold = 10

// Task types handled by the automation workers.
const (
	TaskNewOrder    = "new-order"
	TaskOrderUpdate = "order-update"
	TaskWelcome     = "welcome"
	TaskOTP         = "otp"
	TaskLowStock    = "low-stock-alert"
	TaskCustomEmail = "custom-email"
	TaskCustomSMS   = "custom-sms"
)

type NewOrderPayload struct {
	OrderID string `json:"order_id"`
}

type OrderUpdatePayload struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

type WelcomePayload struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type OTPPayload struct {
	Phone string `json:"phone"`
	OTP   string `json:"otp"`
}

type LowStockPayload struct {
	ProductID    string `json:"product_id"`
	CurrentStock int    `json:"current_stock"`
}

type EmailPayload struct {
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Content string `json:"content"`
}

type SMSPayload struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// Automation is the central trigger point for automated workflows. It
// works with both the in-memory and the kafka-backed queues.
type Automation struct {
	orderQueue     Queue
	emailQueue     Queue
	smsQueue       Queue
	inventoryQueue Queue
}

func NewAutomation(order, email, sms, inventory Queue) (*Automation, error) {
	if order == nil || email == nil || sms == nil || inventory == nil {
		return nil, fmt.Errorf("all automation queues must be non-nil")
	}
	return &Automation{
		orderQueue:     order,
		emailQueue:     email,
		smsQueue:       sms,
		inventoryQueue: inventory,
	}, nil
}

// OnOrderCreated triggers the workflow for a freshly placed order.
func (a *Automation) OnOrderCreated(ctx context.Context, orderID string) error {
	_, err := a.orderQueue.Enqueue(ctx, TaskNewOrder, NewOrderPayload{OrderID: orderID}, Options{})
	if err != nil {
		return fmt.Errorf("queueing order workflow: %w", err)
	}
	slog.Info("order workflow triggered", slog.String(logkey.OrderID, orderID))
	return nil
}

// OnOrderStatusUpdate triggers the workflow for a status change.
func (a *Automation) OnOrderStatusUpdate(ctx context.Context, orderID, status string) error {
	_, err := a.orderQueue.Enqueue(ctx, TaskOrderUpdate, OrderUpdatePayload{OrderID: orderID, Status: status}, Options{})
	if err != nil {
		return fmt.Errorf("queueing order update workflow: %w", err)
	}
	return nil
}

// OnUserRegistered queues a welcome email for a new user.
func (a *Automation) OnUserRegistered(ctx context.Context, email, name string) error {
	_, err := a.emailQueue.Enqueue(ctx, TaskWelcome, WelcomePayload{Email: email, Name: name}, Options{})
	if err != nil {
		return fmt.Errorf("queueing welcome email: %w", err)
	}
	return nil
}

// SendOTP queues an OTP SMS with extra attempts, since the delivery flow
// stalls without it.
func (a *Automation) SendOTP(ctx context.Context, phone, otp string) error {
	_, err := a.smsQueue.Enqueue(ctx, TaskOTP, OTPPayload{Phone: phone, OTP: otp}, Options{Attempts: 5})
	if err != nil {
		return fmt.Errorf("queueing OTP SMS: %w", err)
	}
	return nil
}

// OnLowStock queues a restock alert for the given product.
func (a *Automation) OnLowStock(ctx context.Context, productID string, currentStock int) error {
	_, err := a.inventoryQueue.Enqueue(ctx, TaskLowStock, LowStockPayload{ProductID: productID, CurrentStock: currentStock}, Options{})
	if err != nil {
		return fmt.Errorf("queueing low stock alert: %w", err)
	}
	return nil
}

// SendCustomEmail queues an arbitrary email.
func (a *Automation) SendCustomEmail(ctx context.Context, email, subject, content string) error {
	_, err := a.emailQueue.Enqueue(ctx, TaskCustomEmail, EmailPayload{Email: email, Subject: subject, Content: content}, Options{})
	if err != nil {
		return fmt.Errorf("queueing custom email: %w", err)
	}
	return nil
}

// SendCustomSMS queues an arbitrary SMS.
func (a *Automation) SendCustomSMS(ctx context.Context, phone, message string) error {
	_, err := a.smsQueue.Enqueue(ctx, TaskCustomSMS, SMSPayload{Phone: phone, Message: message}, Options{})
	if err != nil {
		return fmt.Errorf("queueing custom SMS: %w", err)
	}
	return nil
}

// RegisterOrderProcessor attaches a handler for order workflow tasks.
func (a *Automation) RegisterOrderProcessor(taskType string, fn Processor) {
	a.orderQueue.RegisterProcessor(taskType, fn)
}

// RegisterEmailProcessor attaches a handler for email tasks.
func (a *Automation) RegisterEmailProcessor(taskType string, fn Processor) {
	a.emailQueue.RegisterProcessor(taskType, fn)
}

// RegisterSMSProcessor attaches a handler for SMS tasks.
func (a *Automation) RegisterSMSProcessor(taskType string, fn Processor) {
	a.smsQueue.RegisterProcessor(taskType, fn)
}

// RegisterInventoryProcessor attaches a handler for inventory tasks.
func (a *Automation) RegisterInventoryProcessor(taskType string, fn Processor) {
	a.inventoryQueue.RegisterProcessor(taskType, fn)
}
