package orders

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"

	"everestmart-backend/internal/queue"
	"everestmart-backend/pkg/logkey"
)

// DefaultOTPTTL bounds how long a delivery OTP stays usable. Riders can
// regenerate an expired one at the doorstep.
const DefaultOTPTTL = 45 * time.Minute

// DefaultCancelReason is recorded when a customer cancels without giving
// a reason.
const DefaultCancelReason = "Customer requested cancellation"

// Notifier is the real-time fan-out the service emits events through.
type Notifier interface {
	NotifyWarehouse(orderID string, data map[string]string)
	NotifyAdmin(orderID string, data map[string]string)
	NotifyRider(riderID, orderID, event, message string)
	NotifyCustomer(userID, orderID, status, message string, data map[string]string)
}

// Event names pushed through the Notifier.
const (
	EventRiderDelivery  = "rider:newDelivery"
	EventOrderCancelled = "order-cancelled"
	EventOrderTaken     = "order-taken"
)

// CreateOrderRequest is the input for placing an order. Amounts are in
// the smallest currency unit.
type CreateOrderRequest struct {
	Items           []Item          `json:"items" validate:"required,min=1"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	PaymentMethod   string          `json:"payment_method" validate:"required,oneof=COD Online"`
	DeliveryCharges int64           `json:"delivery_charges" validate:"gte=0"`
}

// Service owns the order lifecycle. Persistence goes through Store,
// automated workflows through Automation and real-time events through
// Notifier. Notification failures never fail the operation.
type Service struct {
	store      Store
	automation *queue.Automation
	notifier   Notifier
	otpTTL     time.Duration
}

func NewService(store Store, automation *queue.Automation, notifier Notifier, otpTTL time.Duration) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store must not be nil")
	}
	if automation == nil {
		return nil, fmt.Errorf("automation must not be nil")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier must not be nil")
	}
	if otpTTL <= 0 {
		otpTTL = DefaultOTPTTL
	}
	return &Service{store: store, automation: automation, notifier: notifier, otpTTL: otpTTL}, nil
}

// Automation exposes the workflow trigger for callers outside the order
// flow, like inventory adjustments.
func (s *Service) Automation() *queue.Automation { return s.automation }

// CreateOrder validates the request, reserves stock and persists the
// order atomically, then fans out the new-order workflow.
func (s *Service) CreateOrder(ctx context.Context, userID string, req CreateOrderRequest) (Order, error) {
	if userID == "" {
		return Order{}, &ValidationError{Msg: "user id is required"}
	}
	if len(req.Items) == 0 {
		return Order{}, &ValidationError{Msg: "order must contain at least one item"}
	}
	seen := make(map[string]bool, len(req.Items))
	for _, item := range req.Items {
		if item.ProductID == "" {
			return Order{}, &ValidationError{Msg: "every item needs a product id"}
		}
		if item.Quantity <= 0 {
			return Order{}, &ValidationError{Msg: fmt.Sprintf("invalid quantity %d for product %s", item.Quantity, item.ProductID)}
		}
		if item.Price < 0 {
			return Order{}, &ValidationError{Msg: fmt.Sprintf("invalid price for product %s", item.ProductID)}
		}
		// One line per product, so stock checks see the full quantity.
		if seen[item.ProductID] {
			return Order{}, &ValidationError{Msg: fmt.Sprintf("product %s appears in more than one item line", item.ProductID)}
		}
		seen[item.ProductID] = true
	}
	if err := req.ShippingAddress.Validate(); err != nil {
		return Order{}, err
	}
	if req.PaymentMethod != PaymentMethodCOD && req.PaymentMethod != PaymentMethodOnline {
		return Order{}, &ValidationError{Msg: "payment method must be COD or Online"}
	}
	if req.DeliveryCharges < 0 {
		return Order{}, &ValidationError{Msg: "delivery charges cannot be negative"}
	}

	total := req.DeliveryCharges
	for _, item := range req.Items {
		total += item.Price * int64(item.Quantity)
	}

	otp, err := generateOTP()
	if err != nil {
		return Order{}, fmt.Errorf("generating delivery OTP: %w", err)
	}

	now := time.Now().UTC()
	o := Order{
		ID:              uuid.NewString(),
		UserID:          userID,
		Items:           req.Items,
		ShippingAddress: req.ShippingAddress,
		TotalAmount:     total,
		DeliveryCharges: req.DeliveryCharges,
		PaymentMethod:   req.PaymentMethod,
		PaymentStatus:   PaymentStatusPending,
		OrderStatus:     StatusPending,
		DeliveryOTP:     otp,
		OTPGeneratedAt:  &now,
	}

	created, err := s.store.Create(ctx, o)
	if err != nil {
		return Order{}, err
	}

	if err := s.automation.OnOrderCreated(ctx, created.ID); err != nil {
		slog.Error("failed to trigger order workflow", slog.String(logkey.OrderID, created.ID), slog.String(logkey.ERROR, err.Error()))
	}
	data := map[string]string{"userId": created.UserID, "totalAmount": fmt.Sprintf("%d", created.TotalAmount)}
	s.notifier.NotifyWarehouse(created.ID, data)
	s.notifier.NotifyAdmin(created.ID, data)
	s.notifier.NotifyRider("", created.ID, EventRiderDelivery, "New delivery available")

	return created, nil
}

// GetOrder fetches an order without an ownership check, for privileged
// callers.
func (s *Service) GetOrder(ctx context.Context, id string) (Order, error) {
	return s.store.GetByID(ctx, id)
}

// GetUserOrder fetches an order on behalf of its owner.
func (s *Service) GetUserOrder(ctx context.Context, userID, id string) (Order, error) {
	o, err := s.store.GetByID(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if o.UserID != userID {
		return Order{}, ErrNotAuthorized
	}
	return o, nil
}

func (s *Service) ListUserOrders(ctx context.Context, userID string) ([]Order, error) {
	return s.store.ListByUser(ctx, userID)
}

// ListOrders lists orders for back-office views, optionally filtered by
// status.
func (s *Service) ListOrders(ctx context.Context, status Status, limit, offset int) ([]Order, error) {
	if status != "" && !status.Valid() {
		return nil, &ValidationError{Msg: fmt.Sprintf("unknown order status %q", status)}
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.List(ctx, status, limit, offset)
}

// UpdateStatus moves an order forward along the pipeline. Moving to
// cancelled goes through Cancel so stock is credited back.
func (s *Service) UpdateStatus(ctx context.Context, id string, to Status) (Order, error) {
	if !to.Valid() {
		return Order{}, &ValidationError{Msg: fmt.Sprintf("unknown order status %q", to)}
	}
	if to == StatusCancelled {
		return s.Cancel(ctx, id, CancelledByAdmin, "Cancelled by admin")
	}

	cur, err := s.store.GetByID(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if !CanTransition(cur.OrderStatus, to) {
		return Order{}, &InvalidTransitionError{OrderID: id, From: cur.OrderStatus, To: to}
	}

	updated, err := s.store.Transition(ctx, id, cur.OrderStatus, to)
	if err != nil {
		return Order{}, err
	}

	s.afterStatusChange(ctx, updated)
	return updated, nil
}

// Cancel cancels an order while it is still cancellable and restores the
// reserved stock.
func (s *Service) Cancel(ctx context.Context, id, by, reason string) (Order, error) {
	if reason == "" {
		reason = DefaultCancelReason
	}
	cancelled, err := s.store.Cancel(ctx, id, by, reason, CancellableStatuses)
	if err != nil {
		return Order{}, err
	}

	if err := s.automation.OnOrderStatusUpdate(ctx, id, string(StatusCancelled)); err != nil {
		slog.Error("failed to trigger cancellation workflow", slog.String(logkey.OrderID, id), slog.String(logkey.ERROR, err.Error()))
	}
	s.notifier.NotifyCustomer(cancelled.UserID, id, string(StatusCancelled), "Your order has been cancelled", nil)
	s.notifier.NotifyAdmin(id, map[string]string{"status": string(StatusCancelled), "cancelledBy": by})
	if cancelled.RiderID != "" {
		s.notifier.NotifyRider(cancelled.RiderID, id, EventOrderCancelled, "Order was cancelled")
	}

	return cancelled, nil
}

// CancelForUser cancels a customer's own order.
func (s *Service) CancelForUser(ctx context.Context, userID, id, reason string) (Order, error) {
	o, err := s.store.GetByID(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if o.UserID != userID {
		return Order{}, ErrNotAuthorized
	}
	return s.Cancel(ctx, id, CancelledByCustomer, reason)
}

// AcceptOrder assigns the order to the first rider to claim it.
func (s *Service) AcceptOrder(ctx context.Context, id, riderID string) (Order, error) {
	if riderID == "" {
		return Order{}, &ValidationError{Msg: "rider id is required"}
	}
	o, err := s.store.AssignRider(ctx, id, riderID)
	if err != nil {
		return Order{}, err
	}

	// Everyone else can stop looking at this delivery.
	s.notifier.NotifyRider("", id, EventOrderTaken, "Delivery was taken")
	s.afterStatusChange(ctx, o)
	return o, nil
}

// MarkPickedUp records the rider leaving with the order and sends the
// delivery OTP to the customer.
func (s *Service) MarkPickedUp(ctx context.Context, id, riderID string) (Order, error) {
	o, err := s.riderOrder(ctx, id, riderID)
	if err != nil {
		return Order{}, err
	}
	if !CanTransition(o.OrderStatus, StatusOutForDelivery) {
		return Order{}, &InvalidTransitionError{OrderID: id, From: o.OrderStatus, To: StatusOutForDelivery}
	}

	updated, err := s.store.Transition(ctx, id, o.OrderStatus, StatusOutForDelivery)
	if err != nil {
		return Order{}, err
	}

	s.sendDeliveryOTP(ctx, updated)
	s.afterStatusChange(ctx, updated)
	return updated, nil
}

// RegenerateOTP issues a fresh OTP while the order is out for delivery,
// for when the original expired before the rider arrived.
func (s *Service) RegenerateOTP(ctx context.Context, id, riderID string) (Order, error) {
	o, err := s.riderOrder(ctx, id, riderID)
	if err != nil {
		return Order{}, err
	}
	if o.OrderStatus != StatusOutForDelivery {
		return Order{}, &InvalidTransitionError{OrderID: id, From: o.OrderStatus, To: StatusOutForDelivery}
	}

	otp, err := generateOTP()
	if err != nil {
		return Order{}, fmt.Errorf("generating delivery OTP: %w", err)
	}
	updated, err := s.store.SetDeliveryOTP(ctx, id, otp)
	if err != nil {
		return Order{}, err
	}

	s.sendDeliveryOTP(ctx, updated)
	return updated, nil
}

// VerifyDeliveryOTP confirms handover. The submitted OTP must match the
// current unexpired one; verification succeeds at most once per order.
func (s *Service) VerifyDeliveryOTP(ctx context.Context, id, riderID, otp string) (Order, error) {
	o, err := s.riderOrder(ctx, id, riderID)
	if err != nil {
		return Order{}, err
	}
	if o.OTPVerified {
		return Order{}, ErrAlreadyVerified
	}
	if o.DeliveryOTP == "" {
		return Order{}, ErrOTPNotIssued
	}
	if o.OTPGeneratedAt == nil || time.Since(*o.OTPGeneratedAt) > s.otpTTL {
		return Order{}, ErrOTPExpired
	}
	if otp != o.DeliveryOTP {
		return Order{}, ErrInvalidOTP
	}

	delivered, err := s.store.MarkDelivered(ctx, id)
	if err != nil {
		return Order{}, err
	}

	s.afterStatusChange(ctx, delivered)
	return delivered, nil
}

// RecordPayment settles an online payment reported by the gateway
// webhook.
func (s *Service) RecordPayment(ctx context.Context, id, transactionID string) (Order, error) {
	paid, err := s.store.MarkPaid(ctx, id, transactionID)
	if err != nil {
		return Order{}, err
	}
	s.notifier.NotifyCustomer(paid.UserID, id, string(paid.OrderStatus), "Payment received", map[string]string{"transactionId": transactionID})
	return paid, nil
}

// riderOrder loads an order for a rider operation, enforcing assignment.
func (s *Service) riderOrder(ctx context.Context, id, riderID string) (Order, error) {
	if riderID == "" {
		return Order{}, &ValidationError{Msg: "rider id is required"}
	}
	o, err := s.store.GetByID(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if o.RiderID == "" {
		return Order{}, ErrRiderRequired
	}
	if o.RiderID != riderID {
		return Order{}, ErrNotAuthorized
	}
	return o, nil
}

func (s *Service) afterStatusChange(ctx context.Context, o Order) {
	if err := s.automation.OnOrderStatusUpdate(ctx, o.ID, string(o.OrderStatus)); err != nil {
		slog.Error("failed to trigger status workflow", slog.String(logkey.OrderID, o.ID), slog.String(logkey.ERROR, err.Error()))
	}
	s.notifier.NotifyCustomer(o.UserID, o.ID, string(o.OrderStatus), statusMessage(o.OrderStatus), nil)
}

// sendDeliveryOTP queues the OTP SMS when a customer phone is on the
// order. Stored addresses resolve the phone out of band.
func (s *Service) sendDeliveryOTP(ctx context.Context, o Order) {
	if o.ShippingAddress.Inline == nil || o.ShippingAddress.Inline.Phone == "" {
		return
	}
	if err := s.automation.SendOTP(ctx, o.ShippingAddress.Inline.Phone, o.DeliveryOTP); err != nil {
		slog.Error("failed to queue delivery OTP", slog.String(logkey.OrderID, o.ID), slog.String(logkey.ERROR, err.Error()))
	}
}

func statusMessage(s Status) string {
	switch s {
	case StatusConfirmed:
		return "Your order has been confirmed"
	case StatusProcessing:
		return "Your order is being processed"
	case StatusPreparing:
		return "Your order is being prepared"
	case StatusShipped:
		return "Your order has been shipped"
	case StatusOutForDelivery:
		return "Your order is out for delivery"
	case StatusDelivered:
		return "Your order has been delivered"
	case StatusReturned:
		return "Your order has been returned"
	default:
		return "Your order status is " + string(s)
	}
}

// generateOTP returns a 6-digit numeric code from a CSPRNG.
func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
