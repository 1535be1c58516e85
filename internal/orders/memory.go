package orders

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryProduct is the slice of product state the in-memory store needs
// to honor stock conservation.
type MemoryProduct struct {
	ID    string
	Name  string
	Stock int
}

// MemoryStore keeps orders and product stock in process memory with the
// same conditional-update semantics as the postgres store. It backs
// tests and local runs without a database.
type MemoryStore struct {
	mu        sync.Mutex
	orders    map[string]*Order
	products  map[string]*MemoryProduct
	addresses map[string]string // address id -> owning user id
}

func NewMemoryStore(products ...MemoryProduct) *MemoryStore {
	s := &MemoryStore{
		orders:    make(map[string]*Order),
		products:  make(map[string]*MemoryProduct),
		addresses: make(map[string]string),
	}
	for i := range products {
		p := products[i]
		s.products[p.ID] = &p
	}
	return s
}

// AddAddress seeds a stored address owned by the given user.
func (s *MemoryStore) AddAddress(id, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addresses[id] = userID
}

var _ Store = (*MemoryStore)(nil)

// ProductStock reports the current stock of a seeded product.
func (s *MemoryStore) ProductStock(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return 0
	}
	return p.Stock
}

func (s *MemoryStore) Create(_ context.Context, o Order) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o.ShippingAddress.AddressID != "" {
		owner, ok := s.addresses[o.ShippingAddress.AddressID]
		if !ok {
			return Order{}, &ValidationError{Msg: fmt.Sprintf("unknown shipping address %s", o.ShippingAddress.AddressID)}
		}
		if owner != o.UserID {
			return Order{}, &ValidationError{Msg: fmt.Sprintf("shipping address %s does not belong to this user", o.ShippingAddress.AddressID)}
		}
	}

	// Validate every line before touching stock so a failure leaves
	// nothing debited. Quantities are summed per product, so an order
	// repeating a product cannot overdraw its stock.
	need := make(map[string]int, len(o.Items))
	for _, item := range o.Items {
		p, ok := s.products[item.ProductID]
		if !ok {
			return Order{}, &ProductNotFoundError{ProductID: item.ProductID}
		}
		need[item.ProductID] += item.Quantity
		if p.Stock < need[item.ProductID] {
			return Order{}, &InsufficientStockError{ProductID: item.ProductID, Name: p.Name, Requested: need[item.ProductID], Available: p.Stock}
		}
	}
	for _, item := range o.Items {
		s.products[item.ProductID].Stock -= item.Quantity
	}

	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now
	if o.DeliveryOTP != "" && o.OTPGeneratedAt == nil {
		o.OTPGeneratedAt = &now
	}
	cp := o
	s.orders[o.ID] = &cp
	return o, nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	return *o, nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []Order
	for _, o := range s.orders {
		if o.UserID == userID {
			list = append(list, *o)
		}
	}
	sortNewestFirst(list)
	return list, nil
}

func (s *MemoryStore) List(_ context.Context, status Status, limit, offset int) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []Order
	for _, o := range s.orders {
		if status == "" || o.OrderStatus == status {
			list = append(list, *o)
		}
	}
	sortNewestFirst(list)
	if offset >= len(list) {
		return nil, nil
	}
	list = list[offset:]
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	return list, nil
}

func (s *MemoryStore) Transition(_ context.Context, id string, from, to Status) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	if o.OrderStatus != from {
		return Order{}, &InvalidTransitionError{OrderID: id, From: o.OrderStatus, To: to}
	}
	now := time.Now().UTC()
	o.OrderStatus = to
	switch to {
	case StatusOutForDelivery:
		o.Tracking.PickedUpAt = &now
	case StatusDelivered:
		o.Tracking.DeliveredAt = &now
	}
	o.UpdatedAt = now
	return *o, nil
}

func (s *MemoryStore) Cancel(_ context.Context, id, by, reason string, from []Status) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	if len(from) == 0 {
		from = CancellableStatuses
	}
	allowed := false
	for _, st := range from {
		if o.OrderStatus == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return Order{}, &InvalidTransitionError{OrderID: id, From: o.OrderStatus, To: StatusCancelled}
	}

	now := time.Now().UTC()
	o.OrderStatus = StatusCancelled
	o.CancelledAt = &now
	o.CancellationReason = reason
	o.CancelledBy = by
	o.UpdatedAt = now
	for _, item := range o.Items {
		if p, ok := s.products[item.ProductID]; ok {
			p.Stock += item.Quantity
		}
	}
	return *o, nil
}

func (s *MemoryStore) AssignRider(_ context.Context, id, riderID string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	if o.RiderID != "" {
		if o.RiderID == riderID {
			return *o, nil
		}
		return Order{}, ErrRiderAssigned
	}
	switch o.OrderStatus {
	case StatusPending, StatusConfirmed, StatusProcessing:
	default:
		return Order{}, &InvalidTransitionError{OrderID: id, From: o.OrderStatus, To: StatusPreparing}
	}
	now := time.Now().UTC()
	o.RiderID = riderID
	o.OrderStatus = StatusPreparing
	o.Tracking.AcceptedAt = &now
	o.UpdatedAt = now
	return *o, nil
}

func (s *MemoryStore) SetDeliveryOTP(_ context.Context, id, otp string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	if o.OTPVerified {
		return Order{}, ErrAlreadyVerified
	}
	now := time.Now().UTC()
	o.DeliveryOTP = otp
	o.OTPGeneratedAt = &now
	o.UpdatedAt = now
	return *o, nil
}

func (s *MemoryStore) MarkDelivered(_ context.Context, id string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	if o.OTPVerified {
		return Order{}, ErrAlreadyVerified
	}
	now := time.Now().UTC()
	o.OTPVerified = true
	o.OTPVerifiedAt = &now
	o.OrderStatus = StatusDelivered
	o.Tracking.DeliveredAt = &now
	if o.PaymentMethod == PaymentMethodCOD {
		o.PaymentStatus = PaymentStatusPaid
	}
	o.UpdatedAt = now
	return *o, nil
}

func (s *MemoryStore) MarkPaid(_ context.Context, id, transactionID string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	now := time.Now().UTC()
	o.PaymentStatus = PaymentStatusPaid
	o.TransactionID = transactionID
	o.UpdatedAt = now
	return *o, nil
}

func sortNewestFirst(list []Order) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID > list[j].ID
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}
