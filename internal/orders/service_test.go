package orders

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"everestmart-backend/internal/queue"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) record(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, name)
}

func (n *recordingNotifier) NotifyWarehouse(orderID string, data map[string]string) {
	n.record("warehouse")
}
func (n *recordingNotifier) NotifyAdmin(orderID string, data map[string]string) { n.record("admin") }
func (n *recordingNotifier) NotifyRider(riderID, orderID, event, message string) {
	n.record("rider:" + event)
}
func (n *recordingNotifier) NotifyCustomer(userID, orderID, status, message string, data map[string]string) {
	n.record("customer:" + status)
}

func (n *recordingNotifier) has(name string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e == name {
			return true
		}
	}
	return false
}

func newTestService(t *testing.T, otpTTL time.Duration, products ...MemoryProduct) (*Service, *MemoryStore, *recordingNotifier) {
	t.Helper()
	store := NewMemoryStore(products...)
	automation, err := queue.NewAutomation(
		queue.NewMemory("orders"), queue.NewMemory("email"),
		queue.NewMemory("sms"), queue.NewMemory("inventory"))
	require.NoError(t, err)
	notifier := &recordingNotifier{}
	svc, err := NewService(store, automation, notifier, otpTTL)
	require.NoError(t, err)
	return svc, store, notifier
}

func testAddress() ShippingAddress {
	return ShippingAddress{Inline: &Address{
		FullName:     "Asha Rai",
		Phone:        "9800000001",
		AddressLine1: "12 Lakeside Road",
		City:         "Pokhara",
		State:        "Gandaki",
		Pincode:      "33700",
	}}
}

func TestCreateOrderDebitsStockAndIssuesOTP(t *testing.T) {
	svc, store, notifier := newTestService(t, 0, MemoryProduct{ID: "p1", Name: "Basmati Rice 5kg", Stock: 10})

	o, err := svc.CreateOrder(context.Background(), "user-1", CreateOrderRequest{
		Items:           []Item{{ProductID: "p1", Quantity: 3, Price: 120000}},
		ShippingAddress: testAddress(),
		PaymentMethod:   PaymentMethodCOD,
		DeliveryCharges: 5000,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusPending, o.OrderStatus)
	assert.Equal(t, PaymentStatusPending, o.PaymentStatus)
	assert.Equal(t, int64(3*120000+5000), o.TotalAmount)
	assert.Equal(t, 7, store.ProductStock("p1"))
	assert.Regexp(t, regexp.MustCompile(`^\d{6}$`), o.DeliveryOTP)
	require.NotNil(t, o.OTPGeneratedAt)
	assert.True(t, notifier.has("warehouse"))
	assert.True(t, notifier.has("admin"))
	assert.True(t, notifier.has("rider:"+EventRiderDelivery))
}

func TestCreateOrderInsufficientStockLeavesNothingDebited(t *testing.T) {
	svc, store, _ := newTestService(t, 0,
		MemoryProduct{ID: "p1", Name: "Milk 1L", Stock: 5},
		MemoryProduct{ID: "p2", Name: "Eggs 12pk", Stock: 1},
	)

	_, err := svc.CreateOrder(context.Background(), "user-1", CreateOrderRequest{
		Items: []Item{
			{ProductID: "p1", Quantity: 2, Price: 9000},
			{ProductID: "p2", Quantity: 4, Price: 20000},
		},
		ShippingAddress: testAddress(),
		PaymentMethod:   PaymentMethodCOD,
	})
	var sErr *InsufficientStockError
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, "p2", sErr.ProductID)
	assert.Equal(t, 4, sErr.Requested)
	assert.Equal(t, 1, sErr.Available)

	// Neither line touched stock.
	assert.Equal(t, 5, store.ProductStock("p1"))
	assert.Equal(t, 1, store.ProductStock("p2"))
}

func TestCreateOrderRejectsDuplicateProductLines(t *testing.T) {
	svc, store, _ := newTestService(t, 0, MemoryProduct{ID: "p1", Name: "Milk 1L", Stock: 5})

	_, err := svc.CreateOrder(context.Background(), "user-1", CreateOrderRequest{
		Items: []Item{
			{ProductID: "p1", Quantity: 3, Price: 9000},
			{ProductID: "p1", Quantity: 3, Price: 9000},
		},
		ShippingAddress: testAddress(),
		PaymentMethod:   PaymentMethodCOD,
	})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Msg, "more than one item line")
	assert.Equal(t, 5, store.ProductStock("p1"))
}

func TestMemoryStoreSumsDuplicateLinesAgainstStock(t *testing.T) {
	store := NewMemoryStore(MemoryProduct{ID: "p1", Name: "Milk 1L", Stock: 5})

	// Each line fits on its own, together they overdraw; the store must
	// never let stock go negative.
	_, err := store.Create(context.Background(), Order{
		ID:     "o1",
		UserID: "user-1",
		Items: []Item{
			{ProductID: "p1", Quantity: 3, Price: 9000},
			{ProductID: "p1", Quantity: 3, Price: 9000},
		},
		ShippingAddress: testAddress(),
		OrderStatus:     StatusPending,
	})
	var sErr *InsufficientStockError
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, 6, sErr.Requested)
	assert.Equal(t, 5, sErr.Available)
	assert.Equal(t, 5, store.ProductStock("p1"))
}

func TestCreateOrderWithStoredAddress(t *testing.T) {
	svc, store, _ := newTestService(t, 0, MemoryProduct{ID: "p1", Stock: 5})
	store.AddAddress("addr-1", "user-1")

	o, err := svc.CreateOrder(context.Background(), "user-1", CreateOrderRequest{
		Items:           []Item{{ProductID: "p1", Quantity: 1, Price: 100}},
		ShippingAddress: ShippingAddress{AddressID: "addr-1"},
		PaymentMethod:   PaymentMethodCOD,
	})
	require.NoError(t, err)
	assert.Equal(t, "addr-1", o.ShippingAddress.AddressID)

	// Unknown id, and someone else's id, are both validation failures
	// and leave stock alone.
	var vErr *ValidationError
	_, err = svc.CreateOrder(context.Background(), "user-1", CreateOrderRequest{
		Items:           []Item{{ProductID: "p1", Quantity: 1, Price: 100}},
		ShippingAddress: ShippingAddress{AddressID: "addr-ghost"},
		PaymentMethod:   PaymentMethodCOD,
	})
	require.ErrorAs(t, err, &vErr)

	store.AddAddress("addr-2", "user-2")
	_, err = svc.CreateOrder(context.Background(), "user-1", CreateOrderRequest{
		Items:           []Item{{ProductID: "p1", Quantity: 1, Price: 100}},
		ShippingAddress: ShippingAddress{AddressID: "addr-2"},
		PaymentMethod:   PaymentMethodCOD,
	})
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Msg, "does not belong")
	assert.Equal(t, 4, store.ProductStock("p1"))
}

func TestCreateOrderUnknownProduct(t *testing.T) {
	svc, _, _ := newTestService(t, 0, MemoryProduct{ID: "p1", Stock: 5})

	_, err := svc.CreateOrder(context.Background(), "user-1", CreateOrderRequest{
		Items:           []Item{{ProductID: "ghost", Quantity: 1, Price: 100}},
		ShippingAddress: testAddress(),
		PaymentMethod:   PaymentMethodOnline,
	})
	var pErr *ProductNotFoundError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, "ghost", pErr.ProductID)
}

func TestCreateOrderValidation(t *testing.T) {
	svc, _, _ := newTestService(t, 0, MemoryProduct{ID: "p1", Stock: 5})
	ctx := context.Background()

	cases := []struct {
		name string
		req  CreateOrderRequest
	}{
		{"no items", CreateOrderRequest{ShippingAddress: testAddress(), PaymentMethod: PaymentMethodCOD}},
		{"zero quantity", CreateOrderRequest{
			Items:           []Item{{ProductID: "p1", Quantity: 0, Price: 100}},
			ShippingAddress: testAddress(), PaymentMethod: PaymentMethodCOD,
		}},
		{"negative price", CreateOrderRequest{
			Items:           []Item{{ProductID: "p1", Quantity: 1, Price: -1}},
			ShippingAddress: testAddress(), PaymentMethod: PaymentMethodCOD,
		}},
		{"bad payment method", CreateOrderRequest{
			Items:           []Item{{ProductID: "p1", Quantity: 1, Price: 100}},
			ShippingAddress: testAddress(), PaymentMethod: "Cheque",
		}},
		{"no address", CreateOrderRequest{
			Items:         []Item{{ProductID: "p1", Quantity: 1, Price: 100}},
			PaymentMethod: PaymentMethodCOD,
		}},
		{"both address variants", CreateOrderRequest{
			Items:           []Item{{ProductID: "p1", Quantity: 1, Price: 100}},
			ShippingAddress: ShippingAddress{AddressID: "a1", Inline: testAddress().Inline},
			PaymentMethod:   PaymentMethodCOD,
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateOrder(ctx, "user-1", tc.req)
			var vErr *ValidationError
			assert.ErrorAs(t, err, &vErr)
		})
	}
}

func TestConcurrentCreateLastUnitSellsOnce(t *testing.T) {
	svc, store, _ := newTestService(t, 0, MemoryProduct{ID: "p1", Name: "Ghee 500g", Stock: 1})
	ctx := context.Background()

	req := CreateOrderRequest{
		Items:           []Item{{ProductID: "p1", Quantity: 1, Price: 50000}},
		ShippingAddress: testAddress(),
		PaymentMethod:   PaymentMethodCOD,
	}

	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateOrder(ctx, "user-1", req)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
		} else {
			var sErr *InsufficientStockError
			assert.ErrorAs(t, err, &sErr)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 0, store.ProductStock("p1"))
}

func TestCancelRestoresStockAndRecordsWho(t *testing.T) {
	svc, store, notifier := newTestService(t, 0, MemoryProduct{ID: "p1", Stock: 10})
	ctx := context.Background()

	o, err := svc.CreateOrder(ctx, "user-1", CreateOrderRequest{
		Items:           []Item{{ProductID: "p1", Quantity: 4, Price: 1000}},
		ShippingAddress: testAddress(),
		PaymentMethod:   PaymentMethodCOD,
	})
	require.NoError(t, err)
	require.Equal(t, 6, store.ProductStock("p1"))

	cancelled, err := svc.CancelForUser(ctx, "user-1", o.ID, "")
	require.NoError(t, err)

	assert.Equal(t, StatusCancelled, cancelled.OrderStatus)
	assert.Equal(t, CancelledByCustomer, cancelled.CancelledBy)
	assert.Equal(t, DefaultCancelReason, cancelled.CancellationReason)
	require.NotNil(t, cancelled.CancelledAt)
	assert.Equal(t, 10, store.ProductStock("p1"))
	assert.True(t, notifier.has("customer:cancelled"))
}

func TestCancelForUserRejectsOtherUsers(t *testing.T) {
	svc, _, _ := newTestService(t, 0, MemoryProduct{ID: "p1", Stock: 10})
	ctx := context.Background()

	o, err := svc.CreateOrder(ctx, "user-1", CreateOrderRequest{
		Items:           []Item{{ProductID: "p1", Quantity: 1, Price: 1000}},
		ShippingAddress: testAddress(),
		PaymentMethod:   PaymentMethodCOD,
	})
	require.NoError(t, err)

	_, err = svc.CancelForUser(ctx, "user-2", o.ID, "")
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestCancelPastWindowFails(t *testing.T) {
	svc, store, _ := newTestService(t, 0, MemoryProduct{ID: "p1", Stock: 10})
	ctx := context.Background()

	o, err := svc.CreateOrder(ctx, "user-1", CreateOrderRequest{
		Items:           []Item{{ProductID: "p1", Quantity: 2, Price: 1000}},
		ShippingAddress: testAddress(),
		PaymentMethod:   PaymentMethodCOD,
	})
	require.NoError(t, err)

	_, err = svc.AcceptOrder(ctx, o.ID, "rider-1")
	require.NoError(t, err)
	_, err = svc.MarkPickedUp(ctx, o.ID, "rider-1")
	require.NoError(t, err)

	_, err = svc.CancelForUser(ctx, "user-1", o.ID, "changed my mind")
	var tErr *InvalidTransitionError
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, StatusOutForDelivery, tErr.From)

	// Stock stays debited.
	assert.Equal(t, 8, store.ProductStock("p1"))
}

func TestUpdateStatusToCancelledRestoresStock(t *testing.T) {
	svc, store, _ := newTestService(t, 0, MemoryProduct{ID: "p1", Stock: 10})
	ctx := context.Background()

	o, err := svc.CreateOrder(ctx, "user-1", CreateOrderRequest{
		Items:           []Item{{ProductID: "p1", Quantity: 5, Price: 1000}},
		ShippingAddress: testAddress(),
		PaymentMethod:   PaymentMethodCOD,
	})
	require.NoError(t, err)

	updated, err := svc.UpdateStatus(ctx, o.ID, StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, updated.OrderStatus)
	assert.Equal(t, CancelledByAdmin, updated.CancelledBy)
	assert.Equal(t, 10, store.ProductStock("p1"))
}

func TestUpdateStatusRejectsBackwardMoves(t *testing.T) {
	svc, _, _ := newTestService(t, 0, MemoryProduct{ID: "p1", Stock: 10})
	ctx := context.Background()

	o, err := svc.CreateOrder(ctx, "user-1", CreateOrderRequest{
		Items:           []Item{{ProductID: "p1", Quantity: 1, Price: 1000}},
		ShippingAddress: testAddress(),
		PaymentMethod:   PaymentMethodCOD,
	})
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, o.ID, StatusProcessing)
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, o.ID, StatusConfirmed)
	var tErr *InvalidTransitionError
	assert.ErrorAs(t, err, &tErr)

	_, err = svc.UpdateStatus(ctx, o.ID, "teleported")
	var vErr *ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestRiderAcceptIsFirstComeFirstServed(t *testing.T) {
	svc, _, notifier := newTestService(t, 0, MemoryProduct{ID: "p1", Stock: 10})
	ctx := context.Background()

	o, err := svc.CreateOrder(ctx, "user-1", CreateOrderRequest{
		Items:           []Item{{ProductID: "p1", Quantity: 1, Price: 1000}},
		ShippingAddress: testAddress(),
		PaymentMethod:   PaymentMethodCOD,
	})
	require.NoError(t, err)

	accepted, err := svc.AcceptOrder(ctx, o.ID, "rider-1")
	require.NoError(t, err)
	assert.Equal(t, "rider-1", accepted.RiderID)
	assert.Equal(t, StatusPreparing, accepted.OrderStatus)
	require.NotNil(t, accepted.Tracking.AcceptedAt)
	assert.True(t, notifier.has("rider:"+EventOrderTaken))

	_, err = svc.AcceptOrder(ctx, o.ID, "rider-2")
	assert.ErrorIs(t, err, ErrRiderAssigned)

	// Same rider asking again is a no-op.
	again, err := svc.AcceptOrder(ctx, o.ID, "rider-1")
	require.NoError(t, err)
	assert.Equal(t, "rider-1", again.RiderID)
}

func TestDeliveryFlowVerifiesOTPOnce(t *testing.T) {
	svc, _, _ := newTestService(t, 0, MemoryProduct{ID: "p1", Stock: 10})
	ctx := context.Background()

	o, err := svc.CreateOrder(ctx, "user-1", CreateOrderRequest{
		Items:           []Item{{ProductID: "p1", Quantity: 1, Price: 1000}},
		ShippingAddress: testAddress(),
		PaymentMethod:   PaymentMethodCOD,
	})
	require.NoError(t, err)

	_, err = svc.AcceptOrder(ctx, o.ID, "rider-1")
	require.NoError(t, err)

	picked, err := svc.MarkPickedUp(ctx, o.ID, "rider-1")
	require.NoError(t, err)
	assert.Equal(t, StatusOutForDelivery, picked.OrderStatus)
	require.NotNil(t, picked.Tracking.PickedUpAt)

	// Another rider cannot verify.
	_, err = svc.VerifyDeliveryOTP(ctx, o.ID, "rider-2", o.DeliveryOTP)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	// Wrong code is rejected.
	_, err = svc.VerifyDeliveryOTP(ctx, o.ID, "rider-1", "000000")
	assert.ErrorIs(t, err, ErrInvalidOTP)

	delivered, err := svc.VerifyDeliveryOTP(ctx, o.ID, "rider-1", o.DeliveryOTP)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, delivered.OrderStatus)
	assert.True(t, delivered.OTPVerified)
	require.NotNil(t, delivered.OTPVerifiedAt)
	require.NotNil(t, delivered.Tracking.DeliveredAt)
	// COD settles on handover.
	assert.Equal(t, PaymentStatusPaid, delivered.PaymentStatus)

	_, err = svc.VerifyDeliveryOTP(ctx, o.ID, "rider-1", o.DeliveryOTP)
	assert.ErrorIs(t, err, ErrAlreadyVerified)
}

func TestExpiredOTPNeedsRegeneration(t *testing.T) {
	svc, _, _ := newTestService(t, 20*time.Millisecond, MemoryProduct{ID: "p1", Stock: 10})
	ctx := context.Background()

	o, err := svc.CreateOrder(ctx, "user-1", CreateOrderRequest{
		Items:           []Item{{ProductID: "p1", Quantity: 1, Price: 1000}},
		ShippingAddress: testAddress(),
		PaymentMethod:   PaymentMethodCOD,
	})
	require.NoError(t, err)

	_, err = svc.AcceptOrder(ctx, o.ID, "rider-1")
	require.NoError(t, err)
	_, err = svc.MarkPickedUp(ctx, o.ID, "rider-1")
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	_, err = svc.VerifyDeliveryOTP(ctx, o.ID, "rider-1", o.DeliveryOTP)
	assert.ErrorIs(t, err, ErrOTPExpired)

	fresh, err := svc.RegenerateOTP(ctx, o.ID, "rider-1")
	require.NoError(t, err)
	assert.NotEmpty(t, fresh.DeliveryOTP)

	delivered, err := svc.VerifyDeliveryOTP(ctx, o.ID, "rider-1", fresh.DeliveryOTP)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, delivered.OrderStatus)
}

func TestRegenerateOTPRequiresOutForDelivery(t *testing.T) {
	svc, _, _ := newTestService(t, 0, MemoryProduct{ID: "p1", Stock: 10})
	ctx := context.Background()

	o, err := svc.CreateOrder(ctx, "user-1", CreateOrderRequest{
		Items:           []Item{{ProductID: "p1", Quantity: 1, Price: 1000}},
		ShippingAddress: testAddress(),
		PaymentMethod:   PaymentMethodCOD,
	})
	require.NoError(t, err)

	_, err = svc.AcceptOrder(ctx, o.ID, "rider-1")
	require.NoError(t, err)

	_, err = svc.RegenerateOTP(ctx, o.ID, "rider-1")
	var tErr *InvalidTransitionError
	assert.ErrorAs(t, err, &tErr)
}

func TestRecordPaymentStoresTransaction(t *testing.T) {
	svc, _, _ := newTestService(t, 0, MemoryProduct{ID: "p1", Stock: 10})
	ctx := context.Background()

	o, err := svc.CreateOrder(ctx, "user-1", CreateOrderRequest{
		Items:           []Item{{ProductID: "p1", Quantity: 1, Price: 1000}},
		ShippingAddress: testAddress(),
		PaymentMethod:   PaymentMethodOnline,
	})
	require.NoError(t, err)

	paid, err := svc.RecordPayment(ctx, o.ID, "txn-42")
	require.NoError(t, err)
	assert.Equal(t, PaymentStatusPaid, paid.PaymentStatus)
	assert.Equal(t, "txn-42", paid.TransactionID)

	_, err = svc.RecordPayment(ctx, "missing", "txn-43")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetUserOrderEnforcesOwnership(t *testing.T) {
	svc, _, _ := newTestService(t, 0, MemoryProduct{ID: "p1", Stock: 10})
	ctx := context.Background()

	o, err := svc.CreateOrder(ctx, "user-1", CreateOrderRequest{
		Items:           []Item{{ProductID: "p1", Quantity: 1, Price: 1000}},
		ShippingAddress: testAddress(),
		PaymentMethod:   PaymentMethodCOD,
	})
	require.NoError(t, err)

	got, err := svc.GetUserOrder(ctx, "user-1", o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)

	_, err = svc.GetUserOrder(ctx, "user-2", o.ID)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	_, err = svc.GetUserOrder(ctx, "user-1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
