package orders

import "context"

// Store is the persistence contract the lifecycle service depends on.
// Every mutating call is a conditional atomic update: the store applies
// the change only when the order is still in the expected state and
// reports a typed error otherwise, so concurrent callers can never lose
// updates or oversell stock.
type Store interface {
	// Create inserts the order and debits product stock for every item
	// in one transaction. If any item cannot be satisfied the whole
	// operation fails and no stock is altered.
	Create(ctx context.Context, o Order) (Order, error)

	GetByID(ctx context.Context, id string) (Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	// List returns orders filtered by status ("" means all), newest first.
	List(ctx context.Context, status Status, limit, offset int) ([]Order, error)

	// Transition moves the order from one status to another, stamping
	// tracking timestamps that belong to the target status. The update
	// only applies while the order is still in the expected status.
	Transition(ctx context.Context, id string, from, to Status) (Order, error)

	// Cancel marks the order cancelled and credits stock back for every
	// item, in one transaction, provided the current status is in the
	// given set.
	Cancel(ctx context.Context, id, by, reason string, from []Status) (Order, error)

	// AssignRider sets the rider exactly once while the order is still
	// assignable, moving it to preparing.
	AssignRider(ctx context.Context, id, riderID string) (Order, error)

	// SetDeliveryOTP replaces the OTP on a not-yet-verified order.
	SetDeliveryOTP(ctx context.Context, id, otp string) (Order, error)

	// MarkDelivered flips otp_verified exactly once, moves the order to
	// delivered and settles COD payment.
	MarkDelivered(ctx context.Context, id string) (Order, error)

	// MarkPaid records a successful online payment.
	MarkPaid(ctx context.Context, id, transactionID string) (Order, error)
}
