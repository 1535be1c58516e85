package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Conf is the postgres-backed Store. Stock debits and credits ride in
// the same transaction as the order mutation, and every status change is
// a conditional update, so concurrent requests can neither oversell a
// product nor clobber each other's transitions.
type Conf struct {
	db *sql.DB
}

func NewConf(db *sql.DB) (*Conf, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	return &Conf{db: db}, nil
}

var _ Store = (*Conf)(nil)

const orderColumns = `
	id, user_id, address_id, address, total_amount, delivery_charges,
	payment_method, payment_status, order_status, rider_id,
	delivery_otp, otp_generated_at, otp_verified, otp_verified_at,
	cancelled_at, cancellation_reason, cancelled_by, transaction_id,
	accepted_at, picked_up_at, delivered_at,
	rider_latitude, rider_longitude, rider_location_at,
	created_at, updated_at
`

func (c *Conf) Create(ctx context.Context, o Order) (Order, error) {
	var addressJSON []byte
	var addressID sql.NullString
	if o.ShippingAddress.AddressID != "" {
		addressID = sql.NullString{String: o.ShippingAddress.AddressID, Valid: true}
	} else if o.ShippingAddress.Inline != nil {
		var err error
		addressJSON, err = json.Marshal(o.ShippingAddress.Inline)
		if err != nil {
			return Order{}, fmt.Errorf("marshaling inline address: %w", err)
		}
	}

	err := c.withTx(ctx, func(tx *sql.Tx) error {
		// Resolve a stored address before the insert so a bad id comes
		// back as a validation failure rather than an FK violation. The
		// resolved fields are snapshotted onto the order so it keeps its
		// address even if the book entry is deleted later.
		if addressID.Valid {
			var owner string
			var addr Address
			queryAddr := `
				SELECT user_id, full_name, phone, address_line1, address_line2, city, state, pincode, label
				FROM addresses
				WHERE id = $1
			`
			err := tx.QueryRowContext(ctx, queryAddr, addressID.String).
				Scan(&owner, &addr.FullName, &addr.Phone, &addr.AddressLine1, &addr.AddressLine2,
					&addr.City, &addr.State, &addr.Pincode, &addr.Label)
			if errors.Is(err, sql.ErrNoRows) {
				return &ValidationError{Msg: fmt.Sprintf("unknown shipping address %s", addressID.String)}
			}
			if err != nil {
				return fmt.Errorf("failed to query address %s: %w", addressID.String, err)
			}
			if owner != o.UserID {
				return &ValidationError{Msg: fmt.Sprintf("shipping address %s does not belong to this user", addressID.String)}
			}
			addressJSON, err = json.Marshal(addr)
			if err != nil {
				return fmt.Errorf("marshaling address snapshot: %w", err)
			}
		}

		queryInsert := `
			INSERT INTO orders (id, user_id, address_id, address, total_amount, delivery_charges,
				payment_method, payment_status, order_status, delivery_otp, otp_generated_at,
				created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW(), NOW())
		`
		_, err := tx.ExecContext(ctx, queryInsert, o.ID, o.UserID, addressID, addressJSON,
			o.TotalAmount, o.DeliveryCharges, o.PaymentMethod, o.PaymentStatus, o.OrderStatus, o.DeliveryOTP)
		if err != nil {
			return fmt.Errorf("failed to insert order: %w", err)
		}

		for _, item := range o.Items {
			// Conditional decrement: the row only changes when enough
			// stock remains, which closes the check-then-debit race.
			queryDebit := `
				UPDATE products
				SET stock = stock - $2, updated_at = NOW()
				WHERE id = $1 AND stock >= $2
				RETURNING name, stock
			`
			var name string
			var remaining int
			err := tx.QueryRowContext(ctx, queryDebit, item.ProductID, item.Quantity).Scan(&name, &remaining)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return c.stockError(ctx, tx, item)
				}
				return fmt.Errorf("failed to debit stock for %s: %w", item.ProductID, err)
			}

			queryItem := `
				INSERT INTO order_items (order_id, product_id, quantity, price)
				VALUES ($1, $2, $3, $4)
			`
			if _, err := tx.ExecContext(ctx, queryItem, o.ID, item.ProductID, item.Quantity, item.Price); err != nil {
				return fmt.Errorf("failed to insert order item: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	return c.GetByID(ctx, o.ID)
}

// stockError distinguishes an unknown product from insufficient stock so
// the caller gets an actionable message.
func (c *Conf) stockError(ctx context.Context, tx *sql.Tx, item Item) error {
	var name string
	var available int
	err := tx.QueryRowContext(ctx, `SELECT name, stock FROM products WHERE id = $1`, item.ProductID).
		Scan(&name, &available)
	if errors.Is(err, sql.ErrNoRows) {
		return &ProductNotFoundError{ProductID: item.ProductID}
	}
	if err != nil {
		return fmt.Errorf("failed to query product %s: %w", item.ProductID, err)
	}
	return &InsufficientStockError{ProductID: item.ProductID, Name: name, Requested: item.Quantity, Available: available}
}

func (c *Conf) GetByID(ctx context.Context, id string) (Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	o, err := scanOrder(c.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("failed to query order: %w", err)
	}

	items, err := c.loadItems(ctx, id)
	if err != nil {
		return Order{}, err
	}
	o.Items = items
	return o, nil
}

func (c *Conf) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`
	return c.queryOrders(ctx, query, userID)
}

func (c *Conf) List(ctx context.Context, status Status, limit, offset int) ([]Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE ($1 = '' OR order_status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	return c.queryOrders(ctx, query, string(status), limit, offset)
}

func (c *Conf) Transition(ctx context.Context, id string, from, to Status) (Order, error) {
	query := `
		UPDATE orders
		SET order_status = $3,
		    picked_up_at = CASE WHEN $3 = 'out_for_delivery' THEN NOW() ELSE picked_up_at END,
		    delivered_at = CASE WHEN $3 = 'delivered' THEN NOW() ELSE delivered_at END,
		    updated_at = NOW()
		WHERE id = $1 AND order_status = $2
	`
	res, err := c.db.ExecContext(ctx, query, id, string(from), string(to))
	if err != nil {
		return Order{}, fmt.Errorf("failed to update order status: %w", err)
	}
	if err := c.ensureApplied(ctx, res, id, to); err != nil {
		return Order{}, err
	}
	return c.GetByID(ctx, id)
}

func (c *Conf) Cancel(ctx context.Context, id, by, reason string, from []Status) (Order, error) {
	if len(from) == 0 {
		from = CancellableStatuses
	}

	placeholders := make([]string, 0, len(from))
	args := []any{id, reason, by}
	for i, s := range from {
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+4))
		args = append(args, string(s))
	}

	err := c.withTx(ctx, func(tx *sql.Tx) error {
		query := fmt.Sprintf(`
			UPDATE orders
			SET order_status = 'cancelled', cancelled_at = NOW(),
			    cancellation_reason = $2, cancelled_by = $3, updated_at = NOW()
			WHERE id = $1 AND order_status IN (%s)
		`, strings.Join(placeholders, ", "))

		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to cancel order: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if n == 0 {
			var current string
			err := tx.QueryRowContext(ctx, `SELECT order_status FROM orders WHERE id = $1`, id).Scan(&current)
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("failed to query order status: %w", err)
			}
			return &InvalidTransitionError{OrderID: id, From: Status(current), To: StatusCancelled}
		}

		// Credit back exactly what creation debited.
		queryCredit := `
			UPDATE products p
			SET stock = p.stock + oi.quantity, updated_at = NOW()
			FROM order_items oi
			WHERE oi.order_id = $1 AND oi.product_id = p.id
		`
		if _, err := tx.ExecContext(ctx, queryCredit, id); err != nil {
			return fmt.Errorf("failed to restore stock: %w", err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	return c.GetByID(ctx, id)
}

func (c *Conf) AssignRider(ctx context.Context, id, riderID string) (Order, error) {
	query := `
		UPDATE orders
		SET rider_id = $2, order_status = 'preparing', accepted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND rider_id IS NULL
		  AND order_status IN ('pending', 'confirmed', 'processing')
	`
	res, err := c.db.ExecContext(ctx, query, id, riderID)
	if err != nil {
		return Order{}, fmt.Errorf("failed to assign rider: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Order{}, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		o, err := c.GetByID(ctx, id)
		if err != nil {
			return Order{}, err
		}
		if o.RiderID == riderID {
			// Repeated accept from the same rider is a no-op.
			return o, nil
		}
		if o.RiderID != "" {
			return Order{}, ErrRiderAssigned
		}
		return Order{}, &InvalidTransitionError{OrderID: id, From: o.OrderStatus, To: StatusPreparing}
	}
	return c.GetByID(ctx, id)
}

func (c *Conf) SetDeliveryOTP(ctx context.Context, id, otp string) (Order, error) {
	query := `
		UPDATE orders
		SET delivery_otp = $2, otp_generated_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND otp_verified = FALSE
	`
	res, err := c.db.ExecContext(ctx, query, id, otp)
	if err != nil {
		return Order{}, fmt.Errorf("failed to set delivery OTP: %w", err)
	}
	if err := c.ensureAppliedOTP(ctx, res, id); err != nil {
		return Order{}, err
	}
	return c.GetByID(ctx, id)
}

func (c *Conf) MarkDelivered(ctx context.Context, id string) (Order, error) {
	query := `
		UPDATE orders
		SET order_status = 'delivered', otp_verified = TRUE, otp_verified_at = NOW(),
		    delivered_at = NOW(),
		    payment_status = CASE WHEN payment_method = 'COD' THEN 'paid' ELSE payment_status END,
		    updated_at = NOW()
		WHERE id = $1 AND otp_verified = FALSE
	`
	res, err := c.db.ExecContext(ctx, query, id)
	if err != nil {
		return Order{}, fmt.Errorf("failed to mark delivered: %w", err)
	}
	if err := c.ensureAppliedOTP(ctx, res, id); err != nil {
		return Order{}, err
	}
	return c.GetByID(ctx, id)
}

func (c *Conf) MarkPaid(ctx context.Context, id, transactionID string) (Order, error) {
	query := `
		UPDATE orders
		SET payment_status = 'paid', transaction_id = $2, updated_at = NOW()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, query, id, transactionID)
	if err != nil {
		return Order{}, fmt.Errorf("failed to mark order paid: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Order{}, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return Order{}, ErrNotFound
	}
	return c.GetByID(ctx, id)
}

// ensureApplied maps a zero-row conditional update to a NotFound or
// InvalidTransition error.
func (c *Conf) ensureApplied(ctx context.Context, res sql.Result, id string, to Status) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	o, err := c.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return &InvalidTransitionError{OrderID: id, From: o.OrderStatus, To: to}
}

// ensureAppliedOTP maps a zero-row OTP update to NotFound or
// AlreadyVerified.
func (c *Conf) ensureAppliedOTP(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := c.GetByID(ctx, id); err != nil {
		return err
	}
	return ErrAlreadyVerified
}

func (c *Conf) queryOrders(ctx context.Context, query string, args ...any) ([]Order, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var list []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		list = append(list, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}

	for i := range list {
		items, err := c.loadItems(ctx, list[i].ID)
		if err != nil {
			return nil, err
		}
		list[i].Items = items
	}
	return list, nil
}

func (c *Conf) loadItems(ctx context.Context, orderID string) ([]Item, error) {
	query := `
		SELECT product_id, quantity, price
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`
	rows, err := c.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ProductID, &it.Quantity, &it.Price); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order items: %w", err)
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (Order, error) {
	var o Order
	var addressID, riderID, deliveryOTP, cancelReason, cancelledBy, transactionID sql.NullString
	var addressJSON []byte
	var otpGeneratedAt, otpVerifiedAt, cancelledAt, acceptedAt, pickedUpAt, deliveredAt, riderLocationAt sql.NullTime
	var riderLat, riderLng sql.NullFloat64
	var status string

	err := row.Scan(&o.ID, &o.UserID, &addressID, &addressJSON, &o.TotalAmount, &o.DeliveryCharges,
		&o.PaymentMethod, &o.PaymentStatus, &status, &riderID,
		&deliveryOTP, &otpGeneratedAt, &o.OTPVerified, &otpVerifiedAt,
		&cancelledAt, &cancelReason, &cancelledBy, &transactionID,
		&acceptedAt, &pickedUpAt, &deliveredAt,
		&riderLat, &riderLng, &riderLocationAt,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Order{}, err
	}

	o.OrderStatus = Status(status)
	o.ShippingAddress.AddressID = addressID.String
	if len(addressJSON) > 0 {
		var addr Address
		if err := json.Unmarshal(addressJSON, &addr); err != nil {
			return Order{}, fmt.Errorf("unmarshaling inline address: %w", err)
		}
		o.ShippingAddress.Inline = &addr
	}
	o.RiderID = riderID.String
	o.DeliveryOTP = deliveryOTP.String
	o.OTPGeneratedAt = nullTimePtr(otpGeneratedAt)
	o.OTPVerifiedAt = nullTimePtr(otpVerifiedAt)
	o.CancelledAt = nullTimePtr(cancelledAt)
	o.CancellationReason = cancelReason.String
	o.CancelledBy = cancelledBy.String
	o.TransactionID = transactionID.String
	o.Tracking.AcceptedAt = nullTimePtr(acceptedAt)
	o.Tracking.PickedUpAt = nullTimePtr(pickedUpAt)
	o.Tracking.DeliveredAt = nullTimePtr(deliveredAt)
	o.Tracking.LocationUpdatedAt = nullTimePtr(riderLocationAt)
	if riderLat.Valid {
		o.Tracking.RiderLatitude = &riderLat.Float64
	}
	if riderLng.Valid {
		o.Tracking.RiderLongitude = &riderLng.Float64
	}
	return o, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func (c *Conf) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if er := tx.Rollback(); er != nil && !errors.Is(er, sql.ErrTxDone) {
			return fmt.Errorf("failed to rollback withTx: %w", err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit withTx: %w", err)
	}
	return nil
}
