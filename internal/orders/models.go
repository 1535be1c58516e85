package orders

import "time"

// Status of an order along the delivery pipeline.
type Status string

const (
	StatusPending        Status = "pending"
	StatusConfirmed      Status = "confirmed"
	StatusProcessing     Status = "processing"
	StatusPreparing      Status = "preparing"
	StatusShipped        Status = "shipped"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
	StatusReturned       Status = "returned"
)

const (
	PaymentMethodCOD    = "COD"
	PaymentMethodOnline = "Online"

	PaymentStatusPending = "Pending"
	PaymentStatusPaid    = "paid"
	PaymentStatusFailed  = "failed"
)

const (
	CancelledByCustomer = "customer"
	CancelledByAdmin    = "admin"
	CancelledBySystem   = "system"
)

// statusRank orders the delivery pipeline. cancelled and returned are
// exits and are ranked past delivered so the forward-only rule covers
// them too.
var statusRank = map[Status]int{
	StatusPending:        0,
	StatusConfirmed:      1,
	StatusProcessing:     2,
	StatusPreparing:      3,
	StatusShipped:        4,
	StatusOutForDelivery: 5,
	StatusDelivered:      6,
	StatusReturned:       7,
}

// CancellableStatuses is the canonical set of statuses an order may be
// cancelled from. Orders that are already being shipped stay in the
// pipeline.
var CancellableStatuses = []Status{StatusPending, StatusConfirmed, StatusProcessing, StatusPreparing}

func (s Status) Valid() bool {
	if s == StatusCancelled {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// Cancellable reports whether an order in this status may still be
// cancelled.
func (s Status) Cancellable() bool {
	for _, c := range CancellableStatuses {
		if s == c {
			return true
		}
	}
	return false
}

// CanTransition reports whether moving from one status to another keeps
// the pipeline monotonic. Cancellation is only reachable through the
// cancellable set and never from an exit state.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	if from == StatusCancelled {
		return false
	}
	if to == StatusCancelled {
		return from.Cancellable()
	}
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}

// Item is a single order line. Price is the unit price at order time in
// the smallest currency unit.
type Item struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Price     int64  `json:"price"`
}

// Address is an inline shipping address snapshot.
type Address struct {
	FullName     string `json:"full_name"`
	Phone        string `json:"phone"`
	AddressLine1 string `json:"address_line1"`
	AddressLine2 string `json:"address_line2,omitempty"`
	City         string `json:"city"`
	State        string `json:"state"`
	Pincode      string `json:"pincode"`
	Label        string `json:"label"`
}

// Complete reports whether all required address fields are present.
func (a Address) Complete() bool {
	return a.Phone != "" && a.AddressLine1 != "" && a.City != "" && a.State != "" && a.Pincode != ""
}

// ShippingAddress is a tagged variant: either a reference to a stored
// address or an inline snapshot. Exactly one side is set.
type ShippingAddress struct {
	AddressID string   `json:"address_id,omitempty"`
	Inline    *Address `json:"address,omitempty"`
}

func (s ShippingAddress) Validate() error {
	if s.AddressID != "" && s.Inline != nil {
		return &ValidationError{Msg: "shipping address must be either a stored address id or an inline address, not both"}
	}
	if s.AddressID == "" && s.Inline == nil {
		return &ValidationError{Msg: "shipping address is required"}
	}
	if s.Inline != nil && !s.Inline.Complete() {
		return &ValidationError{Msg: "inline shipping address is missing required fields (phone, address_line1, city, state, pincode)"}
	}
	return nil
}

// Tracking holds delivery progress timestamps and the last known rider
// location.
type Tracking struct {
	AcceptedAt        *time.Time `json:"accepted_at,omitempty"`
	PickedUpAt        *time.Time `json:"picked_up_at,omitempty"`
	DeliveredAt       *time.Time `json:"delivered_at,omitempty"`
	RiderLatitude     *float64   `json:"rider_latitude,omitempty"`
	RiderLongitude    *float64   `json:"rider_longitude,omitempty"`
	LocationUpdatedAt *time.Time `json:"location_updated_at,omitempty"`
}

// Order is the order entity as persisted. The delivery OTP is visible to
// the owning customer in every read path; handlers strip it for riders.
type Order struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	Items           []Item          `json:"items"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	TotalAmount     int64           `json:"total_amount"`
	DeliveryCharges int64           `json:"delivery_charges"`
	PaymentMethod   string          `json:"payment_method"`
	PaymentStatus   string          `json:"payment_status"`
	OrderStatus     Status          `json:"order_status"`
	RiderID         string          `json:"rider_id,omitempty"`

	DeliveryOTP    string     `json:"delivery_otp,omitempty"`
	OTPGeneratedAt *time.Time `json:"otp_generated_at,omitempty"`
	OTPVerified    bool       `json:"otp_verified"`
	OTPVerifiedAt  *time.Time `json:"otp_verified_at,omitempty"`

	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	CancelledBy        string     `json:"cancelled_by,omitempty"`

	TransactionID string   `json:"transaction_id,omitempty"`
	Tracking      Tracking `json:"tracking"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WithoutOTP returns a copy safe to hand to riders.
func (o Order) WithoutOTP() Order {
	o.DeliveryOTP = ""
	return o
}
