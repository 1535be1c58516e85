package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusDelivered, true},
		{StatusConfirmed, StatusPending, false},
		{StatusProcessing, StatusPreparing, true},
		{StatusPreparing, StatusShipped, true},
		{StatusShipped, StatusOutForDelivery, true},
		{StatusOutForDelivery, StatusDelivered, true},
		{StatusDelivered, StatusShipped, false},
		{StatusDelivered, StatusReturned, true},
		{StatusReturned, StatusDelivered, false},

		// same status is never a transition
		{StatusPending, StatusPending, false},

		// cancellation only inside the cancellable window
		{StatusPending, StatusCancelled, true},
		{StatusConfirmed, StatusCancelled, true},
		{StatusProcessing, StatusCancelled, true},
		{StatusPreparing, StatusCancelled, true},
		{StatusShipped, StatusCancelled, false},
		{StatusOutForDelivery, StatusCancelled, false},
		{StatusDelivered, StatusCancelled, false},

		// cancelled is terminal
		{StatusCancelled, StatusPending, false},
		{StatusCancelled, StatusDelivered, false},

		// unknown statuses never transition
		{"limbo", StatusConfirmed, false},
		{StatusPending, "limbo", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusConfirmed, StatusProcessing, StatusPreparing,
		StatusShipped, StatusOutForDelivery, StatusDelivered, StatusCancelled, StatusReturned} {
		assert.True(t, s.Valid(), string(s))
	}
	assert.False(t, Status("limbo").Valid())
	assert.False(t, Status("").Valid())
}

func TestShippingAddressValidate(t *testing.T) {
	full := &Address{
		Phone: "98000", AddressLine1: "1 Main St", City: "Kathmandu", State: "Bagmati", Pincode: "44600",
	}

	assert.NoError(t, ShippingAddress{AddressID: "a1"}.Validate())
	assert.NoError(t, ShippingAddress{Inline: full}.Validate())
	assert.Error(t, ShippingAddress{}.Validate())
	assert.Error(t, ShippingAddress{AddressID: "a1", Inline: full}.Validate())
	assert.Error(t, ShippingAddress{Inline: &Address{Phone: "98000"}}.Validate())
}

func TestWithoutOTP(t *testing.T) {
	o := Order{ID: "o1", DeliveryOTP: "123456"}
	stripped := o.WithoutOTP()
	assert.Empty(t, stripped.DeliveryOTP)
	assert.Equal(t, "123456", o.DeliveryOTP)
}
