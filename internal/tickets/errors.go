package tickets

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidBuyerDetails = errors.New("invalid buyer details")
	ErrEventNotFound       = errors.New("event not found")
	ErrEventNotApproved    = errors.New("event is not approved for sale")
	ErrPaymentNotConfirmed = errors.New("payment not confirmed")
	ErrPaymentMismatch     = errors.New("payment does not belong to this purchase")
	ErrPaymentUnavailable  = errors.New("payment processor unavailable")
	ErrTicketNotFound      = errors.New("ticket not found")
	ErrTicketRedeemed      = errors.New("ticket already redeemed")
	ErrQRMismatch          = errors.New("qr code does not encode this ticket")

	// Store errors for the two unique keys on tickets.
	ErrDuplicateID      = errors.New("ticket id already exists")
	ErrDuplicatePayment = errors.New("payment already used for a ticket")
)

// ValidationError reports a rejected input field. It matches ErrInvalidBuyerDetails
// when the field belongs to the buyer.
type ValidationError struct {
	Field  string
	Reason string
	buyer  bool
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrInvalidBuyerDetails) match buyer field errors.
func (e *ValidationError) Is(target error) bool {
	return e.buyer && target == ErrInvalidBuyerDetails
}

func buyerError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason, buyer: true}
}

// PaymentStatusError is ErrPaymentNotConfirmed with the processor's status attached.
type PaymentStatusError struct {
	Status string
}

func (e *PaymentStatusError) Error() string {
	return fmt.Sprintf("payment not confirmed: status %s", e.Status)
}

func (e *PaymentStatusError) Unwrap() error {
	return ErrPaymentNotConfirmed
}
