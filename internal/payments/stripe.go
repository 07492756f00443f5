// Package payments creates and confirms card payments through Stripe.
package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.uber.org/zap"
)

// Metadata keys written on every intent.
const (
	MetaEventID   = "event_id"
	MetaUserID    = "user_id"
	MetaAmountVND = "amount_vnd"
)

// StatusSucceeded is the only status that allows a ticket to be issued.
const StatusSucceeded = string(stripe.PaymentIntentStatusSucceeded)

// MinChargeMinor is the smallest amount Stripe accepts for USD, in cents.
const MinChargeMinor = 50

var (
	ErrNotConfigured  = errors.New("stripe is not configured")
	ErrIntentNotFound = errors.New("payment intent not found")
	ErrAmountTooSmall = errors.New("amount is below the processor minimum")
)

// Intent is the subset of a payment intent the service needs.
type Intent struct {
	ID           string            `json:"payment_intent_id"`
	ClientSecret string            `json:"client_secret,omitempty"`
	Status       string            `json:"status"`
	AmountMinor  int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Metadata     map[string]string `json:"-"`
}

// Succeeded reports whether the payment completed.
func (i *Intent) Succeeded() bool {
	return i != nil && i.Status == StatusSucceeded
}

// IntentRequest describes a ticket purchase to charge for.
type IntentRequest struct {
	EventID  string
	UserID   string
	PriceVND int64
}

// Converter turns VND prices into the processor currency's minor unit.
type Converter struct {
	Currency   string
	VNDPerUnit decimal.Decimal
}

// NewConverter parses the configured rate, e.g. "24000" VND per USD.
func NewConverter(currency, vndPerUnit string) (Converter, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(vndPerUnit))
	if err != nil {
		return Converter{}, fmt.Errorf("parse exchange rate %q: %w", vndPerUnit, err)
	}
	if !rate.IsPositive() {
		return Converter{}, fmt.Errorf("exchange rate must be positive, got %s", rate)
	}
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}
	return Converter{Currency: strings.ToLower(currency), VNDPerUnit: rate}, nil
}

// ToMinor converts a VND amount: round to 2 decimals in the target currency, then to cents.
func (c Converter) ToMinor(vnd int64) int64 {
	major := decimal.NewFromInt(vnd).Div(c.VNDPerUnit).Round(2)
	return major.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// Stripe is the Stripe-backed payment authorizer.
type Stripe struct {
	api    *client.API
	conv   Converter
	logger *zap.Logger
}

// NewStripe creates a Stripe authorizer.
func NewStripe(secretKey string, conv Converter, logger *zap.Logger) (*Stripe, error) {
	if secretKey == "" {
		return nil, ErrNotConfigured
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stripe{api: client.New(secretKey, nil), conv: conv, logger: logger}, nil
}

// CreateIntent creates a card payment intent for the converted ticket price.
func (s *Stripe) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	amount := s.conv.ToMinor(req.PriceVND)
	if amount < MinChargeMinor {
		return nil, ErrAmountTooSmall
	}
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(amount),
		Currency:           stripe.String(s.conv.Currency),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
	}
	params.Context = ctx
	params.AddMetadata(MetaEventID, req.EventID)
	params.AddMetadata(MetaUserID, req.UserID)
	params.AddMetadata(MetaAmountVND, strconv.FormatInt(req.PriceVND, 10))

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	s.logger.Info("payment intent created",
		zap.String("payment_intent_id", pi.ID),
		zap.Int64("amount", amount),
		zap.String("event_id", req.EventID))
	return fromStripe(pi), nil
}

// Confirm fetches the intent's current state from Stripe. It does not decide anything;
// callers check Succeeded.
func (s *Stripe) Confirm(ctx context.Context, id string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := s.api.PaymentIntents.Get(id, params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.HTTPStatusCode == http.StatusNotFound {
			return nil, ErrIntentNotFound
		}
		return nil, fmt.Errorf("retrieve payment intent: %w", err)
	}
	return fromStripe(pi), nil
}

func fromStripe(pi *stripe.PaymentIntent) *Intent {
	return &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		AmountMinor:  pi.Amount,
		Currency:     string(pi.Currency),
		Metadata:     pi.Metadata,
	}
}
