package payment

import (
	"context"
	"errors"
)

// CancelledMessage is recorded on orders whose buyer closed the payment sheet.
const CancelledMessage = "Payment popup closed"

var (
	// ErrCancelled means the buyer dismissed the payment sheet without paying.
	ErrCancelled = errors.New("payment cancelled")
	// ErrNotConfigured means no gateway credentials were supplied.
	ErrNotConfigured = errors.New("payment gateway not configured")
	ErrInvalidAmount = errors.New("payment amount must be positive")
)

// ChargeRequest is one charge covering a whole checkout.
type ChargeRequest struct {
	// SourceID is the card token produced by the payment sheet; empty when cancelled.
	SourceID       string
	IdempotencyKey string
	AmountMinor    int64
	Currency       string
	BuyerID        string
	BuyerName      string
	BuyerEmail     string
	SellerIDs      []string
	Note           string
}

// Charge is what the gateway reports for a successful call.
type Charge struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

// Gateway collects money from the buyer.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*Charge, error)
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, req ChargeRequest) (*Charge, error)

func (f GatewayFunc) Charge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	return f(ctx, req)
}

// FailureMessage is the text stored on an order whose payment did not go through.
func FailureMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled):
		return CancelledMessage
	case errors.Is(err, context.DeadlineExceeded):
		return "Payment timed out"
	default:
		return "Payment failed"
	}
}
