package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/imrishuroy/bitsmart-orderflow/internal/apperrors"
	"github.com/imrishuroy/bitsmart-orderflow/internal/config"
	"github.com/imrishuroy/bitsmart-orderflow/internal/logger"
)

const (
	sandboxEnv    = "sandbox"
	productionEnv = "production"
)

var baseURLs = map[string]string{
	sandboxEnv:    "https://connect.squareupsandbox.com",
	productionEnv: "https://connect.squareup.com",
}

// paymentsAPI is the slice of the Square SDK the gateway calls.
type paymentsAPI interface {
	Create(ctx context.Context, request *sq.CreatePaymentRequest, opts ...sqoption.RequestOption) (*sq.CreatePaymentResponse, error)
}

// SquareGateway charges cards through the Square Payments API.
type SquareGateway struct {
	payments   paymentsAPI
	locationID string
	currency   string
	log        *logger.Logger
}

// NewSquareGateway builds a gateway from config. It returns ErrNotConfigured
// when no access token is set.
func NewSquareGateway(cfg config.PaymentConfig, log *logger.Logger) (*SquareGateway, error) {
	if !cfg.Configured() {
		return nil, ErrNotConfigured
	}
	env := strings.ToLower(strings.TrimSpace(cfg.SquareEnvironment))
	if env == "" {
		env = sandboxEnv
	}
	baseURL, ok := baseURLs[env]
	if !ok {
		return nil, fmt.Errorf("square environment must be %q or %q", sandboxEnv, productionEnv)
	}
	sdk := sqclient.NewClient(
		sqoption.WithBaseURL(baseURL),
		sqoption.WithToken(strings.TrimSpace(cfg.SquareAccessToken)),
	)
	return newSquareGateway(sdk.Payments, cfg.SquareLocationID, cfg.Currency, log), nil
}

func newSquareGateway(payments paymentsAPI, locationID, currency string, log *logger.Logger) *SquareGateway {
	if log == nil {
		log = logger.Nop()
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = "INR"
	}
	return &SquareGateway{
		payments:   payments,
		locationID: strings.TrimSpace(locationID),
		currency:   currency,
		log:        log,
	}
}

func (g *SquareGateway) Charge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	if strings.TrimSpace(req.SourceID) == "" {
		return nil, ErrCancelled
	}
	if req.AmountMinor <= 0 {
		return nil, ErrInvalidAmount
	}
	sqReq := g.toSquareRequest(req)
	ctx = g.log.WithFields(ctx, map[string]any{
		"operation":       "create_payment",
		"buyer_id":        req.BuyerID,
		"amount":          req.AmountMinor,
		"idempotency_key": sqReq.IdempotencyKey,
	})

	resp, err := g.payments.Create(ctx, sqReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("square create payment: %w", ctxErr)
		}
		mapped := mapSquareError(err)
		g.log.Error(ctx, "square create payment failed", mapped)
		return nil, mapped
	}

	p := resp.GetPayment()
	charge := &Charge{
		Reference: stringValue(p.GetID()),
		Status:    stringValue(p.GetStatus()),
	}
	if charge.Status == "FAILED" || charge.Status == "CANCELED" {
		return nil, apperrors.New(apperrors.CodeDependency, "payment "+strings.ToLower(charge.Status))
	}
	g.log.Info(g.log.WithField(ctx, "payment_id", charge.Reference), "square payment created")
	return charge, nil
}

func (g *SquareGateway) toSquareRequest(req ChargeRequest) *sq.CreatePaymentRequest {
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = "bitsmart-" + uuid.NewString()
	}
	currency := sq.Currency(g.currency)
	if c := strings.ToUpper(strings.TrimSpace(req.Currency)); c != "" {
		currency = sq.Currency(c)
	}
	amount := req.AmountMinor
	out := &sq.CreatePaymentRequest{
		IdempotencyKey: key,
		SourceID:       req.SourceID,
		AmountMoney:    &sq.Money{Amount: &amount, Currency: &currency},
		LocationID:     ptrString(g.locationID),
		ReferenceID:    ptrString(req.BuyerID),
		Note:           ptrString(chargeNote(req)),
	}
	if email := strings.TrimSpace(req.BuyerEmail); email != "" {
		out.BuyerEmailAddress = &email
	}
	return out
}

// chargeNote carries buyer and seller ids so a payment can be traced to its orders.
func chargeNote(req ChargeRequest) string {
	if n := strings.TrimSpace(req.Note); n != "" {
		return n
	}
	note := "BITSmart order"
	if req.BuyerName != "" {
		note += " by " + req.BuyerName
	}
	if len(req.SellerIDs) > 0 {
		note += " for " + strings.Join(req.SellerIDs, ",")
	}
	// Square caps notes at 500 characters
	if len(note) > 500 {
		note = note[:500]
	}
	return note
}

func mapSquareError(err error) error {
	var apiErr *sqcore.APIError
	if errors.As(err, &apiErr) {
		return apperrors.Wrap(codeForStatus(apiErr.StatusCode), err, "square create payment failed")
	}
	return apperrors.Wrap(apperrors.CodeDependency, err, "square create payment failed")
}

func codeForStatus(status int) apperrors.Code {
	switch status {
	case http.StatusUnauthorized:
		return apperrors.CodeUnauthorized
	case http.StatusForbidden:
		return apperrors.CodeForbidden
	case http.StatusConflict:
		return apperrors.CodeIdempotency
	case http.StatusPaymentRequired, http.StatusBadRequest:
		return apperrors.CodeValidation
	default:
		if status >= 400 && status < 500 {
			return apperrors.CodeValidation
		}
		return apperrors.CodeDependency
	}
}

func ptrString(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}

func stringValue(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
