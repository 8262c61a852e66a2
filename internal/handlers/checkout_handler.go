package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/bitsmart-orderflow/internal/checkout"
	"github.com/imrishuroy/bitsmart-orderflow/internal/validation"
)

const idempotencyHeader = "Idempotency-Key"

func (a *api) registerCheckoutRoutes(r *gin.RouterGroup) {
	r.POST("/checkout", a.placeOrder)
}

// placeOrder runs the order placement workflow over the caller's cart. The
// Idempotency-Key header is optional; a repeated key replays the first response.
func (a *api) placeOrder(c *gin.Context) {
	id, ok := a.identity(c)
	if !ok {
		return
	}
	var req validation.CheckoutRequest
	if c.Request.ContentLength != 0 {
		if err := validation.BindAndValidate(c, &req, a.v); err != nil {
			return
		}
	}
	key := strings.TrimSpace(c.GetHeader(idempotencyHeader))

	ctx := c.Request.Context()
	if key != "" {
		ctx = a.log.WithField(ctx, "idempotency_key", key)
	}
	res, err := a.cfg.Checkout.Place(ctx, checkout.Request{
		Buyer: checkout.Buyer{
			ID:    id.UserID,
			Name:  id.Name,
			Email: id.Email,
			Role:  callerRole(id),
		},
		PaymentSourceID: req.PaymentSourceID,
		IdempotencyKey:  key,
	})
	if err != nil {
		writeError(c, a.log, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
		c.Header("Idempotent-Replayed", "true")
	}
	c.JSON(status, res)
}
