package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/bitsmart-orderflow/internal/apperrors"
	"github.com/imrishuroy/bitsmart-orderflow/internal/auth"
	"github.com/imrishuroy/bitsmart-orderflow/internal/cart"
	"github.com/imrishuroy/bitsmart-orderflow/internal/catalog"
	"github.com/imrishuroy/bitsmart-orderflow/internal/logger"
	"github.com/imrishuroy/bitsmart-orderflow/internal/orders"
)

// classify turns domain sentinels into typed errors. Errors that already
// carry a code pass through unchanged.
func classify(err error) *apperrors.Error {
	if typed := apperrors.As(err); typed != nil {
		return typed
	}
	switch {
	case errors.Is(err, orders.ErrNotFound),
		errors.Is(err, catalog.ErrSellerNotFound),
		errors.Is(err, cart.ErrLineNotFound):
		return apperrors.Wrap(apperrors.CodeNotFound, err, err.Error())
	case errors.Is(err, orders.ErrForbidden),
		errors.Is(err, orders.ErrNotSeller),
		errors.Is(err, catalog.ErrRoleMismatch):
		return apperrors.Wrap(apperrors.CodeForbidden, err, err.Error())
	case errors.Is(err, orders.ErrStatusMismatch),
		errors.Is(err, catalog.ErrVersionConflict):
		return apperrors.Wrap(apperrors.CodeConflict, err, "order was changed by someone else, reload and retry")
	case errors.Is(err, orders.ErrPaymentNotPending):
		return apperrors.Wrap(apperrors.CodeStateConflict, err, err.Error())
	case errors.Is(err, orders.ErrInvalidCost),
		errors.Is(err, orders.ErrInvalidSide),
		errors.Is(err, orders.ErrInvalidCursor),
		errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, cart.ErrOutOfStock),
		errors.Is(err, catalog.ErrNegativeQuantity),
		errors.Is(err, catalog.ErrNegativePrice),
		errors.Is(err, catalog.ErrUnpriced):
		return apperrors.Wrap(apperrors.CodeValidation, err, err.Error())
	}
	return apperrors.Wrap(apperrors.CodeInternal, err, "unexpected error")
}

// writeError renders err as {"error":{code,message,details}} and aborts.
func writeError(c *gin.Context, log *logger.Logger, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	typed := classify(err)
	meta := apperrors.MetadataFor(typed.Code())

	msg := meta.PublicMessage
	if typed.Code() != apperrors.CodeInternal {
		if m := typed.Message(); m != "" {
			msg = m
		}
	}
	body := gin.H{"code": typed.Code(), "message": msg}
	if meta.DetailsAllowed {
		if d := typed.Details(); d != nil {
			body["details"] = d
		}
	}
	payload := gin.H{"error": body}
	if typed.Code() == apperrors.CodeUnauthorized {
		payload["action"] = auth.ActionReauthenticate
	}

	if log != nil {
		ctx := log.WithField(c.Request.Context(), "error_code", string(typed.Code()))
		if meta.HTTPStatus >= 500 {
			log.Error(ctx, "request failed", err)
		} else {
			log.Warn(log.WithField(ctx, "error", err.Error()), "request rejected")
		}
	}
	c.AbortWithStatusJSON(meta.HTTPStatus, payload)
}
