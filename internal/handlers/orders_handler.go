package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/bitsmart-orderflow/internal/orders"
	"github.com/imrishuroy/bitsmart-orderflow/internal/validation"
)

func (a *api) registerOrdersRoutes(r *gin.RouterGroup) {
	r.GET("/orders", a.listOrders)
	r.GET("/orders/:id", a.getOrder)
	r.POST("/orders/:id/advance", a.advanceOrder)
	r.POST("/orders/:id/deliver", a.deliverOrder)
	r.PUT("/orders/:id/delivery", a.setDelivery)
	r.POST("/orders/:id/payment", a.reconcilePayment)
}

func (a *api) listOrders(c *gin.Context) {
	id, ok := a.identity(c)
	if !ok {
		return
	}
	var q validation.ListOrdersQuery
	if err := validation.BindQueryAndValidate(c, &q, a.v); err != nil {
		return
	}
	limit := q.Limit
	if limit <= 0 {
		limit = a.cfg.Browse.OrdersPageSize
	}
	page, err := a.cfg.Orders.List(c.Request.Context(), actorOf(id), orders.Side(q.Role), limit, q.Cursor)
	if err != nil {
		writeError(c, a.log, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (a *api) getOrder(c *gin.Context) {
	id, ok := a.identity(c)
	if !ok {
		return
	}
	o, err := a.cfg.Orders.Get(c.Request.Context(), c.Param("id"), actorOf(id))
	if err != nil {
		writeError(c, a.log, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (a *api) advanceOrder(c *gin.Context) {
	a.transition(c, a.cfg.Orders.Advance, "Order already completed")
}

func (a *api) deliverOrder(c *gin.Context) {
	a.transition(c, a.cfg.Orders.MarkDelivered, "Order already delivered")
}

type transitionFunc func(ctx context.Context, orderID string, actor orders.Actor) (*orders.Result, error)

func (a *api) transition(c *gin.Context, fn transitionFunc, doneMessage string) {
	id, ok := a.identity(c)
	if !ok {
		return
	}
	orderID := c.Param("id")
	res, err := fn(a.log.WithOrderID(c.Request.Context(), orderID), orderID, actorOf(id))
	if err != nil {
		writeError(c, a.log, err)
		return
	}
	body := gin.H{"order": res.Order, "applied": res.Applied}
	if !res.Applied {
		body["message"] = doneMessage
	}
	c.JSON(http.StatusOK, body)
}

func (a *api) setDelivery(c *gin.Context) {
	id, ok := a.identity(c)
	if !ok {
		return
	}
	var req validation.DeliveryInfoRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		return
	}
	o, err := a.cfg.Orders.SetDeliveryInfo(c.Request.Context(), c.Param("id"), actorOf(id), orders.DeliveryInput{
		ExpectedDate: req.ExpectedDate,
		Carrier:      req.Carrier,
		Cost:         req.Cost,
		Notes:        req.Notes,
	})
	if err != nil {
		writeError(c, a.log, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (a *api) reconcilePayment(c *gin.Context) {
	id, ok := a.identity(c)
	if !ok {
		return
	}
	var req validation.ReconcilePaymentRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		return
	}
	o, err := a.cfg.Orders.ReconcilePayment(c.Request.Context(), c.Param("id"), actorOf(id), req.Reference)
	if err != nil {
		writeError(c, a.log, err)
		return
	}
	c.JSON(http.StatusOK, o)
}
