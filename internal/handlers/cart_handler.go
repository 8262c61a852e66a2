package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/bitsmart-orderflow/internal/cart"
	"github.com/imrishuroy/bitsmart-orderflow/internal/validation"
)

func (a *api) registerCartRoutes(r *gin.RouterGroup) {
	r.GET("/cart", a.getCart)
	r.POST("/cart/items", a.addCartItem)
	r.PATCH("/cart/items/:key", a.updateCartItem)
	r.DELETE("/cart/items/:key", a.removeCartItem)
	r.DELETE("/cart", a.clearCart)
}

func cartView(c *cart.Cart) gin.H {
	lines := c.Lines
	if lines == nil {
		lines = []cart.Line{}
	}
	return gin.H{
		"items":       lines,
		"total_items": c.TotalItems(),
		"total":       c.Total().InexactFloat64(),
	}
}

func (a *api) getCart(c *gin.Context) {
	id, ok := a.identity(c)
	if !ok {
		return
	}
	crt, err := a.cfg.Carts.Load(c.Request.Context(), id.UserID)
	if err != nil {
		writeError(c, a.log, err)
		return
	}
	c.JSON(http.StatusOK, cartView(crt))
}

func (a *api) addCartItem(c *gin.Context) {
	id, ok := a.identity(c)
	if !ok {
		return
	}
	var req validation.AddCartItemRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		return
	}
	crt, err := a.cfg.Carts.AddFromCatalog(c.Request.Context(), id.UserID, callerRole(id), req.SellerID, req.Category, req.Quantity)
	if err != nil {
		writeError(c, a.log, err)
		return
	}
	c.JSON(http.StatusOK, cartView(crt))
}

func (a *api) updateCartItem(c *gin.Context) {
	id, ok := a.identity(c)
	if !ok {
		return
	}
	var req validation.UpdateCartItemRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		return
	}
	crt, err := a.cfg.Carts.UpdateQuantity(c.Request.Context(), id.UserID, c.Param("key"), *req.Quantity)
	if err != nil {
		writeError(c, a.log, err)
		return
	}
	c.JSON(http.StatusOK, cartView(crt))
}

func (a *api) removeCartItem(c *gin.Context) {
	id, ok := a.identity(c)
	if !ok {
		return
	}
	crt, err := a.cfg.Carts.Remove(c.Request.Context(), id.UserID, c.Param("key"))
	if err != nil {
		writeError(c, a.log, err)
		return
	}
	c.JSON(http.StatusOK, cartView(crt))
}

func (a *api) clearCart(c *gin.Context) {
	id, ok := a.identity(c)
	if !ok {
		return
	}
	if err := a.cfg.Carts.Clear(c.Request.Context(), id.UserID); err != nil {
		writeError(c, a.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}
