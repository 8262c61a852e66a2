package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/bitsmart-orderflow/internal/apperrors"
	"github.com/imrishuroy/bitsmart-orderflow/internal/catalog"
	"github.com/imrishuroy/bitsmart-orderflow/internal/geo"
	"github.com/imrishuroy/bitsmart-orderflow/internal/validation"
)

func (a *api) registerSellerRoutes(r *gin.RouterGroup) {
	r.PUT("/sellers/me", a.saveProfile)
	r.GET("/sellers", a.browseSellers)
	r.GET("/stock/:sellerId", a.viewStock)
	r.PUT("/stock/me", a.editStock)
}

func (a *api) saveProfile(c *gin.Context) {
	id, ok := a.identity(c)
	if !ok {
		return
	}
	var req validation.SaveProfileRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		return
	}
	role, _ := catalog.ParseRole(req.Role)
	if id.Role != "" && callerRole(id) != role {
		writeError(c, a.log, apperrors.New(apperrors.CodeForbidden, "profile role must match the signed-in role"))
		return
	}

	p := catalog.SellerProfile{
		SellerID: id.UserID,
		Role:     role,
		Name:     req.Name,
		Email:    req.Email,
		Prices:   req.Prices,
	}
	if req.Location != nil && req.Location.Lat != nil && req.Location.Lng != nil {
		p.Location = &geo.Point{Lat: *req.Location.Lat, Lng: *req.Location.Lng}
	}
	saved, err := a.cfg.Catalog.SaveProfile(c.Request.Context(), p)
	if err != nil {
		writeError(c, a.log, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (a *api) browseSellers(c *gin.Context) {
	id, ok := a.identity(c)
	if !ok {
		return
	}
	var q validation.BrowseQuery
	if err := validation.BindQueryAndValidate(c, &q, a.v); err != nil {
		return
	}
	ctx := c.Request.Context()

	var locator geo.Locator
	if q.Lat != nil && q.Lng != nil {
		locator = geo.Static{Point: &geo.Point{Lat: *q.Lat, Lng: *q.Lng}}
	} else {
		// fall back to the position saved on the caller's own profile
		locator = geo.LocatorFunc(func(ctx context.Context) (geo.Point, error) {
			p, err := a.cfg.Catalog.Profile(ctx, id.UserID)
			if err != nil {
				return geo.Point{}, err
			}
			return geo.Static{Point: p.Location}.Locate(ctx)
		})
	}
	fallback := geo.Point{Lat: a.cfg.Browse.DefaultLat, Lng: a.cfg.Browse.DefaultLng}
	origin, fromDefault := geo.ResolveOrigin(ctx, locator, a.cfg.Browse.LocateTimeout, fallback)

	radius := a.cfg.Browse.DefaultRadiusKm
	if radius <= 0 {
		radius = geo.DefaultRadiusKm
	}
	if q.RadiusKm != nil {
		radius = *q.RadiusKm
	}

	listings, err := a.cfg.Catalog.Browse(ctx, catalog.BrowseRequest{
		BuyerRole: callerRole(id),
		Origin:    origin,
		RadiusKm:  radius,
	})
	if err != nil {
		writeError(c, a.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"origin":            origin,
		"origin_is_default": fromDefault,
		"radius_km":         radius,
		"sellers":           listings,
	})
}

// viewStock shows a seller its own inventory and everyone else the priced offers.
func (a *api) viewStock(c *gin.Context) {
	id, ok := a.identity(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	sellerID := c.Param("sellerId")
	if sellerID == "me" {
		sellerID = id.UserID
	}

	if sellerID == id.UserID {
		profile, err := a.cfg.Catalog.Profile(ctx, sellerID)
		if err != nil {
			writeError(c, a.log, err)
			return
		}
		lines, stock, err := a.cfg.Catalog.Inventory(ctx, profile)
		if err != nil {
			writeError(c, a.log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"seller":     profile,
			"items":      lines,
			"version":    stock.Version,
			"updated_at": stock.UpdatedAt,
		})
		return
	}

	offers, err := a.cfg.Catalog.Offers(ctx, callerRole(id), sellerID)
	if err != nil {
		writeError(c, a.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"seller_id": sellerID, "offers": offers})
}

func (a *api) editStock(c *gin.Context) {
	id, ok := a.identity(c)
	if !ok {
		return
	}
	var req validation.StockEditRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		return
	}
	ctx := c.Request.Context()

	profile, err := a.cfg.Catalog.Profile(ctx, id.UserID)
	if err != nil {
		if errors.Is(err, catalog.ErrSellerNotFound) {
			err = apperrors.Wrap(apperrors.CodePrecondition, err, "save a seller profile before editing stock")
		}
		writeError(c, a.log, err)
		return
	}
	if !profile.Role.IsSeller() {
		writeError(c, a.log, apperrors.New(apperrors.CodeForbidden, "only sellers keep stock"))
		return
	}

	rec, err := a.cfg.Catalog.Stocks().Edit(ctx, id.UserID, catalog.StockEdit{
		Quantities:   req.Quantities,
		Prices:       req.Prices,
		DisplayNames: req.DisplayNames,
		Images:       req.Images,
	})
	if err != nil {
		writeError(c, a.log, err)
		return
	}
	a.log.Info(a.log.WithField(ctx, "version", rec.Version), "stock edited")
	c.JSON(http.StatusOK, rec)
}
