package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/bitsmart-orderflow/internal/apperrors"
	"github.com/imrishuroy/bitsmart-orderflow/internal/auth"
	"github.com/imrishuroy/bitsmart-orderflow/internal/cart"
	"github.com/imrishuroy/bitsmart-orderflow/internal/catalog"
	"github.com/imrishuroy/bitsmart-orderflow/internal/checkout"
	"github.com/imrishuroy/bitsmart-orderflow/internal/config"
	"github.com/imrishuroy/bitsmart-orderflow/internal/logger"
	"github.com/imrishuroy/bitsmart-orderflow/internal/orders"
	"github.com/imrishuroy/bitsmart-orderflow/internal/validation"
)

// HandlerConfig groups dependencies for the API handlers.
type HandlerConfig struct {
	Catalog  *catalog.Service
	Carts    *cart.Manager
	Checkout *checkout.Workflow
	Orders   *orders.Service
	JWT      config.JWTConfig
	Browse   config.CatalogConfig
	// Metrics serves /metrics when set.
	Metrics http.Handler
	Log     *logger.Logger
}

type api struct {
	cfg HandlerConfig
	v   *validatorv10.Validate
	log *logger.Logger
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(cfg HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	RegisterRoutes(r, cfg)
	return r
}

// RegisterRoutes registers the public and authenticated routes on r.
func RegisterRoutes(r *gin.Engine, cfg HandlerConfig) {
	if cfg.Log == nil {
		cfg.Log = logger.Nop()
	}
	a := &api{cfg: cfg, v: validation.New(), log: cfg.Log}

	r.Use(RequestContext(cfg.Log))
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	authed := r.Group("/", auth.Middleware(cfg.JWT, cfg.Log))
	a.registerSellerRoutes(authed)
	a.registerCartRoutes(authed)
	a.registerCheckoutRoutes(authed)
	a.registerOrdersRoutes(authed)
}

// identity returns the caller or writes a 401.
func (a *api) identity(c *gin.Context) (auth.Identity, bool) {
	id, ok := auth.FromGin(c)
	if !ok {
		writeError(c, a.log, apperrors.New(apperrors.CodeUnauthorized, "missing credentials"))
		return auth.Identity{}, false
	}
	return id, true
}

func callerRole(id auth.Identity) catalog.Role {
	role, _ := catalog.ParseRole(id.Role)
	return role
}

func actorOf(id auth.Identity) orders.Actor {
	return orders.Actor{ID: id.UserID, Name: id.Name}
}
