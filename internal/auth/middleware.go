package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/imrishuroy/bitsmart-orderflow/internal/apperrors"
	"github.com/imrishuroy/bitsmart-orderflow/internal/config"
	"github.com/imrishuroy/bitsmart-orderflow/internal/logger"
)

// ActionReauthenticate tells the client to send the user back to sign-in.
const ActionReauthenticate = "reauthenticate"

type ctxKey struct{}

const ginIdentityKey = "auth.identity"

// Middleware rejects requests without a valid bearer token and stores the
// caller's Identity on both the gin and the request context.
func Middleware(cfg config.JWTConfig, log *logger.Logger) gin.HandlerFunc {
	if log == nil {
		log = logger.Nop()
	}
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader("Authorization"))
		token := raw
		if strings.HasPrefix(strings.ToLower(token), "bearer ") {
			token = strings.TrimSpace(token[7:])
		}
		if token == "" {
			abort(c, "missing credentials")
			return
		}

		claims, err := Parse(cfg, token)
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "session expired"
			}
			log.Warn(log.WithField(c.Request.Context(), "error", err.Error()), "rejected bearer token")
			abort(c, msg)
			return
		}

		id := claims.Identity
		ctx := WithIdentity(c.Request.Context(), id)
		ctx = log.WithUserID(ctx, id.UserID)
		ctx = log.WithField(ctx, "actor_role", id.Role)
		c.Request = c.Request.WithContext(ctx)
		c.Set(ginIdentityKey, id)
		c.Next()
	}
}

func abort(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": gin.H{
			"code":    apperrors.CodeUnauthorized,
			"message": message,
		},
		"action": ActionReauthenticate,
	})
}

// WithIdentity stores id on ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by Middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok && id.UserID != ""
}

// FromGin returns the identity stored by Middleware on a gin context.
func FromGin(c *gin.Context) (Identity, bool) {
	if v, ok := c.Get(ginIdentityKey); ok {
		if id, ok := v.(Identity); ok && id.UserID != "" {
			return id, true
		}
	}
	return FromContext(c.Request.Context())
}
