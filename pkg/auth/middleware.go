package auth

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Middleware guards peer routes with token validation. A nil validator
// lets every request through.
type Middleware struct {
	validator Validator
	logger    *zap.Logger
}

func NewMiddleware(validator Validator, logger *zap.Logger) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Middleware{validator: validator, logger: logger}
}

// RequireToken validates the bearer token and stores the claims in the
// request context. reject writes the refusal in the route's own format.
func (m *Middleware) RequireToken(reject func(c *gin.Context, status int, reason string)) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.validator == nil {
			c.Next()
			return
		}
		token, err := TokenFromRequest(c.Request)
		if err != nil {
			m.logger.Debug("No usable token in request",
				zap.String("path", c.Request.URL.Path),
				zap.Error(err))
			reject(c, http.StatusUnauthorized, "Authentication required")
			c.Abort()
			return
		}
		claims, err := m.validator.ValidateToken(token)
		if err != nil {
			m.logger.Warn("Token validation failed",
				zap.String("path", c.Request.URL.Path),
				zap.Error(err))
			reject(c, http.StatusUnauthorized, "Authentication required")
			c.Abort()
			return
		}
		ctx := context.WithValue(c.Request.Context(), ClaimsKey, claims)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
