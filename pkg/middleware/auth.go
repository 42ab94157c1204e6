package middleware

import (
	stderrors "errors"
	"strings"

	"github.com/gin-gonic/gin"

	"marketplace-responder/backend/pkg/errors"
	"marketplace-responder/backend/pkg/jwt"
)

// ClaimsKey is the gin key holding the validated operator claims
const ClaimsKey = "operator"

// RequireRole rejects requests without a bearer token carrying one of roles
func RequireRole(svc *jwt.Service, roles ...jwt.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			_ = c.Error(errors.NewUnauthorizedError("Missing or invalid Authorization header"))
			c.Abort()
			return
		}

		claims, err := svc.ValidateToken(token)
		if err != nil {
			msg := "Invalid token"
			if stderrors.Is(err, jwt.ErrExpiredToken) {
				msg = "Token has expired"
			}
			_ = c.Error(errors.NewUnauthorizedError(msg))
			c.Abort()
			return
		}

		if len(roles) > 0 && !hasAnyRole(claims, roles) {
			_ = c.Error(errors.NewForbiddenError("Insufficient role"))
			c.Abort()
			return
		}

		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

func hasAnyRole(claims *jwt.Claims, roles []jwt.Role) bool {
	for _, r := range roles {
		if claims.HasRole(r) {
			return true
		}
	}
	return false
}
