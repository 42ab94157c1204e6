package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-responder/backend/pkg/errors"
	"marketplace-responder/backend/pkg/jwt"
)

func TestRequireRole(t *testing.T) {
	svc, err := jwt.NewService("secret", time.Hour)
	require.NoError(t, err)

	r := gin.New()
	r.Use(errors.ErrorHandler())
	r.POST("/admin", RequireRole(svc, jwt.RoleOperator), func(c *gin.Context) {
		claims := c.MustGet(ClaimsKey).(*jwt.Claims)
		c.String(http.StatusOK, claims.Subject)
	})

	call := func(auth string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/admin", nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusUnauthorized, call("").Code)
	assert.Equal(t, http.StatusUnauthorized, call("Basic abc").Code)
	assert.Equal(t, http.StatusUnauthorized, call("Bearer garbage").Code)

	viewer, err := svc.GenerateToken("v", jwt.RoleViewer)
	require.NoError(t, err)
	w := call("Bearer " + viewer)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), errors.CodeForbidden)

	operator, err := svc.GenerateToken("ops", jwt.RoleOperator)
	require.NoError(t, err)
	w = call("Bearer " + operator)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ops", w.Body.String())
}
