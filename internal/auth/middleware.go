package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"alumni/internal/errs"
)

const principalKey = "principal"

// Require authenticates every request through gate and stores the principal.
func Require(gate *Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := gate.Authenticate(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, errs.ErrServiceUnavailable) {
				status = http.StatusServiceUnavailable
			}
			c.AbortWithStatusJSON(status, gin.H{"ok": false, "error": err.Error()})
			return
		}
		c.Set(principalKey, p)
		c.Next()
	}
}

// PrincipalFrom returns the principal stored by Require.
func PrincipalFrom(c *gin.Context) Principal {
	v, _ := c.Get(principalKey)
	p, _ := v.(Principal)
	return p
}
