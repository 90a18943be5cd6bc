package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HydrationGate reports whether persisted editor state has finished loading.
type HydrationGate interface {
	Hydrated() bool
}

// RequireHydrated rejects editing requests with 503 until startup hydration
// has completed, so clients never see a half-restored version graph.
func RequireHydrated(gate HydrationGate) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !gate.Hydrated() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": gin.H{"message": "editor state is still hydrating", "code": "hydrating"},
			})
			return
		}
		c.Next()
	}
}
