package health

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Route paths.
const (
	PathLiveness  = "/healthz"
	PathReadiness = "/readyz"
)

// LivenessHandler returns a handler for liveness probes.
func (c *Checker) LivenessHandler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, c.Health())
	}
}

// ReadinessHandler returns a handler for readiness probes. Unhealthy
// responses use 503.
func (c *Checker) ReadinessHandler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		response := c.Readiness(ctx.Request.Context())

		statusCode := http.StatusOK
		if response.Status == StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		ctx.JSON(statusCode, response)
	}
}

// RegisterRoutes registers the probe routes on a gin router.
func (c *Checker) RegisterRoutes(router gin.IRoutes) {
	router.GET(PathLiveness, c.LivenessHandler())
	router.GET(PathReadiness, c.ReadinessHandler())
}
