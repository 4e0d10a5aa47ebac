package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthRoute returns the liveness handler shared by the services that
// have no richer health report of their own.
func HealthRoute(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"service":   service,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}
