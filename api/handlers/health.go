package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/internal/enum"
)

// HealthCheck provides a simple health check endpoint
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// Status reports uploaded files per processing status
func Status(files interfaces.FileRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		counts, err := files.CountByStatus(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}

		byStatus := gin.H{}
		for _, status := range []enum.FileStatus{
			enum.FileStatusPending, enum.FileStatusProcessing, enum.FileStatusCompleted, enum.FileStatusError,
		} {
			byStatus[status.String()] = counts[status]
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "files": byStatus})
	}
}
