package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/customeros/mailpulse/internal/models"
)

type IncidentResolver interface {
	ResolveIncident(ctx context.Context, id string) (*models.Incident, error)
}

type FileReaggregator interface {
	Reaggregate(ctx context.Context, fileID string) error
}

// ResolveIncident closes an incident and releases the cooldowns of its alerts
func ResolveIncident(resolver IncidentResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		incident, err := resolver.ResolveIncident(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, incident)
	}
}

// Reaggregate rebuilds the aggregate rows of one file
func Reaggregate(aggregator FileReaggregator) gin.HandlerFunc {
	return func(c *gin.Context) {
		fileID := c.Param("id")
		if err := aggregator.Reaggregate(c.Request.Context(), fileID); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"fileId": fileID, "status": "reaggregated"})
	}
}
