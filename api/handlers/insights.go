package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/customeros/mailpulse/interfaces"
	er "github.com/customeros/mailpulse/internal/errors"
	"github.com/customeros/mailpulse/internal/models"
	"github.com/customeros/mailpulse/internal/repository"
	"github.com/customeros/mailpulse/services/insights"
)

type InsightsReader interface {
	LatencyP95(ctx context.Context, from, to time.Time, filter interfaces.LatencyFilter) (*insights.LatencyStat, error)
	OpenIncidents(ctx context.Context, limit int) ([]*models.Incident, error)
	TopRiskSenders(ctx context.Context, limit int) ([]*models.RiskScore, error)
}

type latencyQuery struct {
	From   time.Time `form:"from" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
	To     time.Time `form:"to" binding:"required,gtefield=From" time_format:"2006-01-02T15:04:05Z07:00"`
	Domain string    `form:"domain"`
	Sender string    `form:"sender"`
	JobID  string    `form:"job"`
}

type limitQuery struct {
	Limit int `form:"limit,default=20" binding:"gte=1,lte=500"`
}

// LatencyP95 returns the exact p95 delivery latency over a window, computed from raw events
func LatencyP95(reader InsightsReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		var query latencyQuery
		if err := c.ShouldBindQuery(&query); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		result, err := reader.LatencyP95(c.Request.Context(), query.From, query.To, interfaces.LatencyFilter{
			RecipientDomain: query.Domain,
			Sender:          query.Sender,
			JobID:           query.JobID,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func OpenIncidents(reader InsightsReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		var query limitQuery
		if err := c.ShouldBindQuery(&query); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		incidents, err := reader.OpenIncidents(c.Request.Context(), query.Limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"incidents": incidents})
	}
}

func TopRiskSenders(reader InsightsReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		var query limitQuery
		if err := c.ShouldBindQuery(&query); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		scores, err := reader.TopRiskSenders(c.Request.Context(), query.Limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"senders": scores})
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrIncidentNotFound), errors.Is(err, repository.ErrFileNotFound):
		return http.StatusNotFound
	case errors.Is(err, er.ErrAggregationInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
