package api

import (
	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/customeros/mailpulse/api/handlers"
	"github.com/customeros/mailpulse/api/middleware"
	"github.com/customeros/mailpulse/internal/repository"
	"github.com/customeros/mailpulse/internal/tracing"
	"github.com/customeros/mailpulse/services"
)

const APIKeyHeader = "X-MAILPULSE-API-KEY"

// RegisterRoutes sets up the ops endpoints. The /v1 group is only served when an API key is configured.
func RegisterRoutes(r *gin.Engine, s *services.Services, repos *repository.Repositories, apikey string) {
	if s == nil {
		panic("Services cannot be nil")
	}
	if repos == nil {
		panic("Repositories cannot be nil")
	}

	r.Use(gin.Recovery())
	r.Use(tracing.RecoveryWithJaeger(opentracing.GlobalTracer()))

	r.GET("/health", handlers.HealthCheck)
	r.GET("/status", handlers.Status(repos.FileRepository))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if apikey == "" {
		return
	}

	api := r.Group("/v1")
	api.Use(middleware.APIKeyMiddleware(middleware.APIKeyConfig{
		HeaderName:  APIKeyHeader,
		ValidAPIKey: apikey,
	}))
	api.Use(middleware.TracingMiddleware())
	{
		insights := api.Group("/insights")
		{
			insights.GET("/latency-p95", handlers.LatencyP95(s.Insights))
			insights.GET("/incidents", handlers.OpenIncidents(s.Insights))
			insights.GET("/risk", handlers.TopRiskSenders(s.Insights))
		}

		api.POST("/incidents/:id/resolve", handlers.ResolveIncident(s.Detector))
		api.POST("/files/:id/reaggregate", handlers.Reaggregate(s.Aggregator))
	}
}
