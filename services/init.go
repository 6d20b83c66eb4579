package services

import (
	"context"

	"github.com/customeros/mailpulse/config"
	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/internal/cache"
	"github.com/customeros/mailpulse/internal/logger"
	"github.com/customeros/mailpulse/internal/repository"
	"github.com/customeros/mailpulse/services/aggregation"
	"github.com/customeros/mailpulse/services/detection"
	"github.com/customeros/mailpulse/services/events"
	"github.com/customeros/mailpulse/services/ingestion"
	"github.com/customeros/mailpulse/services/insights"
	"github.com/customeros/mailpulse/services/risk"
	"github.com/customeros/mailpulse/services/storage"
)

type Services struct {
	Cache          interfaces.Cache
	EventsService  *events.EventsService
	StorageService interfaces.StorageService
	Registrar      *ingestion.Registrar
	Pipeline       *ingestion.Pipeline
	Aggregator     *aggregation.Aggregator
	Scorer         *risk.Scorer
	Detector       *detection.Detector
	Insights       *insights.Service
}

func InitServices(ctx context.Context, cfg *config.Config, log logger.Logger, repos *repository.Repositories) (*Services, error) {
	// events
	publisherConfig := &events.PublisherConfig{
		MessageTTL:          events.DefaultMessageTTL,
		MaxRetries:          events.DefaultMaxRetries,
		PublishTimeout:      events.DefaultPublishTimeout,
		ReconnectBackoff:    events.DefaultReconnectBackoff,
		MaxReconnectBackoff: events.DefaultMaxReconnectBackoff,
	}

	subscriberConfig := &events.SubscriberConfig{
		Prefetch:            cfg.IngestionConfig.MaxConcurrent,
		MaxRetries:          events.DefaultMaxRetries,
		ReconnectBackoff:    events.DefaultReconnectBackoff,
		MaxReconnectBackoff: events.DefaultMaxReconnectBackoff,
	}

	eventsService, err := events.NewEventsService(cfg.AppConfig.RabbitMQURL, log, publisherConfig, subscriberConfig)
	if err != nil {
		return nil, err
	}

	readCache := cache.New(ctx, cfg.CacheConfig, log)

	scorer := risk.NewScorer(cfg.RiskConfig, log, repos.EventRepository, repos.RiskScoreRepository)
	detector := detection.NewDetector(cfg.DetectionConfig, cfg.ThresholdConfig, log,
		repos.AggregateRepository, repos.AlertRepository, repos.IncidentRepository, eventsService.Publisher, readCache)
	aggregator := aggregation.NewAggregator(cfg.DetectionConfig, log, repos.FileRepository, repos.EventRepository,
		repos.AggregateRepository, scorer, detector, readCache)
	pipeline := ingestion.NewPipeline(cfg.IngestionConfig, log, repos.FileRepository, repos.EventRepository,
		aggregator, eventsService.Publisher)

	services := Services{
		Cache:          readCache,
		EventsService:  eventsService,
		StorageService: storage.NewObjectStorageService(cfg.StorageConfig, cfg.IngestionConfig.StorageBucket),
		Registrar:      ingestion.NewRegistrar(log, repos.FileRepository),
		Pipeline:       pipeline,
		Aggregator:     aggregator,
		Scorer:         scorer,
		Detector:       detector,
		Insights: insights.NewService(log, repos.EventRepository, repos.IncidentRepository,
			repos.RiskScoreRepository, readCache, cfg.CacheConfig.TTL),
	}

	return &services, nil
}
