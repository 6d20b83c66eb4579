// Package insights serves read-side statistics. Exact percentiles are
// recomputed from raw events because merged aggregate rows cannot carry them.
package insights

import (
	"context"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/internal/cache"
	"github.com/customeros/mailpulse/internal/enum"
	"github.com/customeros/mailpulse/internal/logger"
	"github.com/customeros/mailpulse/internal/models"
	"github.com/customeros/mailpulse/internal/stats"
	"github.com/customeros/mailpulse/internal/tracing"
)

type LatencyStat struct {
	From    time.Time `json:"from"`
	To      time.Time `json:"to"`
	Samples int       `json:"samples"`
	P95Ms   *float64  `json:"p95Ms"`
}

type Service struct {
	log       logger.Logger
	events    interfaces.EventRepository
	incidents interfaces.IncidentRepository
	scores    interfaces.RiskScoreRepository
	cache     interfaces.Cache
	ttl       time.Duration
}

func NewService(log logger.Logger, events interfaces.EventRepository, incidents interfaces.IncidentRepository,
	scores interfaces.RiskScoreRepository, readCache interfaces.Cache, ttl time.Duration) *Service {
	return &Service{
		log:       log,
		events:    events,
		incidents: incidents,
		scores:    scores,
		cache:     readCache,
		ttl:       ttl,
	}
}

// LatencyP95 returns the exact p95 delivery latency over raw delivered events in [from, to].
func (s *Service) LatencyP95(ctx context.Context, from, to time.Time, filter interfaces.LatencyFilter) (*LatencyStat, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "InsightsService.LatencyP95")
	defer span.Finish()
	tracing.TagComponentService(span)

	if to.Before(from) {
		return nil, errors.Errorf("window end %s precedes start %s", to, from)
	}

	key := fmt.Sprintf("%sp95:%d:%d:%s|%s|%s", cache.InsightsPrefix, from.Unix(), to.Unix(),
		filter.RecipientDomain, filter.Sender, filter.JobID)

	var result LatencyStat
	if s.lookup(ctx, key, &result) {
		return &result, nil
	}

	values, err := s.events.DeliveredLatenciesMs(ctx, from, to, filter)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to read latencies")
	}

	result = LatencyStat{
		From:    from.UTC(),
		To:      to.UTC(),
		Samples: len(values),
		P95Ms:   stats.PercentilePtr(values, 0.95),
	}
	s.store(ctx, key, result)
	return &result, nil
}

func (s *Service) OpenIncidents(ctx context.Context, limit int) ([]*models.Incident, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "InsightsService.OpenIncidents")
	defer span.Finish()
	tracing.TagComponentService(span)

	key := fmt.Sprintf("%sincidents:%d", cache.InsightsPrefix, limit)
	var incidents []*models.Incident
	if s.lookup(ctx, key, &incidents) {
		return incidents, nil
	}

	incidents, err := s.incidents.ListOpen(ctx, limit)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to list open incidents")
	}
	s.store(ctx, key, incidents)
	return incidents, nil
}

func (s *Service) TopRiskSenders(ctx context.Context, limit int) ([]*models.RiskScore, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "InsightsService.TopRiskSenders")
	defer span.Finish()
	tracing.TagComponentService(span)

	key := fmt.Sprintf("%srisk:%d", cache.InsightsPrefix, limit)
	var scores []*models.RiskScore
	if s.lookup(ctx, key, &scores) {
		return scores, nil
	}

	scores, err := s.scores.ListTop(ctx, enum.EntityTypeSender, limit)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to list risk scores")
	}
	s.store(ctx, key, scores)
	return scores, nil
}

// cache failures degrade to a direct read
func (s *Service) lookup(ctx context.Context, key string, dest any) bool {
	if s.cache == nil {
		return false
	}
	found, err := s.cache.Get(ctx, key, dest)
	if err != nil {
		s.log.Warnf("Insights cache read failed for %s: %v", key, err)
		return false
	}
	return found
}

func (s *Service) store(ctx context.Context, key string, value any) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value, s.ttl); err != nil {
		s.log.Warnf("Insights cache write failed for %s: %v", key, err)
	}
}
