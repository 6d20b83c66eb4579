package aggregation

import (
	"context"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/customeros/mailpulse/config"
	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/internal/cache"
	er "github.com/customeros/mailpulse/internal/errors"
	"github.com/customeros/mailpulse/internal/logger"
	"github.com/customeros/mailpulse/internal/metrics"
	"github.com/customeros/mailpulse/internal/models"
	"github.com/customeros/mailpulse/internal/tracing"
	"github.com/customeros/mailpulse/internal/utils"
)

const streamBatchSize = 1000

type Aggregator struct {
	cfg        *config.DetectionConfig
	log        logger.Logger
	files      interfaces.FileRepository
	events     interfaces.EventRepository
	aggregates interfaces.AggregateRepository
	scorer     interfaces.RiskScorer
	detector   interfaces.IncidentDetector
	cache      interfaces.Cache
	now        func() time.Time
}

func NewAggregator(cfg *config.DetectionConfig, log logger.Logger,
	files interfaces.FileRepository, events interfaces.EventRepository, aggregates interfaces.AggregateRepository,
	scorer interfaces.RiskScorer, detector interfaces.IncidentDetector, cache interfaces.Cache) *Aggregator {
	return &Aggregator{
		cfg:        cfg,
		log:        log,
		files:      files,
		events:     events,
		aggregates: aggregates,
		scorer:     scorer,
		detector:   detector,
		cache:      cache,
		now:        utils.Now,
	}
}

// AggregateFile merges one file's events into the shared buckets and then runs
// risk scoring and detection. Only the merge can fail the call: scoring,
// detection and cache failures are logged and counted. A file that is already
// aggregated, or claimed by another run, yields ErrAggregationInProgress.
func (a *Aggregator) AggregateFile(ctx context.Context, fileID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Aggregator.AggregateFile")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagFile(span, fileID)

	if err := a.claim(ctx, fileID, true); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return a.run(ctx, fileID)
}

func (a *Aggregator) claim(ctx context.Context, fileID string, onlyUnaggregated bool) error {
	now := a.now()
	return a.files.ClaimAggregation(ctx, fileID, onlyUnaggregated, now, now.Add(-a.cfg.AggregationClaimTTL))
}

// run merges a claimed file and releases the claim on both paths.
func (a *Aggregator) run(ctx context.Context, fileID string) error {
	builder, err := a.merge(ctx, fileID)
	if err != nil {
		if markErr := a.files.MarkAggregationFailed(ctx, fileID, err.Error()); markErr != nil {
			a.log.Errorf("Failed to record aggregation failure for file %s: %v", fileID, markErr)
		}
		return err
	}
	if err := a.files.MarkAggregated(ctx, fileID, a.now()); err != nil {
		return errors.Wrap(err, "failed to mark file aggregated")
	}

	a.afterMerge(ctx, fileID, a.detectionTime(builder))
	return nil
}

func (a *Aggregator) merge(ctx context.Context, fileID string) (*BucketBuilder, error) {
	builder := NewBucketBuilder(fileID)
	err := a.events.StreamByFile(ctx, fileID, streamBatchSize, func(batch []*models.Event) error {
		builder.AddBatch(batch)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to read file events")
	}

	buckets := builder.Buckets()
	for _, bucket := range buckets {
		if err := a.aggregates.MergeAggregate(ctx, bucket.Key, bucket.Delta); err != nil {
			return nil, errors.Wrapf(err, "failed to merge bucket %s", bucket.Key.MinuteTimestamp.Format(time.RFC3339))
		}
		metrics.BucketsMerged.Inc()
	}

	a.log.Infof("File %s aggregated into %d buckets, %d events without timestamp skipped", fileID, len(buckets), builder.Skipped())
	return builder, nil
}

func (a *Aggregator) detectionTime(builder *BucketBuilder) time.Time {
	if a.cfg.UseEventTime && builder.Latest() != nil {
		return *builder.Latest()
	}
	return a.now()
}

func (a *Aggregator) afterMerge(ctx context.Context, fileID string, detectAt time.Time) {
	if _, err := a.scorer.ScoreFile(ctx, fileID); err != nil {
		metrics.StageFailures.WithLabelValues(metrics.StageRisk).Inc()
		a.log.Errorf("Risk scoring failed for file %s: %v", fileID, err)
	}

	alerts, err := a.detector.Detect(ctx, detectAt)
	if err != nil {
		metrics.StageFailures.WithLabelValues(metrics.StageDetection).Inc()
		a.log.Errorf("Incident detection failed for file %s: %v", fileID, err)
	}
	if len(alerts) > 0 {
		a.log.Infof("Detection raised %d alerts after file %s", len(alerts), fileID)
	}

	if err := a.cache.Invalidate(ctx, cache.InsightsPrefix); err != nil {
		metrics.StageFailures.WithLabelValues(metrics.StageCache).Inc()
		a.log.Warnf("Failed to invalidate insights cache: %v", err)
	}
}

// Reaggregate drops the file's buckets and rebuilds them. Bucket keys include
// the file id, so this never disturbs other files' contributions.
func (a *Aggregator) Reaggregate(ctx context.Context, fileID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Aggregator.Reaggregate")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagFile(span, fileID)

	if err := a.rebuild(ctx, fileID, false); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (a *Aggregator) rebuild(ctx context.Context, fileID string, onlyUnaggregated bool) error {
	if err := a.claim(ctx, fileID, onlyUnaggregated); err != nil {
		return err
	}
	if _, err := a.aggregates.DeleteByFile(ctx, fileID); err != nil {
		wrapped := errors.Wrap(err, "failed to clear file buckets")
		if markErr := a.files.MarkAggregationFailed(ctx, fileID, wrapped.Error()); markErr != nil {
			a.log.Errorf("Failed to release aggregation claim for file %s: %v", fileID, markErr)
		}
		return wrapped
	}
	return a.run(ctx, fileID)
}

// RepairUnaggregated re-aggregates completed files that never recorded a
// successful aggregation and finished before completedBefore. Files that get
// aggregated or claimed by another run meanwhile are skipped.
func (a *Aggregator) RepairUnaggregated(ctx context.Context, completedBefore time.Time, limit int) (int, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Aggregator.RepairUnaggregated")
	defer span.Finish()
	tracing.TagComponentService(span)

	files, err := a.files.ListUnaggregated(ctx, completedBefore, limit)
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, errors.Wrap(err, "failed to list unaggregated files")
	}

	var repaired int
	for _, file := range files {
		reErr := a.rebuild(ctx, file.ID, true)
		if errors.Is(reErr, er.ErrAggregationInProgress) {
			continue
		}
		if reErr != nil {
			err = multierr.Append(err, errors.Wrapf(reErr, "file %s", file.ID))
			continue
		}
		repaired++
	}
	span.SetTag("files.repaired", repaired)
	if repaired > 0 {
		a.log.Infof("Repaired %d unaggregated files", repaired)
	}
	return repaired, err
}
