package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/internal/models"
	"github.com/customeros/mailpulse/internal/tracing"
	"github.com/customeros/mailpulse/internal/utils"
)

type aggregateRepository struct {
	db *gorm.DB
}

func NewAggregateRepository(db *gorm.DB) interfaces.AggregateRepository {
	return &aggregateRepository{db: db}
}

var aggregateKeyColumns = []clause.Column{
	{Name: "minute_ts"},
	{Name: "event_type"},
	{Name: "job_id"},
	{Name: "sender"},
	{Name: "recipient_domain"},
	{Name: "vmta"},
	{Name: "file_id"},
}

var additiveAggregateColumns = []string{
	"total_count",
	"delivered",
	"bounced",
	"deferred",
	"complaints",
	"message_attempts",
	"delivered_messages",
	"bounced_messages",
	"complaint_messages",
	"latency_sum_ms",
	"latency_count",
}

// mergeAssignments adds every counter to the stored row, recomputes the
// average from the merged sum and count, and clears p95 since a batch-local
// percentile cannot be combined with another.
func mergeAssignments() clause.Set {
	assignments := make(clause.Set, 0, len(additiveAggregateColumns)+3)
	for _, column := range additiveAggregateColumns {
		assignments = append(assignments, clause.Assignment{
			Column: clause.Column{Name: column},
			Value:  gorm.Expr(fmt.Sprintf("aggregate_buckets.%s + excluded.%s", column, column)),
		})
	}
	return append(assignments,
		clause.Assignment{
			Column: clause.Column{Name: "avg_latency_ms"},
			Value: gorm.Expr("CASE WHEN aggregate_buckets.latency_count + excluded.latency_count > 0 " +
				"THEN (aggregate_buckets.latency_sum_ms + excluded.latency_sum_ms) / (aggregate_buckets.latency_count + excluded.latency_count) " +
				"ELSE NULL END"),
		},
		clause.Assignment{Column: clause.Column{Name: "p95_latency_ms"}, Value: gorm.Expr("NULL")},
		clause.Assignment{Column: clause.Column{Name: "updated_at"}, Value: gorm.Expr("excluded.updated_at")},
	)
}

func (r *aggregateRepository) MergeAggregate(ctx context.Context, key models.AggregateKey, delta models.AggregateDelta) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "aggregateRepository.MergeAggregate")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagFile(span, key.FileID)

	now := utils.Now()
	bucket := &models.AggregateBucket{
		MinuteTimestamp:   utils.TruncateToMinute(key.MinuteTimestamp),
		EventType:         key.EventType,
		JobID:             key.JobID,
		Sender:            key.Sender,
		RecipientDomain:   key.RecipientDomain,
		Vmta:              key.Vmta,
		FileID:            key.FileID,
		TotalCount:        delta.TotalCount,
		Delivered:         delta.Delivered,
		Bounced:           delta.Bounced,
		Deferred:          delta.Deferred,
		Complaints:        delta.Complaints,
		MessageAttempts:   delta.MessageAttempts,
		DeliveredMessages: delta.DeliveredMessages,
		BouncedMessages:   delta.BouncedMessages,
		ComplaintMessages: delta.ComplaintMessages,
		LatencySumMs:      delta.LatencySumMs,
		LatencyCount:      delta.LatencyCount,
		AvgLatencyMs:      delta.AvgLatencyMs(),
		P95LatencyMs:      delta.P95LatencyMs,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   aggregateKeyColumns,
			DoUpdates: mergeAssignments(),
		}).
		Create(bucket).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to merge aggregate bucket: %w", err)
	}
	return nil
}

func (r *aggregateRepository) DeleteByFile(ctx context.Context, fileID string) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "aggregateRepository.DeleteByFile")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagFile(span, fileID)

	result := r.db.WithContext(ctx).Where("file_id = ?", fileID).Delete(&models.AggregateBucket{})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return 0, fmt.Errorf("failed to delete aggregate buckets: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *aggregateRepository) ListByFile(ctx context.Context, fileID string) ([]*models.AggregateBucket, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "aggregateRepository.ListByFile")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagFile(span, fileID)

	var buckets []*models.AggregateBucket
	err := r.db.WithContext(ctx).
		Where("file_id = ?", fileID).
		Order("minute_ts, event_type, job_id, sender, recipient_domain, vmta").
		Find(&buckets).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list aggregate buckets: %w", err)
	}
	return buckets, nil
}

// DomainLatencyStats sums latency and deferred tallies per recipient domain
// over every event type in [from, to]. Latency is only ever accumulated for
// delivered events, while deferrals live on acct rows.
func (r *aggregateRepository) DomainLatencyStats(ctx context.Context, from, to time.Time) ([]interfaces.DomainLatencyStats, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "aggregateRepository.DomainLatencyStats")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var stats []interfaces.DomainLatencyStats
	err := r.db.WithContext(ctx).Model(&models.AggregateBucket{}).
		Select(`recipient_domain,
			COALESCE(SUM(latency_sum_ms), 0) AS latency_sum_ms,
			COALESCE(SUM(latency_count), 0) AS latency_count,
			COALESCE(SUM(deferred), 0) AS deferred`).
		Where("minute_ts >= ? AND minute_ts <= ?", from.UTC(), to.UTC()).
		Where("recipient_domain <> ''").
		Group("recipient_domain").
		Order("recipient_domain").
		Scan(&stats).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to compute domain latency stats: %w", err)
	}
	return stats, nil
}

func (r *aggregateRepository) JobMessageStats(ctx context.Context, from, to time.Time) ([]interfaces.JobMessageStats, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "aggregateRepository.JobMessageStats")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var stats []interfaces.JobMessageStats
	err := r.db.WithContext(ctx).Model(&models.AggregateBucket{}).
		Select(`job_id,
			COALESCE(SUM(message_attempts), 0) AS message_attempts,
			COALESCE(SUM(bounced_messages), 0) AS bounced_messages,
			COALESCE(SUM(complaint_messages), 0) AS complaint_messages`).
		Where("minute_ts >= ? AND minute_ts <= ?", from.UTC(), to.UTC()).
		Group("job_id").
		Order("job_id").
		Scan(&stats).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to compute job message stats: %w", err)
	}
	return stats, nil
}
