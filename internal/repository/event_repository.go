package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/internal/enum"
	"github.com/customeros/mailpulse/internal/models"
	"github.com/customeros/mailpulse/internal/tracing"
)

const eventInsertBatchSize = 500

type eventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) interfaces.EventRepository {
	return &eventRepository{db: db}
}

// InsertBatch stores events, ignoring rows whose id already exists. It returns
// the number of rows actually written.
func (r *eventRepository) InsertBatch(ctx context.Context, events []*models.Event) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "eventRepository.InsertBatch")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.SetTag("batch.size", len(events))

	if len(events) == 0 {
		return 0, nil
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		CreateInBatches(events, eventInsertBatchSize)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return 0, fmt.Errorf("failed to insert events: %w", result.Error)
	}
	span.SetTag("rows.inserted", result.RowsAffected)
	return result.RowsAffected, nil
}

// StreamByFile feeds a file's events to fn in primary-key order, batchSize rows at a time.
func (r *eventRepository) StreamByFile(ctx context.Context, fileID string, batchSize int, fn func(batch []*models.Event) error) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "eventRepository.StreamByFile")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagFile(span, fileID)

	var batch []*models.Event
	result := r.db.WithContext(ctx).
		Where("file_id = ?", fileID).
		FindInBatches(&batch, batchSize, func(tx *gorm.DB, _ int) error {
			return fn(batch)
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to stream events: %w", result.Error)
	}
	return nil
}

func (r *eventRepository) CountByFile(ctx context.Context, fileID string) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "eventRepository.CountByFile")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagFile(span, fileID)

	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Event{}).Where("file_id = ?", fileID).Count(&count).Error; err != nil {
		tracing.TraceErr(span, err)
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// SenderMessageStats counts distinct message keys per sender for one file.
// Events without a message key or sender do not contribute.
func (r *eventRepository) SenderMessageStats(ctx context.Context, fileID string) ([]interfaces.SenderMessageStats, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "eventRepository.SenderMessageStats")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagFile(span, fileID)

	var stats []interfaces.SenderMessageStats
	err := r.db.WithContext(ctx).Model(&models.Event{}).
		Select(`sender,
			COUNT(DISTINCT message_key) AS message_attempts,
			COUNT(DISTINCT CASE WHEN event_type = ? THEN message_key END) AS complaint_messages,
			COUNT(DISTINCT CASE WHEN event_type IN (?, ?) THEN message_key END) AS bounced_messages`,
			enum.EventTypeFbl, enum.EventTypeBounce, enum.EventTypeRb).
		Where("file_id = ? AND sender <> '' AND message_key IS NOT NULL", fileID).
		Group("sender").
		Order("sender").
		Scan(&stats).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to compute sender message stats: %w", err)
	}
	return stats, nil
}

// DeliveredLatenciesMs reads raw delivered latencies in [from, to] for exact
// percentile computation.
func (r *eventRepository) DeliveredLatenciesMs(ctx context.Context, from, to time.Time, filter interfaces.LatencyFilter) ([]float64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "eventRepository.DeliveredLatenciesMs")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	query := r.db.WithContext(ctx).Model(&models.Event{}).
		Where("event_type = ?", enum.EventTypeTran).
		Where("delivery_latency_seconds IS NOT NULL").
		Where("event_timestamp >= ? AND event_timestamp <= ?", from.UTC(), to.UTC())
	if filter.RecipientDomain != "" {
		query = query.Where("recipient_domain = ?", filter.RecipientDomain)
	}
	if filter.Sender != "" {
		query = query.Where("sender = ?", filter.Sender)
	}
	if filter.JobID != "" {
		query = query.Where("job_id = ?", filter.JobID)
	}

	var seconds []float64
	if err := query.Pluck("delivery_latency_seconds", &seconds).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to read delivered latencies: %w", err)
	}

	ms := make([]float64, len(seconds))
	for i, s := range seconds {
		ms[i] = s * 1000
	}
	return ms, nil
}
