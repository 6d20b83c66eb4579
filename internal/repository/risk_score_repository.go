package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/internal/enum"
	"github.com/customeros/mailpulse/internal/models"
	"github.com/customeros/mailpulse/internal/tracing"
	"github.com/customeros/mailpulse/internal/utils"
)

type riskScoreRepository struct {
	db *gorm.DB
}

func NewRiskScoreRepository(db *gorm.DB) interfaces.RiskScoreRepository {
	return &riskScoreRepository{db: db}
}

// Upsert overwrites the score for (entityType, entityValue).
func (r *riskScoreRepository) Upsert(ctx context.Context, score *models.RiskScore) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "riskScoreRepository.Upsert")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	if score == nil || score.EntityValue == "" {
		return ErrInvalidInput
	}
	tracing.TagEntity(span, score.EntityValue)

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "entity_type"}, {Name: "entity_value"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"score", "level", "contributing_factors", "calculated_at", "updated_at",
			}),
		}).
		Create(score).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to upsert risk score: %w", err)
	}
	return nil
}

// GetByEntity returns nil without error when no score exists.
func (r *riskScoreRepository) GetByEntity(ctx context.Context, entityType enum.EntityType, entityValue string) (*models.RiskScore, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "riskScoreRepository.GetByEntity")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, entityValue)

	var score models.RiskScore
	err := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_value = ?", entityType, entityValue).
		First(&score).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get risk score: %w", err)
	}
	return &score, nil
}

func (r *riskScoreRepository) ListTop(ctx context.Context, entityType enum.EntityType, limit int) ([]*models.RiskScore, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "riskScoreRepository.ListTop")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var scores []*models.RiskScore
	err := r.db.WithContext(ctx).
		Where("entity_type = ?", entityType).
		Order("score DESC, entity_value ASC").
		Limit(limit).
		Find(&scores).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list risk scores: %w", err)
	}
	return scores, nil
}

// AddSenderVolume accumulates one batch's sender tallies atomically and
// returns the running totals.
func (r *riskScoreRepository) AddSenderVolume(ctx context.Context, stats interfaces.SenderMessageStats) (*models.SenderVolume, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "riskScoreRepository.AddSenderVolume")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, stats.Sender)

	if stats.Sender == "" {
		return nil, ErrInvalidInput
	}

	volume := &models.SenderVolume{
		Sender:            stats.Sender,
		MessageAttempts:   stats.MessageAttempts,
		ComplaintMessages: stats.ComplaintMessages,
		BouncedMessages:   stats.BouncedMessages,
		UpdatedAt:         utils.Now(),
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "sender"}},
			DoUpdates: clause.Set{
				{Column: clause.Column{Name: "message_attempts"}, Value: gorm.Expr("sender_volumes.message_attempts + excluded.message_attempts")},
				{Column: clause.Column{Name: "complaint_messages"}, Value: gorm.Expr("sender_volumes.complaint_messages + excluded.complaint_messages")},
				{Column: clause.Column{Name: "bounced_messages"}, Value: gorm.Expr("sender_volumes.bounced_messages + excluded.bounced_messages")},
				{Column: clause.Column{Name: "updated_at"}, Value: gorm.Expr("excluded.updated_at")},
			},
		}).Create(volume).Error
		if err != nil {
			return err
		}
		return tx.Where("sender = ?", stats.Sender).First(volume).Error
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to add sender volume: %w", err)
	}
	return volume, nil
}
