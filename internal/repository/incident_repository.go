package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/internal/enum"
	"github.com/customeros/mailpulse/internal/models"
	"github.com/customeros/mailpulse/internal/tracing"
)

type incidentRepository struct {
	db *gorm.DB
}

func NewIncidentRepository(db *gorm.DB) interfaces.IncidentRepository {
	return &incidentRepository{db: db}
}

func (r *incidentRepository) GetByID(ctx context.Context, id string) (*models.Incident, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "incidentRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, id)

	var incident models.Incident
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&incident).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrIncidentNotFound
		}
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get incident: %w", err)
	}
	return &incident, nil
}

func (r *incidentRepository) ListOpen(ctx context.Context, limit int) ([]*models.Incident, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "incidentRepository.ListOpen")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var incidents []*models.Incident
	err := r.db.WithContext(ctx).
		Where("status = ?", enum.IncidentStatusOpen).
		Order("last_alert_at DESC").
		Limit(limit).
		Find(&incidents).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list open incidents: %w", err)
	}
	return incidents, nil
}

// ListQuiet returns open incidents whose newest alert is older than lastAlertBefore.
func (r *incidentRepository) ListQuiet(ctx context.Context, lastAlertBefore time.Time) ([]*models.Incident, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "incidentRepository.ListQuiet")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var incidents []*models.Incident
	err := r.db.WithContext(ctx).
		Where("status = ? AND last_alert_at < ?", enum.IncidentStatusOpen, lastAlertBefore.UTC()).
		Order("last_alert_at ASC").
		Find(&incidents).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list quiet incidents: %w", err)
	}
	return incidents, nil
}

// Resolve is idempotent: resolving an already resolved incident returns it unchanged.
func (r *incidentRepository) Resolve(ctx context.Context, id string, at time.Time) (*models.Incident, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "incidentRepository.Resolve")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, id)

	at = at.UTC()
	var incident models.Incident
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&incident).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrIncidentNotFound
			}
			return err
		}
		if incident.Status == enum.IncidentStatusResolved {
			return nil
		}

		result := tx.Model(&models.Incident{}).
			Where("id = ? AND status = ?", id, enum.IncidentStatusOpen).
			Updates(map[string]interface{}{
				"status":      enum.IncidentStatusResolved,
				"open_key":    nil,
				"resolved_at": at,
				"updated_at":  at,
			})
		if result.Error != nil {
			return result.Error
		}

		var openAlerts []*models.Alert
		if err := tx.Where("incident_id = ? AND status = ?", id, enum.AlertStatusOpen).Find(&openAlerts).Error; err != nil {
			return err
		}
		for _, alert := range openAlerts {
			if err := tx.Where("alert_type = ? AND entity_value = ?", alert.AlertType, alert.EntityValue).
				Delete(&models.AlertCooldown{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Model(&models.Alert{}).
			Where("incident_id = ? AND status = ?", id, enum.AlertStatusOpen).
			Updates(map[string]interface{}{
				"status":      enum.AlertStatusResolved,
				"resolved_at": at,
			}).Error; err != nil {
			return err
		}

		incident.Status = enum.IncidentStatusResolved
		incident.OpenKey = nil
		incident.ResolvedAt = &at
		incident.UpdatedAt = at
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrIncidentNotFound) {
			return nil, err
		}
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to resolve incident: %w", err)
	}
	return &incident, nil
}
