package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/internal/enum"
	"github.com/customeros/mailpulse/internal/models"
	"github.com/customeros/mailpulse/internal/tracing"
	"github.com/customeros/mailpulse/internal/utils"
)

type alertRepository struct {
	db *gorm.DB
}

func NewAlertRepository(db *gorm.DB) interfaces.AlertRepository {
	return &alertRepository{db: db}
}

func (r *alertRepository) Raise(ctx context.Context, alert *models.Alert, incidentTitle string, now, cooldownUntil time.Time) (*models.Incident, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "alertRepository.Raise")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	if alert == nil || alert.EntityValue == "" {
		return nil, ErrInvalidInput
	}
	tracing.TagEntity(span, alert.EntityValue)
	span.SetTag("alert.type", alert.AlertType.String())

	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = utils.Now()
	}

	var incident models.Incident
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claimed, err := claimCooldown(tx, alert.AlertType, alert.EntityValue, now, cooldownUntil)
		if err != nil {
			return err
		}
		if !claimed {
			return ErrAlertSuppressed
		}

		if err := openIncident(tx, &incident, alert, incidentTitle); err != nil {
			return err
		}

		alert.IncidentID = incident.ID
		alert.Status = enum.AlertStatusOpen
		if err := tx.Create(alert).Error; err != nil {
			return err
		}

		updates := map[string]interface{}{
			"last_alert_at": alert.CreatedAt,
			"updated_at":    alert.CreatedAt,
		}
		if alert.Severity.Rank() > incident.Severity.Rank() {
			updates["severity"] = alert.Severity
			incident.Severity = alert.Severity
		}
		incident.LastAlertAt = alert.CreatedAt
		return tx.Model(&models.Incident{}).Where("id = ?", incident.ID).Updates(updates).Error
	})
	if err != nil {
		if errors.Is(err, ErrAlertSuppressed) {
			span.SetTag("suppressed", true)
			return nil, err
		}
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to raise alert: %w", err)
	}
	return &incident, nil
}

// claimCooldown takes the (alertType, entityValue) slot unless a live claim
// exists. The conditional upsert is one statement, so concurrent callers
// cannot both succeed.
func claimCooldown(tx *gorm.DB, alertType enum.AlertType, entityValue string, now, until time.Time) (bool, error) {
	result := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "alert_type"}, {Name: "entity_value"}},
		DoUpdates: clause.Set{
			{Column: clause.Column{Name: "cooldown_until"}, Value: gorm.Expr("excluded.cooldown_until")},
			{Column: clause.Column{Name: "claimed_at"}, Value: gorm.Expr("excluded.claimed_at")},
		},
		Where: clause.Where{Exprs: []clause.Expression{
			gorm.Expr("alert_cooldowns.cooldown_until <= ?", now.UTC()),
		}},
	}).Create(&models.AlertCooldown{
		AlertType:     alertType,
		EntityValue:   entityValue,
		CooldownUntil: until.UTC(),
		ClaimedAt:     now.UTC(),
	})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// openIncident loads the entity's open incident, creating it first if needed.
func openIncident(tx *gorm.DB, incident *models.Incident, alert *models.Alert, title string) error {
	openKey := models.IncidentOpenKey(alert.EntityType, alert.EntityValue)
	candidate := &models.Incident{
		Title:       title,
		Severity:    alert.Severity,
		EntityType:  alert.EntityType,
		EntityValue: alert.EntityValue,
		StartTime:   alert.CreatedAt,
		Summary:     alert.Summary,
		Status:      enum.IncidentStatusOpen,
		OpenKey:     &openKey,
		LastAlertAt: alert.CreatedAt,
		CreatedAt:   alert.CreatedAt,
		UpdatedAt:   alert.CreatedAt,
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "open_key"}},
		DoNothing: true,
	}).Create(candidate).Error
	if err != nil {
		return err
	}
	return tx.Where("open_key = ?", openKey).First(incident).Error
}

func (r *alertRepository) ListByIncident(ctx context.Context, incidentID string) ([]*models.Alert, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "alertRepository.ListByIncident")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, incidentID)

	var alerts []*models.Alert
	err := r.db.WithContext(ctx).
		Where("incident_id = ?", incidentID).
		Order("created_at ASC").
		Find(&alerts).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list alerts by incident: %w", err)
	}
	return alerts, nil
}

func (r *alertRepository) ListRecent(ctx context.Context, since time.Time, limit int) ([]*models.Alert, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "alertRepository.ListRecent")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var alerts []*models.Alert
	err := r.db.WithContext(ctx).
		Where("created_at >= ?", since.UTC()).
		Order("created_at DESC").
		Limit(limit).
		Find(&alerts).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list recent alerts: %w", err)
	}
	return alerts, nil
}
