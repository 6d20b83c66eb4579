package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/customeros/mailpulse/internal/enum"
	"github.com/customeros/mailpulse/internal/utils"
)

type Alert struct {
	ID              string           `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	AlertType       enum.AlertType   `gorm:"column:alert_type;type:varchar(32);not null;index:idx_alert_type_entity,priority:1" json:"alertType"`
	Severity        enum.Severity    `gorm:"column:severity;type:varchar(16);not null" json:"severity"`
	EntityType      enum.EntityType  `gorm:"column:entity_type;type:varchar(32);not null" json:"entityType"`
	EntityValue     string           `gorm:"column:entity_value;type:varchar(320);not null;index:idx_alert_type_entity,priority:2" json:"entityValue"`
	Summary         string           `gorm:"column:summary;type:text" json:"summary"`
	Metrics         JSONMap          `gorm:"column:metrics;type:jsonb" json:"metrics"`
	Status          enum.AlertStatus `gorm:"column:status;type:varchar(16);not null;index" json:"status"`
	TimeWindowStart time.Time        `gorm:"column:time_window_start" json:"timeWindowStart"`
	TimeWindowEnd   time.Time        `gorm:"column:time_window_end" json:"timeWindowEnd"`
	IncidentID      string           `gorm:"column:incident_id;type:varchar(50);index" json:"incidentId"`
	ResolvedAt      *time.Time       `gorm:"column:resolved_at" json:"resolvedAt,omitempty"`
	CreatedAt       time.Time        `gorm:"column:created_at" json:"createdAt"`
}

func (Alert) TableName() string {
	return "alerts"
}

func (a *Alert) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = utils.GenerateNanoIDWithPrefix("alrt", 16)
	}
	if a.Status == "" {
		a.Status = enum.AlertStatusOpen
	}
	return nil
}

// AlertCooldown is the claim ledger that makes "suppress if an open alert of
// this type and entity exists within the cooldown" a single conditional upsert.
type AlertCooldown struct {
	AlertType     enum.AlertType `gorm:"column:alert_type;type:varchar(32);primaryKey" json:"alertType"`
	EntityValue   string         `gorm:"column:entity_value;type:varchar(320);primaryKey" json:"entityValue"`
	CooldownUntil time.Time      `gorm:"column:cooldown_until;not null" json:"cooldownUntil"`
	ClaimedAt     time.Time      `gorm:"column:claimed_at;not null" json:"claimedAt"`
}

func (AlertCooldown) TableName() string {
	return "alert_cooldowns"
}
