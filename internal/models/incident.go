package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/customeros/mailpulse/internal/enum"
	"github.com/customeros/mailpulse/internal/utils"
)

type Incident struct {
	ID          string              `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	Title       string              `gorm:"column:title;type:varchar(500)" json:"title"`
	Severity    enum.Severity       `gorm:"column:severity;type:varchar(16);not null" json:"severity"`
	EntityType  enum.EntityType     `gorm:"column:entity_type;type:varchar(32);not null" json:"entityType"`
	EntityValue string              `gorm:"column:entity_value;type:varchar(320);not null;index" json:"entityValue"`
	StartTime   time.Time           `gorm:"column:start_time" json:"startTime"`
	Summary     string              `gorm:"column:summary;type:text" json:"summary"`
	Status      enum.IncidentStatus `gorm:"column:status;type:varchar(16);not null;index" json:"status"`
	// OpenKey is "<entityType>|<entityValue>" while open and NULL once resolved,
	// so at most one open incident exists per entity.
	OpenKey     *string    `gorm:"column:open_key;type:varchar(400);uniqueIndex" json:"-"`
	LastAlertAt time.Time  `gorm:"column:last_alert_at;index" json:"lastAlertAt"`
	ResolvedAt  *time.Time `gorm:"column:resolved_at" json:"resolvedAt,omitempty"`
	CreatedAt   time.Time  `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt   time.Time  `gorm:"column:updated_at" json:"updatedAt"`
}

func (Incident) TableName() string {
	return "incidents"
}

func (i *Incident) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = utils.GenerateNanoIDWithPrefix("inc", 16)
	}
	if i.Status == "" {
		i.Status = enum.IncidentStatusOpen
	}
	return nil
}

func IncidentOpenKey(entityType enum.EntityType, entityValue string) string {
	return entityType.String() + "|" + entityValue
}
