package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/customeros/mailpulse/internal/enum"
	"github.com/customeros/mailpulse/internal/utils"
)

type RiskScore struct {
	ID                  string          `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	EntityType          enum.EntityType `gorm:"column:entity_type;type:varchar(32);not null;uniqueIndex:idx_risk_entity,priority:1" json:"entityType"`
	EntityValue         string          `gorm:"column:entity_value;type:varchar(320);not null;uniqueIndex:idx_risk_entity,priority:2" json:"entityValue"`
	Score               int             `gorm:"column:score;not null;index" json:"score"`
	Level               enum.RiskLevel  `gorm:"column:level;type:varchar(16);not null" json:"level"`
	ContributingFactors JSONMap         `gorm:"column:contributing_factors;type:jsonb" json:"contributingFactors"`
	CalculatedAt        time.Time       `gorm:"column:calculated_at" json:"calculatedAt"`
	CreatedAt           time.Time       `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt           time.Time       `gorm:"column:updated_at" json:"updatedAt"`
}

func (RiskScore) TableName() string {
	return "risk_scores"
}

func (r *RiskScore) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = utils.GenerateNanoIDWithPrefix("risk", 16)
	}
	return nil
}

// SenderVolume holds running message tallies for cumulative risk scoring.
type SenderVolume struct {
	Sender            string    `gorm:"column:sender;type:varchar(320);primaryKey" json:"sender"`
	MessageAttempts   int64     `gorm:"column:message_attempts;not null" json:"messageAttempts"`
	ComplaintMessages int64     `gorm:"column:complaint_messages;not null" json:"complaintMessages"`
	BouncedMessages   int64     `gorm:"column:bounced_messages;not null" json:"bouncedMessages"`
	UpdatedAt         time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

func (SenderVolume) TableName() string {
	return "sender_volumes"
}
