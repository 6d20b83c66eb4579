package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/customeros/mailpulse/internal/enum"
	"github.com/customeros/mailpulse/internal/utils"
)

// Event is one normalized delivery-log record. Absent string fields are stored
// as the empty string; MessageKey, EventTimestamp and DeliveryLatencySeconds are
// nullable because queries distinguish "absent" from a value.
type Event struct {
	ID                     string         `gorm:"column:id;type:varchar(100);primaryKey" json:"id"`
	FileID                 string         `gorm:"column:file_id;type:varchar(50);not null;index" json:"fileId"`
	EventType              enum.EventType `gorm:"column:event_type;type:varchar(16);not null;index" json:"eventType"`
	EventTimestamp         *time.Time     `gorm:"column:event_timestamp;index" json:"eventTimestamp"`
	JobID                  string         `gorm:"column:job_id;type:varchar(255);not null" json:"jobId"`
	Sender                 string         `gorm:"column:sender;type:varchar(320);not null;index" json:"sender"`
	Recipient              string         `gorm:"column:recipient;type:varchar(320);not null" json:"recipient"`
	RecipientDomain        string         `gorm:"column:recipient_domain;type:varchar(255);not null;index" json:"recipientDomain"`
	Vmta                   string         `gorm:"column:vmta;type:varchar(255);not null" json:"vmta"`
	VmtaPool               string         `gorm:"column:vmta_pool;type:varchar(255);not null" json:"vmtaPool"`
	SourceIP               string         `gorm:"column:source_ip;type:varchar(64);not null" json:"sourceIp"`
	DestinationIP          string         `gorm:"column:destination_ip;type:varchar(64);not null" json:"destinationIp"`
	EnvelopeID             string         `gorm:"column:envelope_id;type:varchar(255);not null" json:"envelopeId"`
	MessageID              string         `gorm:"column:message_id;type:varchar(1000);not null" json:"messageId"`
	MessageKey             *string        `gorm:"column:message_key;type:varchar(1000);index" json:"messageKey"`
	SmtpStatus             string         `gorm:"column:smtp_status;type:varchar(64);not null" json:"smtpStatus"`
	BounceCategory         string         `gorm:"column:bounce_category;type:varchar(128);not null" json:"bounceCategory"`
	DsnAction              string         `gorm:"column:dsn_action;type:varchar(64);not null" json:"dsnAction"`
	DsnDiagnostic          string         `gorm:"column:dsn_diagnostic;type:text;not null" json:"dsnDiagnostic"`
	DeliveryLatencySeconds *float64       `gorm:"column:delivery_latency_seconds" json:"deliveryLatencySeconds"`
	RawFields              JSONMap        `gorm:"column:raw_fields;type:jsonb" json:"rawFields"`
	CreatedAt              time.Time      `gorm:"column:created_at" json:"createdAt"`
}

func (Event) TableName() string {
	return "events"
}

func (e *Event) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = utils.GenerateNanoIDWithPrefix("evt", 21)
	}
	return nil
}
