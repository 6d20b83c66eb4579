package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/customeros/mailpulse/internal/enum"
	"github.com/customeros/mailpulse/internal/utils"
)

// AggregateBucket is a per-minute rollup. The seven key columns form a unique
// tuple; every counter and the latency sum/count are only ever incremented.
// P95LatencyMs describes the single batch that created the row and is cleared
// on any later merge.
type AggregateBucket struct {
	ID              string         `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	MinuteTimestamp time.Time      `gorm:"column:minute_ts;not null;uniqueIndex:idx_aggregate_bucket_key,priority:1;index" json:"minuteTimestamp"`
	EventType       enum.EventType `gorm:"column:event_type;type:varchar(16);not null;uniqueIndex:idx_aggregate_bucket_key,priority:2" json:"eventType"`
	JobID           string         `gorm:"column:job_id;type:varchar(255);not null;uniqueIndex:idx_aggregate_bucket_key,priority:3" json:"jobId"`
	Sender          string         `gorm:"column:sender;type:varchar(320);not null;uniqueIndex:idx_aggregate_bucket_key,priority:4" json:"sender"`
	RecipientDomain string         `gorm:"column:recipient_domain;type:varchar(255);not null;uniqueIndex:idx_aggregate_bucket_key,priority:5" json:"recipientDomain"`
	Vmta            string         `gorm:"column:vmta;type:varchar(255);not null;uniqueIndex:idx_aggregate_bucket_key,priority:6" json:"vmta"`
	FileID          string         `gorm:"column:file_id;type:varchar(50);not null;uniqueIndex:idx_aggregate_bucket_key,priority:7;index" json:"fileId"`

	TotalCount int64 `gorm:"column:total_count;not null" json:"totalCount"`
	Delivered  int64 `gorm:"column:delivered;not null" json:"delivered"`
	Bounced    int64 `gorm:"column:bounced;not null" json:"bounced"`
	Deferred   int64 `gorm:"column:deferred;not null" json:"deferred"`
	Complaints int64 `gorm:"column:complaints;not null" json:"complaints"`

	MessageAttempts   int64 `gorm:"column:message_attempts;not null" json:"messageAttempts"`
	DeliveredMessages int64 `gorm:"column:delivered_messages;not null" json:"deliveredMessages"`
	BouncedMessages   int64 `gorm:"column:bounced_messages;not null" json:"bouncedMessages"`
	ComplaintMessages int64 `gorm:"column:complaint_messages;not null" json:"complaintMessages"`

	LatencySumMs float64  `gorm:"column:latency_sum_ms;not null" json:"latencySumMs"`
	LatencyCount int64    `gorm:"column:latency_count;not null" json:"latencyCount"`
	AvgLatencyMs *float64 `gorm:"column:avg_latency_ms" json:"avgLatencyMs"`
	P95LatencyMs *float64 `gorm:"column:p95_latency_ms" json:"p95LatencyMs"`

	CreatedAt time.Time `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

func (AggregateBucket) TableName() string {
	return "aggregate_buckets"
}

func (b *AggregateBucket) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = utils.GenerateNanoIDWithPrefix("agg", 21)
	}
	return nil
}

// AggregateKey identifies one AggregateBucket row.
type AggregateKey struct {
	MinuteTimestamp time.Time
	EventType       enum.EventType
	JobID           string
	Sender          string
	RecipientDomain string
	Vmta            string
	FileID          string
}

// AggregateDelta carries the additive contribution of one batch to a bucket.
type AggregateDelta struct {
	TotalCount int64
	Delivered  int64
	Bounced    int64
	Deferred   int64
	Complaints int64

	MessageAttempts   int64
	DeliveredMessages int64
	BouncedMessages   int64
	ComplaintMessages int64

	LatencySumMs float64
	LatencyCount int64
	P95LatencyMs *float64
}

// AvgLatencyMs is sum/count, nil when nothing was measured.
func (d AggregateDelta) AvgLatencyMs() *float64 {
	if d.LatencyCount == 0 {
		return nil
	}
	avg := d.LatencySumMs / float64(d.LatencyCount)
	return &avg
}
