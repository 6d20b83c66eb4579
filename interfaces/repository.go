package interfaces

import (
	"context"
	"time"

	"github.com/customeros/mailpulse/internal/enum"
	"github.com/customeros/mailpulse/internal/models"
)

type FileRepository interface {
	Create(ctx context.Context, file *models.UploadedFile) error
	GetByID(ctx context.Context, id string) (*models.UploadedFile, error)
	GetByContentHash(ctx context.Context, contentHash string) (*models.UploadedFile, error)
	MarkProcessing(ctx context.Context, id string) error
	SetDetectedType(ctx context.Context, id string, detectedType enum.EventType) error
	MarkCompleted(ctx context.Context, id string, rowCount int64) error
	MarkError(ctx context.Context, id string, detail string) error
	ClaimAggregation(ctx context.Context, id string, onlyUnaggregated bool, now, staleBefore time.Time) error
	MarkAggregated(ctx context.Context, id string, at time.Time) error
	MarkAggregationFailed(ctx context.Context, id string, detail string) error
	ListUnaggregated(ctx context.Context, completedBefore time.Time, limit int) ([]*models.UploadedFile, error)
	CountByStatus(ctx context.Context) (map[enum.FileStatus]int64, error)
	Delete(ctx context.Context, id string) error
}

// SenderMessageStats holds distinct-messageKey tallies for one sender.
type SenderMessageStats struct {
	Sender            string
	MessageAttempts   int64
	ComplaintMessages int64
	BouncedMessages   int64
}

// LatencyFilter narrows a raw-event latency read; empty fields match everything.
type LatencyFilter struct {
	RecipientDomain string
	Sender          string
	JobID           string
}

type EventRepository interface {
	InsertBatch(ctx context.Context, events []*models.Event) (int64, error)
	StreamByFile(ctx context.Context, fileID string, batchSize int, fn func(batch []*models.Event) error) error
	CountByFile(ctx context.Context, fileID string) (int64, error)
	SenderMessageStats(ctx context.Context, fileID string) ([]SenderMessageStats, error)
	DeliveredLatenciesMs(ctx context.Context, from, to time.Time, filter LatencyFilter) ([]float64, error)
}

// DomainLatencyStats sums aggregate rows per recipient domain over a window.
type DomainLatencyStats struct {
	RecipientDomain string
	LatencySumMs    float64
	LatencyCount    int64
	Deferred        int64
}

// JobMessageStats sums message-deduplicated tallies per job over a window.
type JobMessageStats struct {
	JobID             string
	MessageAttempts   int64
	BouncedMessages   int64
	ComplaintMessages int64
}

type AggregateRepository interface {
	// MergeAggregate adds delta into the row for key in one atomic statement.
	MergeAggregate(ctx context.Context, key models.AggregateKey, delta models.AggregateDelta) error
	DeleteByFile(ctx context.Context, fileID string) (int64, error)
	ListByFile(ctx context.Context, fileID string) ([]*models.AggregateBucket, error)
	DomainLatencyStats(ctx context.Context, from, to time.Time) ([]DomainLatencyStats, error)
	JobMessageStats(ctx context.Context, from, to time.Time) ([]JobMessageStats, error)
}

type RiskScoreRepository interface {
	Upsert(ctx context.Context, score *models.RiskScore) error
	GetByEntity(ctx context.Context, entityType enum.EntityType, entityValue string) (*models.RiskScore, error)
	ListTop(ctx context.Context, entityType enum.EntityType, limit int) ([]*models.RiskScore, error)
	AddSenderVolume(ctx context.Context, stats SenderMessageStats) (*models.SenderVolume, error)
}

type AlertRepository interface {
	// Raise claims the (alertType, entityValue) cooldown, finds or opens the
	// entity's incident and stores the alert, all in one transaction. It
	// returns repository.ErrAlertSuppressed when the cooldown is held.
	Raise(ctx context.Context, alert *models.Alert, incidentTitle string, now, cooldownUntil time.Time) (*models.Incident, error)
	ListByIncident(ctx context.Context, incidentID string) ([]*models.Alert, error)
	ListRecent(ctx context.Context, since time.Time, limit int) ([]*models.Alert, error)
}

type IncidentRepository interface {
	GetByID(ctx context.Context, id string) (*models.Incident, error)
	ListOpen(ctx context.Context, limit int) ([]*models.Incident, error)
	ListQuiet(ctx context.Context, lastAlertBefore time.Time) ([]*models.Incident, error)
	// Resolve closes the incident and its open alerts and releases their cooldowns.
	Resolve(ctx context.Context, id string, at time.Time) (*models.Incident, error)
}
