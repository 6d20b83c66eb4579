package interfaces

import (
	"context"
	"time"

	"github.com/customeros/mailpulse/internal/models"
)

type FileAggregator interface {
	AggregateFile(ctx context.Context, fileID string) error
}

type RiskScorer interface {
	// ScoreFile returns the number of sender scores written.
	ScoreFile(ctx context.Context, fileID string) (int, error)
}

type IncidentDetector interface {
	// Detect evaluates every rule relative to now and returns the alerts created.
	Detect(ctx context.Context, now time.Time) ([]*models.Alert, error)
}
