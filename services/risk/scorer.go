package risk

import (
	"context"
	"math"
	"sync/atomic"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/customeros/mailpulse/config"
	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/internal/enum"
	"github.com/customeros/mailpulse/internal/logger"
	"github.com/customeros/mailpulse/internal/metrics"
	"github.com/customeros/mailpulse/internal/models"
	"github.com/customeros/mailpulse/internal/tracing"
	"github.com/customeros/mailpulse/internal/utils"
)

// Result is the outcome of scoring one sender's message tallies.
type Result struct {
	ComplaintRate float64
	BounceRate    float64
	RawScore      float64
	Score         int
	Level         enum.RiskLevel
}

// Score turns message tallies into a 0..MaxScore risk score. Rates are percentages.
func Score(cfg *config.RiskConfig, messageAttempts, complaintMessages, bouncedMessages int64) Result {
	var r Result
	if messageAttempts > 0 {
		r.ComplaintRate = float64(complaintMessages) / float64(messageAttempts) * 100
		r.BounceRate = float64(bouncedMessages) / float64(messageAttempts) * 100
	}
	r.RawScore = r.ComplaintRate*cfg.ComplaintWeight + r.BounceRate*cfg.BounceWeight
	r.Score = int(math.Min(float64(cfg.MaxScore), math.Round(r.RawScore)))
	r.Level = Level(cfg, r.Score)
	return r
}

func Level(cfg *config.RiskConfig, score int) enum.RiskLevel {
	switch {
	case score > cfg.CriticalThreshold:
		return enum.RiskLevelCritical
	case score > cfg.HighThreshold:
		return enum.RiskLevelHigh
	case score > cfg.MediumThreshold:
		return enum.RiskLevelMedium
	default:
		return enum.RiskLevelLow
	}
}

type Scorer struct {
	cfg    *config.RiskConfig
	log    logger.Logger
	events interfaces.EventRepository
	scores interfaces.RiskScoreRepository
}

func NewScorer(cfg *config.RiskConfig, log logger.Logger, events interfaces.EventRepository, scores interfaces.RiskScoreRepository) *Scorer {
	return &Scorer{cfg: cfg, log: log, events: events, scores: scores}
}

// ScoreFile scores every sender seen in the file. In per_batch mode the
// file's own tallies overwrite the stored score; in cumulative mode they are
// first added to the sender's running volume.
func (s *Scorer) ScoreFile(ctx context.Context, fileID string) (int, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Scorer.ScoreFile")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagFile(span, fileID)

	senders, err := s.events.SenderMessageStats(ctx, fileID)
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, errors.Wrap(err, "failed to load sender stats")
	}
	span.SetTag("senders", len(senders))

	var written int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.UpsertBatchSize)
	for _, sender := range senders {
		sender := sender
		g.Go(func() error {
			if err := s.scoreSender(gctx, fileID, sender); err != nil {
				return errors.Wrapf(err, "sender %s", sender.Sender)
			}
			atomic.AddInt64(&written, 1)
			return nil
		})
	}
	err = g.Wait()
	metrics.RiskScoresUpdated.Add(float64(written))
	if err != nil {
		tracing.TraceErr(span, err)
		return int(written), errors.Wrap(err, "failed to upsert risk scores")
	}

	s.log.Debugf("Risk scores updated for %d senders of file %s", written, fileID)
	return int(written), nil
}

func (s *Scorer) scoreSender(ctx context.Context, fileID string, stats interfaces.SenderMessageStats) error {
	attempts, complaints, bounces := stats.MessageAttempts, stats.ComplaintMessages, stats.BouncedMessages
	mode := s.cfg.Mode
	if mode == enum.RiskModeCumulative {
		volume, err := s.scores.AddSenderVolume(ctx, stats)
		if err != nil {
			return err
		}
		attempts, complaints, bounces = volume.MessageAttempts, volume.ComplaintMessages, volume.BouncedMessages
	} else {
		mode = enum.RiskModePerBatch
	}

	result := Score(s.cfg, attempts, complaints, bounces)
	now := utils.Now()
	return s.scores.Upsert(ctx, &models.RiskScore{
		EntityType:  enum.EntityTypeSender,
		EntityValue: stats.Sender,
		Score:       result.Score,
		Level:       result.Level,
		ContributingFactors: models.JSONMap{
			"messageAttempts":   attempts,
			"complaintMessages": complaints,
			"bouncedMessages":   bounces,
			"complaintRate":     result.ComplaintRate,
			"bounceRate":        result.BounceRate,
			"rawScore":          result.RawScore,
			"mode":              mode.String(),
			"fileId":            fileID,
		},
		CalculatedAt: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}
