package detection

import (
	"context"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/customeros/mailpulse/config"
	"github.com/customeros/mailpulse/dto"
	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/internal/cache"
	"github.com/customeros/mailpulse/internal/logger"
	"github.com/customeros/mailpulse/internal/metrics"
	"github.com/customeros/mailpulse/internal/models"
	"github.com/customeros/mailpulse/internal/repository"
	"github.com/customeros/mailpulse/internal/tracing"
	"github.com/customeros/mailpulse/internal/utils"
)

type Detector struct {
	cfg        *config.DetectionConfig
	thresholds *config.ThresholdConfig
	log        logger.Logger
	aggregates interfaces.AggregateRepository
	alerts     interfaces.AlertRepository
	incidents  interfaces.IncidentRepository
	publisher  interfaces.EventPublisher
	cache      interfaces.Cache
}

func NewDetector(cfg *config.DetectionConfig, thresholds *config.ThresholdConfig, log logger.Logger,
	aggregates interfaces.AggregateRepository, alerts interfaces.AlertRepository,
	incidents interfaces.IncidentRepository, publisher interfaces.EventPublisher, readCache interfaces.Cache) *Detector {
	return &Detector{
		cfg:        cfg,
		thresholds: thresholds,
		log:        log,
		aggregates: aggregates,
		alerts:     alerts,
		incidents:  incidents,
		publisher:  publisher,
		cache:      readCache,
	}
}

// invalidateInsights drops cached reads after incidents or alerts change.
func (d *Detector) invalidateInsights(ctx context.Context) {
	if err := d.cache.Invalidate(ctx, cache.InsightsPrefix); err != nil {
		metrics.StageFailures.WithLabelValues(metrics.StageCache).Inc()
		d.log.Warnf("Failed to invalidate insights cache: %v", err)
	}
}

// Detect evaluates every rule relative to now. A failing rule does not stop
// the others; their errors are combined.
func (d *Detector) Detect(ctx context.Context, now time.Time) ([]*models.Alert, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Detector.Detect")
	defer span.Finish()
	tracing.TagComponentService(span)

	now = now.UTC()
	span.SetTag("now", now.Format(time.RFC3339))

	triggers, err := d.evaluate(ctx, now)

	var created []*models.Alert
	for _, trigger := range triggers {
		alert, raiseErr := d.raise(ctx, trigger, now)
		if raiseErr != nil {
			err = multierr.Append(err, raiseErr)
			continue
		}
		if alert != nil {
			created = append(created, alert)
		}
	}

	span.SetTag("alerts.created", len(created))
	if len(created) > 0 {
		d.invalidateInsights(ctx)
	}
	if err != nil {
		tracing.TraceErr(span, err)
		return created, errors.Wrap(err, "detection run incomplete")
	}
	return created, nil
}

func (d *Detector) evaluate(ctx context.Context, now time.Time) ([]Trigger, error) {
	var (
		triggers []Trigger
		err      error
	)

	shortWindow := windowEndingAt(now, d.cfg.ShortWindow)
	current, currentErr := d.aggregates.DomainLatencyStats(ctx, shortWindow.Start, shortWindow.End)
	baselineWindow := windowEndingAt(now, d.cfg.LongWindow)
	baseline, baselineErr := d.aggregates.DomainLatencyStats(ctx, baselineWindow.Start, baselineWindow.End)
	if currentErr != nil || baselineErr != nil {
		err = multierr.Append(err, errors.Wrap(multierr.Combine(currentErr, baselineErr), "throttling rule"))
	} else {
		triggers = append(triggers, EvaluateThrottling(current, baseline, d.thresholds, shortWindow)...)
	}

	complaintWindow := windowEndingAt(now, d.cfg.ComplaintWindow)
	complaintJobs, complaintErr := d.aggregates.JobMessageStats(ctx, complaintWindow.Start, complaintWindow.End)
	if complaintErr != nil {
		err = multierr.Append(err, errors.Wrap(complaintErr, "complaint spike rule"))
	} else {
		triggers = append(triggers, EvaluateComplaintSpike(complaintJobs, d.thresholds, complaintWindow)...)
	}

	bounceJobs, bounceErr := d.aggregates.JobMessageStats(ctx, shortWindow.Start, shortWindow.End)
	if bounceErr != nil {
		err = multierr.Append(err, errors.Wrap(bounceErr, "high bounce rule"))
	} else {
		triggers = append(triggers, EvaluateHighBounce(bounceJobs, d.thresholds, shortWindow)...)
	}

	return triggers, err
}

// raise returns a nil alert when the cooldown suppresses the trigger.
func (d *Detector) raise(ctx context.Context, trigger Trigger, now time.Time) (*models.Alert, error) {
	alert := &models.Alert{
		AlertType:       trigger.AlertType,
		Severity:        trigger.Severity,
		EntityType:      trigger.EntityType,
		EntityValue:     trigger.EntityValue,
		Summary:         trigger.Summary,
		Metrics:         trigger.Metrics,
		TimeWindowStart: trigger.Window.Start,
		TimeWindowEnd:   trigger.Window.End,
		CreatedAt:       now,
	}

	incident, err := d.alerts.Raise(ctx, alert, trigger.IncidentTitle(), now, now.Add(d.cfg.CooldownWindow))
	if errors.Is(err, repository.ErrAlertSuppressed) {
		metrics.Alerts.WithLabelValues(trigger.AlertType.String(), metrics.AlertOutcomeSuppressed).Inc()
		d.log.Debugf("%s alert for %s suppressed by cooldown", trigger.AlertType, trigger.EntityValue)
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "raise %s for %s", trigger.AlertType, trigger.EntityValue)
	}

	metrics.Alerts.WithLabelValues(trigger.AlertType.String(), metrics.AlertOutcomeCreated).Inc()
	d.log.Infof("Alert %s raised on incident %s: %s", alert.ID, incident.ID, trigger.Summary)

	if err := d.publisher.PublishAlertRaised(ctx, dto.AlertRaised{
		AlertID:     alert.ID,
		IncidentID:  incident.ID,
		AlertType:   alert.AlertType.String(),
		Severity:    alert.Severity.String(),
		EntityType:  alert.EntityType.String(),
		EntityValue: alert.EntityValue,
		Summary:     alert.Summary,
		WindowStart: alert.TimeWindowStart,
		WindowEnd:   alert.TimeWindowEnd,
	}); err != nil {
		metrics.StageFailures.WithLabelValues(metrics.StagePublish).Inc()
		d.log.Errorf("Failed to publish alert %s: %v", alert.ID, err)
	}
	return alert, nil
}

func (d *Detector) ResolveIncident(ctx context.Context, id string) (*models.Incident, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Detector.ResolveIncident")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagEntity(span, id)

	incident, err := d.incidents.Resolve(ctx, id, utils.Now())
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	d.invalidateInsights(ctx)
	d.log.Infof("Incident %s resolved", id)
	return incident, nil
}

// ExpireQuietIncidents resolves open incidents with no alert during the quiet
// period before now.
func (d *Detector) ExpireQuietIncidents(ctx context.Context, now time.Time) (int, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Detector.ExpireQuietIncidents")
	defer span.Finish()
	tracing.TagComponentService(span)

	now = now.UTC()
	quiet, err := d.incidents.ListQuiet(ctx, now.Add(-d.cfg.IncidentQuietPeriod))
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, errors.Wrap(err, "failed to list quiet incidents")
	}

	var resolved int
	for _, incident := range quiet {
		if _, resolveErr := d.incidents.Resolve(ctx, incident.ID, now); resolveErr != nil {
			err = multierr.Append(err, errors.Wrapf(resolveErr, "incident %s", incident.ID))
			continue
		}
		resolved++
	}

	span.SetTag("incidents.resolved", resolved)
	if resolved > 0 {
		d.invalidateInsights(ctx)
		d.log.Infof("Expired %d quiet incidents", resolved)
	}
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return resolved, err
}
