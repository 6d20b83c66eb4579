package detection

import (
	"fmt"
	"strings"
	"time"

	"github.com/customeros/mailpulse/config"
	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/internal/enum"
	"github.com/customeros/mailpulse/internal/models"
)

const unknownJobID = "unknown"

var severities = map[enum.AlertType]enum.Severity{
	enum.AlertTypeThrottling:     enum.SeverityHigh,
	enum.AlertTypeComplaintSpike: enum.SeverityCritical,
	enum.AlertTypeHighBounce:     enum.SeverityHigh,
}

type Window struct {
	Start time.Time
	End   time.Time
}

func windowEndingAt(now time.Time, d time.Duration) Window {
	return Window{Start: now.Add(-d), End: now}
}

// Trigger is a rule firing for one entity, before cooldown and incident handling.
type Trigger struct {
	AlertType   enum.AlertType
	Severity    enum.Severity
	EntityType  enum.EntityType
	EntityValue string
	Summary     string
	Metrics     models.JSONMap
	Window      Window
}

func (t Trigger) IncidentTitle() string {
	return strings.ReplaceAll(t.AlertType.String(), "_", " ") + ": " + t.EntityValue
}

func newTrigger(alertType enum.AlertType, entityType enum.EntityType, entityValue, summary string, metrics models.JSONMap, window Window) Trigger {
	return Trigger{
		AlertType:   alertType,
		Severity:    severities[alertType],
		EntityType:  entityType,
		EntityValue: entityValue,
		Summary:     summary,
		Metrics:     metrics,
		Window:      window,
	}
}

// EvaluateThrottling compares each domain's current average delivery latency
// against its long-window baseline. A domain with no baseline latency falls
// back to the configured baseline.
func EvaluateThrottling(current, baseline []interfaces.DomainLatencyStats, thresholds *config.ThresholdConfig, window Window) []Trigger {
	baselines := make(map[string]float64, len(baseline))
	for _, b := range baseline {
		if b.LatencyCount > 0 {
			baselines[b.RecipientDomain] = b.LatencySumMs / float64(b.LatencyCount)
		}
	}

	var triggers []Trigger
	for _, c := range current {
		if c.LatencyCount == 0 {
			continue
		}
		currentAvg := c.LatencySumMs / float64(c.LatencyCount)
		baselineAvg, ok := baselines[c.RecipientDomain]
		if !ok || baselineAvg <= 0 {
			baselineAvg = thresholds.BaselineLatencyMs
		}
		threshold := baselineAvg * thresholds.ThrottlingMultiplier

		if currentAvg <= threshold {
			continue
		}
		if c.Deferred == 0 && currentAvg <= thresholds.HighLatencyMs {
			continue
		}

		summary := fmt.Sprintf("Delivery latency to %s is %.0fms against a %.0fms baseline (%d deferred)",
			c.RecipientDomain, currentAvg, baselineAvg, c.Deferred)
		triggers = append(triggers, newTrigger(enum.AlertTypeThrottling, enum.EntityTypeDomain, c.RecipientDomain, summary, models.JSONMap{
			"currentAvgLatencyMs":  currentAvg,
			"baselineAvgLatencyMs": baselineAvg,
			"thresholdMs":          threshold,
			"deferredCount":        c.Deferred,
			"latencyCount":         c.LatencyCount,
		}, window))
	}
	return triggers
}

func EvaluateComplaintSpike(jobs []interfaces.JobMessageStats, thresholds *config.ThresholdConfig, window Window) []Trigger {
	var triggers []Trigger
	for _, j := range jobs {
		if j.ComplaintMessages < 1 || j.MessageAttempts == 0 {
			continue
		}
		rate := float64(j.ComplaintMessages) / float64(j.MessageAttempts)
		if rate <= thresholds.ComplaintRate {
			continue
		}

		jobID := jobEntity(j.JobID)
		summary := fmt.Sprintf("Job %s complaint rate %.2f%% (%d of %d messages)",
			jobID, rate*100, j.ComplaintMessages, j.MessageAttempts)
		triggers = append(triggers, newTrigger(enum.AlertTypeComplaintSpike, enum.EntityTypeJob, jobID, summary, models.JSONMap{
			"complaintMessages": j.ComplaintMessages,
			"messageAttempts":   j.MessageAttempts,
			"complaintRate":     rate,
			"threshold":         thresholds.ComplaintRate,
		}, window))
	}
	return triggers
}

func EvaluateHighBounce(jobs []interfaces.JobMessageStats, thresholds *config.ThresholdConfig, window Window) []Trigger {
	var triggers []Trigger
	for _, j := range jobs {
		if j.MessageAttempts == 0 || j.MessageAttempts < thresholds.MinMessages {
			continue
		}
		rate := float64(j.BouncedMessages) / float64(j.MessageAttempts)
		if rate <= thresholds.BounceRate {
			continue
		}

		jobID := jobEntity(j.JobID)
		summary := fmt.Sprintf("Job %s bounce rate %.2f%% (%d of %d messages)",
			jobID, rate*100, j.BouncedMessages, j.MessageAttempts)
		triggers = append(triggers, newTrigger(enum.AlertTypeHighBounce, enum.EntityTypeJob, jobID, summary, models.JSONMap{
			"bouncedMessages": j.BouncedMessages,
			"messageAttempts": j.MessageAttempts,
			"bounceRate":      rate,
			"threshold":       thresholds.BounceRate,
		}, window))
	}
	return triggers
}

func jobEntity(jobID string) string {
	if jobID == "" {
		return unknownJobID
	}
	return jobID
}
