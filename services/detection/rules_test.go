package detection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailpulse/config"
	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/internal/enum"
)

var testWindow = Window{
	Start: time.Date(2024, 5, 1, 11, 45, 0, 0, time.UTC),
	End:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
}

func domainStats(domain string, avgMs float64, count, deferred int64) interfaces.DomainLatencyStats {
	return interfaces.DomainLatencyStats{
		RecipientDomain: domain,
		LatencySumMs:    avgMs * float64(count),
		LatencyCount:    count,
		Deferred:        deferred,
	}
}

func TestEvaluateThrottling_RequiresDeferralOrHighLatency(t *testing.T) {
	thresholds := config.Defaults().ThresholdConfig
	baseline := []interfaces.DomainLatencyStats{domainStats("gmail.com", 500, 100, 0)}

	// 1000 > 500*1.5 but no deferrals and 1000 < 5000
	current := []interfaces.DomainLatencyStats{domainStats("gmail.com", 1000, 10, 0)}
	assert.Empty(t, EvaluateThrottling(current, baseline, thresholds, testWindow))

	current = []interfaces.DomainLatencyStats{domainStats("gmail.com", 1000, 10, 1)}
	triggers := EvaluateThrottling(current, baseline, thresholds, testWindow)
	require.Len(t, triggers, 1)
	assert.Equal(t, enum.AlertTypeThrottling, triggers[0].AlertType)
	assert.Equal(t, enum.SeverityHigh, triggers[0].Severity)
	assert.Equal(t, enum.EntityTypeDomain, triggers[0].EntityType)
	assert.Equal(t, "gmail.com", triggers[0].EntityValue)
	assert.Equal(t, testWindow, triggers[0].Window)
	assert.InDelta(t, 750.0, triggers[0].Metrics["thresholdMs"], 1e-9)

	current = []interfaces.DomainLatencyStats{domainStats("gmail.com", 6000, 10, 0)}
	assert.Len(t, EvaluateThrottling(current, baseline, thresholds, testWindow), 1)
}

func TestEvaluateThrottling_FallbackBaseline(t *testing.T) {
	thresholds := config.Defaults().ThresholdConfig
	thresholds.BaselineLatencyMs = 2000

	current := []interfaces.DomainLatencyStats{
		domainStats("a.com", 2500, 5, 3),
		domainStats("b.com", 3500, 5, 3),
		{RecipientDomain: "c.com", Deferred: 50},
	}
	triggers := EvaluateThrottling(current, nil, thresholds, testWindow)
	require.Len(t, triggers, 1)
	assert.Equal(t, "b.com", triggers[0].EntityValue)
	assert.InDelta(t, 2000.0, triggers[0].Metrics["baselineAvgLatencyMs"], 1e-9)
}

func TestEvaluateComplaintSpike(t *testing.T) {
	thresholds := config.Defaults().ThresholdConfig
	jobs := []interfaces.JobMessageStats{
		{JobID: "job-at-threshold", MessageAttempts: 100, ComplaintMessages: 1},
		{JobID: "job-spike", MessageAttempts: 100, ComplaintMessages: 2},
		{JobID: "", MessageAttempts: 10, ComplaintMessages: 1},
		{JobID: "job-clean", MessageAttempts: 5},
	}

	triggers := EvaluateComplaintSpike(jobs, thresholds, testWindow)
	require.Len(t, triggers, 2)
	assert.Equal(t, "job-spike", triggers[0].EntityValue)
	assert.Equal(t, enum.SeverityCritical, triggers[0].Severity)
	assert.Equal(t, enum.EntityTypeJob, triggers[0].EntityType)
	assert.Equal(t, "unknown", triggers[1].EntityValue)
	assert.Equal(t, "COMPLAINT SPIKE: job-spike", triggers[0].IncidentTitle())
}

func TestEvaluateHighBounce(t *testing.T) {
	thresholds := config.Defaults().ThresholdConfig
	jobs := []interfaces.JobMessageStats{
		{JobID: "too-small", MessageAttempts: 9, BouncedMessages: 9},
		{JobID: "at-threshold", MessageAttempts: 10, BouncedMessages: 2},
		{JobID: "bouncy", MessageAttempts: 10, BouncedMessages: 3},
	}

	triggers := EvaluateHighBounce(jobs, thresholds, testWindow)
	require.Len(t, triggers, 1)
	assert.Equal(t, "bouncy", triggers[0].EntityValue)
	assert.Equal(t, enum.SeverityHigh, triggers[0].Severity)
	assert.InDelta(t, 0.3, triggers[0].Metrics["bounceRate"], 1e-9)
	assert.Equal(t, "HIGH BOUNCE: bouncy", triggers[0].IncidentTitle())
}
