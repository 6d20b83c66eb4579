package detection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailpulse/config"
	"github.com/customeros/mailpulse/dto"
	"github.com/customeros/mailpulse/internal/cache"
	"github.com/customeros/mailpulse/internal/enum"
	"github.com/customeros/mailpulse/internal/logger"
	"github.com/customeros/mailpulse/internal/models"
	"github.com/customeros/mailpulse/internal/repository"
	"github.com/customeros/mailpulse/internal/testdb"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishFileProcessed(ctx context.Context, event dto.FileProcessed) error {
	return m.Called(ctx, event).Error(0)
}

func (m *mockPublisher) PublishAlertRaised(ctx context.Context, event dto.AlertRaised) error {
	return m.Called(ctx, event).Error(0)
}

func (m *mockPublisher) Close() error {
	return nil
}

var detectNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func setupDetector(t *testing.T) (*Detector, *repository.Repositories, *mockPublisher) {
	t.Helper()
	repos := repository.InitRepositories(testdb.New(t))
	cfg := config.Defaults()
	publisher := &mockPublisher{}
	publisher.On("PublishAlertRaised", mock.Anything, mock.Anything).Return(nil)
	detector := NewDetector(cfg.DetectionConfig, cfg.ThresholdConfig, logger.NewNopLogger(),
		repos.AggregateRepository, repos.AlertRepository, repos.IncidentRepository, publisher,
		cache.NewMemoryCache(16, time.Minute))
	return detector, repos, publisher
}

func merge(t *testing.T, repos *repository.Repositories, minute time.Time, eventType enum.EventType, jobID, domain string, delta models.AggregateDelta) {
	t.Helper()
	err := repos.AggregateRepository.MergeAggregate(context.Background(), models.AggregateKey{
		MinuteTimestamp: minute,
		EventType:       eventType,
		JobID:           jobID,
		Sender:          "news@brand.com",
		RecipientDomain: domain,
		Vmta:            "vmta-1",
		FileID:          "file-1",
	}, delta)
	require.NoError(t, err)
}

func TestDetect_CooldownYieldsOneAlertAndIncident(t *testing.T) {
	ctx := context.Background()
	detector, repos, publisher := setupDetector(t)

	merge(t, repos, detectNow.Add(-5*time.Minute), enum.EventTypeBounce, "job-1", "gmail.com",
		models.AggregateDelta{TotalCount: 10, Bounced: 10, MessageAttempts: 20, BouncedMessages: 10})

	alerts, err := detector.Detect(ctx, detectNow)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, enum.AlertTypeHighBounce, alerts[0].AlertType)
	assert.Equal(t, "job-1", alerts[0].EntityValue)
	assert.Equal(t, detectNow.Add(-15*time.Minute), alerts[0].TimeWindowStart)
	assert.Equal(t, detectNow, alerts[0].TimeWindowEnd)

	alerts, err = detector.Detect(ctx, detectNow.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, alerts)

	incidents, err := repos.IncidentRepository.ListOpen(ctx, 10)
	require.NoError(t, err)
	require.Len(t, incidents, 1)
	assert.Equal(t, "HIGH BOUNCE: job-1", incidents[0].Title)
	assert.Equal(t, enum.EntityTypeJob, incidents[0].EntityType)

	stored, err := repos.AlertRepository.ListByIncident(ctx, incidents[0].ID)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
	publisher.AssertNumberOfCalls(t, "PublishAlertRaised", 1)
}

func TestDetect_AfterCooldownAttachesToOpenIncident(t *testing.T) {
	ctx := context.Background()
	detector, repos, _ := setupDetector(t)

	merge(t, repos, detectNow.Add(-5*time.Minute), enum.EventTypeBounce, "job-1", "gmail.com",
		models.AggregateDelta{MessageAttempts: 20, BouncedMessages: 10})
	later := detectNow.Add(31 * time.Minute)
	merge(t, repos, later.Add(-time.Minute), enum.EventTypeBounce, "job-1", "gmail.com",
		models.AggregateDelta{MessageAttempts: 20, BouncedMessages: 10})

	first, err := detector.Detect(ctx, detectNow)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := detector.Detect(ctx, later)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].IncidentID, second[0].IncidentID)

	incident, err := repos.IncidentRepository.GetByID(ctx, first[0].IncidentID)
	require.NoError(t, err)
	assert.True(t, incident.LastAlertAt.Equal(later))
}

func TestDetect_ThrottlingAndComplaintSpike(t *testing.T) {
	ctx := context.Background()
	detector, repos, _ := setupDetector(t)

	// a quiet baseline earlier in the day, then a slow spell
	merge(t, repos, detectNow.Add(-2*time.Hour), enum.EventTypeTran, "job-1", "yahoo.com",
		models.AggregateDelta{Delivered: 100, LatencySumMs: 40000, LatencyCount: 100})
	merge(t, repos, detectNow.Add(-5*time.Minute), enum.EventTypeTran, "job-1", "yahoo.com",
		models.AggregateDelta{Delivered: 2, LatencySumMs: 12000, LatencyCount: 2})
	merge(t, repos, detectNow.Add(-10*time.Minute), enum.EventTypeFbl, "job-2", "yahoo.com",
		models.AggregateDelta{Complaints: 2, MessageAttempts: 100, ComplaintMessages: 2})

	alerts, err := detector.Detect(ctx, detectNow)
	require.NoError(t, err)
	require.Len(t, alerts, 2)

	byType := map[enum.AlertType]*models.Alert{}
	for _, a := range alerts {
		byType[a.AlertType] = a
	}
	require.Contains(t, byType, enum.AlertTypeThrottling)
	require.Contains(t, byType, enum.AlertTypeComplaintSpike)
	assert.Equal(t, "yahoo.com", byType[enum.AlertTypeThrottling].EntityValue)
	assert.Equal(t, enum.SeverityCritical, byType[enum.AlertTypeComplaintSpike].Severity)
	assert.Equal(t, detectNow.Add(-30*time.Minute), byType[enum.AlertTypeComplaintSpike].TimeWindowStart)
}

func TestExpireQuietIncidents_ReleasesCooldown(t *testing.T) {
	ctx := context.Background()
	detector, repos, _ := setupDetector(t)

	merge(t, repos, detectNow.Add(-5*time.Minute), enum.EventTypeRb, "job-9", "gmail.com",
		models.AggregateDelta{MessageAttempts: 10, BouncedMessages: 10})

	alerts, err := detector.Detect(ctx, detectNow)
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	resolved, err := detector.ExpireQuietIncidents(ctx, detectNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, resolved)

	resolved, err = detector.ExpireQuietIncidents(ctx, detectNow.Add(2*time.Hour+time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	incident, err := repos.IncidentRepository.GetByID(ctx, alerts[0].IncidentID)
	require.NoError(t, err)
	assert.Equal(t, enum.IncidentStatusResolved, incident.Status)

	// resolution frees the cooldown, so the same data raises into a fresh incident
	again, err := detector.Detect(ctx, detectNow)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.NotEqual(t, alerts[0].IncidentID, again[0].IncidentID)
}

func TestResolveIncident(t *testing.T) {
	ctx := context.Background()
	detector, repos, _ := setupDetector(t)

	merge(t, repos, detectNow.Add(-5*time.Minute), enum.EventTypeBounce, "job-1", "gmail.com",
		models.AggregateDelta{MessageAttempts: 10, BouncedMessages: 5})
	alerts, err := detector.Detect(ctx, detectNow)
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	incident, err := detector.ResolveIncident(ctx, alerts[0].IncidentID)
	require.NoError(t, err)
	assert.Equal(t, enum.IncidentStatusResolved, incident.Status)
	assert.NotNil(t, incident.ResolvedAt)

	stored, err := repos.AlertRepository.ListByIncident(ctx, incident.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, enum.AlertStatusResolved, stored[0].Status)

	_, err = detector.ResolveIncident(ctx, "inc_missing")
	assert.ErrorIs(t, err, repository.ErrIncidentNotFound)
}

func TestIncidentChangesInvalidateInsightsCache(t *testing.T) {
	ctx := context.Background()
	detector, repos, _ := setupDetector(t)
	key := cache.InsightsPrefix + "incidents:open"

	cached := func() bool {
		var value []string
		hit, err := detector.cache.Get(ctx, key, &value)
		require.NoError(t, err)
		return hit
	}

	merge(t, repos, detectNow.Add(-5*time.Minute), enum.EventTypeBounce, "job-1", "gmail.com",
		models.AggregateDelta{MessageAttempts: 10, BouncedMessages: 5})
	require.NoError(t, detector.cache.Set(ctx, key, []string{"stale"}, time.Minute))
	alerts, err := detector.Detect(ctx, detectNow)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.False(t, cached(), "new alerts drop cached reads")

	require.NoError(t, detector.cache.Set(ctx, key, []string{"stale"}, time.Minute))
	_, err = detector.ResolveIncident(ctx, alerts[0].IncidentID)
	require.NoError(t, err)
	assert.False(t, cached(), "resolution drops cached reads")

	again, err := detector.Detect(ctx, detectNow)
	require.NoError(t, err)
	require.Len(t, again, 1)
	require.NoError(t, detector.cache.Set(ctx, key, []string{"stale"}, time.Minute))
	resolved, err := detector.ExpireQuietIncidents(ctx, detectNow.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)
	assert.False(t, cached(), "expiry drops cached reads")
}
