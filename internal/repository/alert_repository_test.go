package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailpulse/internal/enum"
	"github.com/customeros/mailpulse/internal/models"
	"github.com/customeros/mailpulse/internal/testdb"
)

func bounceAlert(job string, severity enum.Severity, createdAt time.Time) *models.Alert {
	return &models.Alert{
		AlertType:       enum.AlertTypeHighBounce,
		Severity:        severity,
		EntityType:      enum.EntityTypeJob,
		EntityValue:     job,
		Summary:         "bounce rate above threshold",
		Metrics:         models.JSONMap{"bounceRate": 0.5},
		TimeWindowStart: createdAt.Add(-15 * time.Minute),
		TimeWindowEnd:   createdAt,
		CreatedAt:       createdAt,
	}
}

func TestAlertRepository_RaiseHonoursCooldown(t *testing.T) {
	ctx := context.Background()
	db := testdb.New(t)
	alerts := NewAlertRepository(db)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cooldown := 30 * time.Minute

	incident, err := alerts.Raise(ctx, bounceAlert("job-1", enum.SeverityHigh, now), "High bounce rate: job-1", now, now.Add(cooldown))
	require.NoError(t, err)
	require.NotNil(t, incident)
	assert.Equal(t, enum.IncidentStatusOpen, incident.Status)
	assert.Equal(t, "job-1", incident.EntityValue)

	_, err = alerts.Raise(ctx, bounceAlert("job-1", enum.SeverityHigh, now.Add(time.Minute)), "High bounce rate: job-1",
		now.Add(time.Minute), now.Add(time.Minute+cooldown))
	assert.ErrorIs(t, err, ErrAlertSuppressed)

	var alertCount, incidentCount int64
	require.NoError(t, db.Model(&models.Alert{}).Count(&alertCount).Error)
	require.NoError(t, db.Model(&models.Incident{}).Count(&incidentCount).Error)
	assert.Equal(t, int64(1), alertCount)
	assert.Equal(t, int64(1), incidentCount)

	// a different rule for the same entity is not covered by the claim and joins the open incident
	other := bounceAlert("job-1", enum.SeverityCritical, now.Add(2*time.Minute))
	other.AlertType = enum.AlertTypeComplaintSpike
	joined, err := alerts.Raise(ctx, other, "Complaint spike: job-1", now.Add(2*time.Minute), now.Add(2*time.Minute+cooldown))
	require.NoError(t, err)
	assert.Equal(t, incident.ID, joined.ID)
	assert.Equal(t, enum.SeverityCritical, joined.Severity)

	// once the cooldown has elapsed the same rule may fire again
	later := now.Add(cooldown + time.Minute)
	again, err := alerts.Raise(ctx, bounceAlert("job-1", enum.SeverityHigh, later), "High bounce rate: job-1", later, later.Add(cooldown))
	require.NoError(t, err)
	assert.Equal(t, incident.ID, again.ID)
	assert.Equal(t, later, again.LastAlertAt.UTC())

	attached, err := alerts.ListByIncident(ctx, incident.ID)
	require.NoError(t, err)
	assert.Len(t, attached, 3)

	recent, err := alerts.ListRecent(ctx, now.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestIncidentRepository_ResolveReleasesCooldown(t *testing.T) {
	ctx := context.Background()
	db := testdb.New(t)
	alerts := NewAlertRepository(db)
	incidents := NewIncidentRepository(db)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	first, err := alerts.Raise(ctx, bounceAlert("job-1", enum.SeverityHigh, now), "t", now, now.Add(time.Hour))
	require.NoError(t, err)

	open, err := incidents.ListOpen(ctx, 10)
	require.NoError(t, err)
	require.Len(t, open, 1)

	resolved, err := incidents.Resolve(ctx, first.ID, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, enum.IncidentStatusResolved, resolved.Status)
	assert.Nil(t, resolved.OpenKey)
	require.NotNil(t, resolved.ResolvedAt)

	attached, err := alerts.ListByIncident(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, attached, 1)
	assert.Equal(t, enum.AlertStatusResolved, attached[0].Status)

	// idempotent
	_, err = incidents.Resolve(ctx, first.ID, now.Add(2*time.Minute))
	require.NoError(t, err)

	second, err := alerts.Raise(ctx, bounceAlert("job-1", enum.SeverityHigh, now.Add(3*time.Minute)), "t",
		now.Add(3*time.Minute), now.Add(time.Hour))
	require.NoError(t, err, "resolving releases the cooldown")
	assert.NotEqual(t, first.ID, second.ID, "a resolved incident is never reused")

	_, err = incidents.Resolve(ctx, "inc_missing", now)
	assert.ErrorIs(t, err, ErrIncidentNotFound)
	_, err = incidents.GetByID(ctx, "inc_missing")
	assert.ErrorIs(t, err, ErrIncidentNotFound)
}

func TestIncidentRepository_ListQuiet(t *testing.T) {
	ctx := context.Background()
	db := testdb.New(t)
	alerts := NewAlertRepository(db)
	incidents := NewIncidentRepository(db)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	_, err := alerts.Raise(ctx, bounceAlert("old-job", enum.SeverityHigh, now.Add(-3*time.Hour)), "t",
		now.Add(-3*time.Hour), now.Add(-150*time.Minute))
	require.NoError(t, err)
	_, err = alerts.Raise(ctx, bounceAlert("new-job", enum.SeverityHigh, now.Add(-10*time.Minute)), "t",
		now.Add(-10*time.Minute), now.Add(20*time.Minute))
	require.NoError(t, err)

	quiet, err := incidents.ListQuiet(ctx, now.Add(-2*time.Hour))
	require.NoError(t, err)
	require.Len(t, quiet, 1)
	assert.Equal(t, "old-job", quiet[0].EntityValue)
}
