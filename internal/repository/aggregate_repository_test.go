package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/internal/enum"
	"github.com/customeros/mailpulse/internal/models"
	"github.com/customeros/mailpulse/internal/testdb"
)

func TestAggregateRepository_MergeIsAdditive(t *testing.T) {
	ctx := context.Background()
	aggregates := NewAggregateRepository(testdb.New(t))

	key := models.AggregateKey{
		MinuteTimestamp: time.Date(2024, 5, 1, 10, 0, 42, 0, time.UTC),
		EventType:       enum.EventTypeTran,
		JobID:           "job-1",
		Sender:          "a@x.com",
		RecipientDomain: "gmail.com",
		Vmta:            "vmta1",
		FileID:          "f1",
	}
	p95 := 1900.0
	require.NoError(t, aggregates.MergeAggregate(ctx, key, models.AggregateDelta{
		TotalCount: 2, Delivered: 2, MessageAttempts: 2, DeliveredMessages: 2,
		LatencySumMs: 3000, LatencyCount: 2, P95LatencyMs: &p95,
	}))

	buckets, err := aggregates.ListByFile(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), buckets[0].MinuteTimestamp.UTC())
	require.NotNil(t, buckets[0].P95LatencyMs)
	assert.Equal(t, 1900.0, *buckets[0].P95LatencyMs)
	require.NotNil(t, buckets[0].AvgLatencyMs)
	assert.Equal(t, 1500.0, *buckets[0].AvgLatencyMs)

	require.NoError(t, aggregates.MergeAggregate(ctx, key, models.AggregateDelta{
		TotalCount: 1, Delivered: 1, MessageAttempts: 1, DeliveredMessages: 1,
		LatencySumMs: 6000, LatencyCount: 1, P95LatencyMs: &p95,
	}))

	buckets, err = aggregates.ListByFile(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	b := buckets[0]
	assert.Equal(t, int64(3), b.TotalCount)
	assert.Equal(t, int64(3), b.Delivered)
	assert.Equal(t, int64(3), b.MessageAttempts)
	assert.Equal(t, int64(3), b.DeliveredMessages)
	assert.Equal(t, 9000.0, b.LatencySumMs)
	assert.Equal(t, int64(3), b.LatencyCount)
	require.NotNil(t, b.AvgLatencyMs)
	assert.Equal(t, 3000.0, *b.AvgLatencyMs)
	assert.Nil(t, b.P95LatencyMs, "p95 is cleared on merge")
}

func TestAggregateRepository_ConcurrentMergesDoNotLoseUpdates(t *testing.T) {
	ctx := context.Background()
	aggregates := NewAggregateRepository(testdb.New(t))

	key := models.AggregateKey{
		MinuteTimestamp: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		EventType:       enum.EventTypeBounce,
		Sender:          "a@x.com",
		FileID:          "f1",
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, aggregates.MergeAggregate(ctx, key, models.AggregateDelta{TotalCount: 1, Bounced: 1}))
		}()
	}
	wg.Wait()

	buckets, err := aggregates.ListByFile(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, int64(20), buckets[0].TotalCount)
	assert.Equal(t, int64(20), buckets[0].Bounced)
	assert.Nil(t, buckets[0].AvgLatencyMs)
}

func TestAggregateRepository_WindowStats(t *testing.T) {
	ctx := context.Background()
	aggregates := NewAggregateRepository(testdb.New(t))
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	merge := func(minute time.Time, eventType enum.EventType, job, domain string, delta models.AggregateDelta) {
		require.NoError(t, aggregates.MergeAggregate(ctx, models.AggregateKey{
			MinuteTimestamp: minute, EventType: eventType, JobID: job, RecipientDomain: domain, FileID: "f1",
		}, delta))
	}
	merge(now.Add(-5*time.Minute), enum.EventTypeTran, "job-1", "gmail.com",
		models.AggregateDelta{TotalCount: 2, Delivered: 2, MessageAttempts: 2, LatencySumMs: 4000, LatencyCount: 2})
	merge(now.Add(-5*time.Minute), enum.EventTypeAcct, "job-1", "gmail.com",
		models.AggregateDelta{TotalCount: 1, Deferred: 1, MessageAttempts: 1})
	merge(now.Add(-5*time.Minute), enum.EventTypeBounce, "job-1", "yahoo.com",
		models.AggregateDelta{TotalCount: 1, Bounced: 1, MessageAttempts: 1, BouncedMessages: 1})
	merge(now.Add(-3*time.Hour), enum.EventTypeTran, "job-2", "gmail.com",
		models.AggregateDelta{TotalCount: 1, Delivered: 1, MessageAttempts: 1, LatencySumMs: 500, LatencyCount: 1})

	domains, err := aggregates.DomainLatencyStats(ctx, now.Add(-15*time.Minute), now)
	require.NoError(t, err)
	require.Len(t, domains, 2)
	assert.Equal(t, interfaces.DomainLatencyStats{RecipientDomain: "gmail.com", LatencySumMs: 4000, LatencyCount: 2, Deferred: 1}, domains[0])
	assert.Equal(t, "yahoo.com", domains[1].RecipientDomain)

	baseline, err := aggregates.DomainLatencyStats(ctx, now.Add(-24*time.Hour), now)
	require.NoError(t, err)
	require.Len(t, baseline, 2)
	assert.Equal(t, 4500.0, baseline[0].LatencySumMs)
	assert.Equal(t, int64(3), baseline[0].LatencyCount)

	jobs, err := aggregates.JobMessageStats(ctx, now.Add(-15*time.Minute), now)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, interfaces.JobMessageStats{JobID: "job-1", MessageAttempts: 4, BouncedMessages: 1}, jobs[0])

	deleted, err := aggregates.DeleteByFile(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), deleted)
}
