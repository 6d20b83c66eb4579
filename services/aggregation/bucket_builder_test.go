package aggregation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailpulse/internal/enum"
	"github.com/customeros/mailpulse/internal/models"
	"github.com/customeros/mailpulse/internal/stats"
	"github.com/customeros/mailpulse/internal/utils"
)

var baseTime = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func event(id string, eventType enum.EventType, at time.Time, messageKey string) *models.Event {
	return &models.Event{
		ID:              id,
		FileID:          "file-1",
		EventType:       eventType,
		EventTimestamp:  utils.TimePtr(at),
		JobID:           "job-1",
		Sender:          "news@brand.com",
		RecipientDomain: "gmail.com",
		Vmta:            "vmta-1",
		MessageKey:      utils.StringPtrOrNil(messageKey),
	}
}

func withLatency(e *models.Event, seconds float64) *models.Event {
	e.DeliveryLatencySeconds = &seconds
	return e
}

func TestBucketBuilder_TalliesByCategory(t *testing.T) {
	builder := NewBucketBuilder("file-1")

	deferred := event("e5", enum.EventTypeAcct, baseTime.Add(20*time.Second), "m4")
	deferred.DsnAction = "Delayed"
	relayed := event("e6", enum.EventTypeAcct, baseTime.Add(25*time.Second), "m5")
	relayed.DsnAction = "relayed"

	builder.AddBatch([]*models.Event{
		withLatency(event("e1", enum.EventTypeTran, baseTime.Add(5*time.Second), "m1"), 1),
		withLatency(event("e2", enum.EventTypeTran, baseTime.Add(10*time.Second), "m1"), 3),
		event("e3", enum.EventTypeTran, baseTime.Add(15*time.Second), ""),
		event("e4", enum.EventTypeBounce, baseTime.Add(15*time.Second), "m2"),
		deferred,
		relayed,
		event("e7", enum.EventTypeFbl, baseTime.Add(90*time.Second), "m3"),
		{ID: "e8", EventType: enum.EventTypeTran},
	})

	assert.Equal(t, 1, builder.Skipped())
	require.NotNil(t, builder.Latest())
	assert.Equal(t, baseTime.Add(90*time.Second), *builder.Latest())

	buckets := builder.Buckets()
	require.Len(t, buckets, 4)

	// minute 10:00 ordered by event type: acct, bounce, tran; then 10:01 fbl
	acct, bounce, tran, fbl := buckets[0], buckets[1], buckets[2], buckets[3]
	assert.Equal(t, enum.EventTypeAcct, acct.Key.EventType)
	assert.Equal(t, baseTime, acct.Key.MinuteTimestamp)
	assert.Equal(t, "file-1", acct.Key.FileID)
	assert.Equal(t, int64(2), acct.Delta.TotalCount)
	assert.Equal(t, int64(1), acct.Delta.Deferred)
	assert.Equal(t, int64(2), acct.Delta.MessageAttempts)

	assert.Equal(t, enum.EventTypeBounce, bounce.Key.EventType)
	assert.Equal(t, int64(1), bounce.Delta.Bounced)
	assert.Equal(t, int64(1), bounce.Delta.BouncedMessages)

	assert.Equal(t, enum.EventTypeTran, tran.Key.EventType)
	assert.Equal(t, int64(3), tran.Delta.TotalCount)
	assert.Equal(t, int64(3), tran.Delta.Delivered)
	assert.Equal(t, int64(1), tran.Delta.DeliveredMessages)
	assert.Equal(t, int64(1), tran.Delta.MessageAttempts)
	assert.InDelta(t, 4000.0, tran.Delta.LatencySumMs, 1e-9)
	assert.Equal(t, int64(2), tran.Delta.LatencyCount)
	require.NotNil(t, tran.Delta.P95LatencyMs)
	assert.InDelta(t, 2900.0, *tran.Delta.P95LatencyMs, 1e-9)

	assert.Equal(t, enum.EventTypeFbl, fbl.Key.EventType)
	assert.Equal(t, baseTime.Add(time.Minute), fbl.Key.MinuteTimestamp)
	assert.Equal(t, int64(1), fbl.Delta.Complaints)
	assert.Equal(t, int64(1), fbl.Delta.ComplaintMessages)
	assert.Nil(t, fbl.Delta.P95LatencyMs)
}

func TestBucketBuilder_RateBlocksCountAsBounces(t *testing.T) {
	builder := NewBucketBuilder("file-1")
	builder.Add(event("e1", enum.EventTypeRb, baseTime, "m1"))

	buckets := builder.Buckets()
	require.Len(t, buckets, 1)
	assert.Equal(t, int64(1), buckets[0].Delta.Bounced)
	assert.Equal(t, int64(1), buckets[0].Delta.BouncedMessages)
}

func TestBucketBuilder_P95MatchesPercentile(t *testing.T) {
	builder := NewBucketBuilder("file-1")
	var latenciesMs []float64
	for i := 0; i < 40; i++ {
		seconds := float64((i*37)%50) / 10
		latenciesMs = append(latenciesMs, seconds*1000)
		builder.Add(withLatency(event("e", enum.EventTypeTran, baseTime.Add(time.Duration(i)*time.Second), ""), seconds))
	}

	buckets := builder.Buckets()
	require.Len(t, buckets, 1)
	expected, ok := stats.Percentile(latenciesMs, 0.95)
	require.True(t, ok)
	assert.InDelta(t, expected, *buckets[0].Delta.P95LatencyMs, 1e-6)
}
