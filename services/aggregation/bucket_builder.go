package aggregation

import (
	"sort"
	"strings"
	"time"

	"github.com/customeros/mailpulse/internal/enum"
	"github.com/customeros/mailpulse/internal/models"
	"github.com/customeros/mailpulse/internal/stats"
	"github.com/customeros/mailpulse/internal/utils"
)

const deferredDsnAction = "delayed"

// Bucket is one grouped rollup ready to merge.
type Bucket struct {
	Key   models.AggregateKey
	Delta models.AggregateDelta
}

type accumulator struct {
	delta      models.AggregateDelta
	messages   map[string]struct{}
	delivered  map[string]struct{}
	bounced    map[string]struct{}
	complaints map[string]struct{}
	latencies  []float64
}

func newAccumulator() *accumulator {
	return &accumulator{
		messages:   map[string]struct{}{},
		delivered:  map[string]struct{}{},
		bounced:    map[string]struct{}{},
		complaints: map[string]struct{}{},
	}
}

// BucketBuilder groups one file's events into per-minute buckets. Events
// without a timestamp cannot be placed in a minute and are skipped.
type BucketBuilder struct {
	fileID  string
	buckets map[models.AggregateKey]*accumulator
	skipped int
	latest  *time.Time
}

func NewBucketBuilder(fileID string) *BucketBuilder {
	return &BucketBuilder{fileID: fileID, buckets: map[models.AggregateKey]*accumulator{}}
}

func (b *BucketBuilder) AddBatch(events []*models.Event) {
	for _, e := range events {
		b.Add(e)
	}
}

func (b *BucketBuilder) Add(e *models.Event) {
	if e == nil || e.EventTimestamp == nil {
		b.skipped++
		return
	}

	ts := e.EventTimestamp.UTC()
	if b.latest == nil || ts.After(*b.latest) {
		b.latest = &ts
	}

	key := models.AggregateKey{
		MinuteTimestamp: utils.TruncateToMinute(ts),
		EventType:       e.EventType,
		JobID:           e.JobID,
		Sender:          e.Sender,
		RecipientDomain: e.RecipientDomain,
		Vmta:            e.Vmta,
		FileID:          b.fileID,
	}
	acc, ok := b.buckets[key]
	if !ok {
		acc = newAccumulator()
		b.buckets[key] = acc
	}

	acc.delta.TotalCount++
	messageKey := utils.GetOrDefault(e.MessageKey, "")
	if messageKey != "" {
		acc.messages[messageKey] = struct{}{}
	}

	switch {
	case e.EventType.IsDelivered():
		acc.delta.Delivered++
		addKey(acc.delivered, messageKey)
		if e.DeliveryLatencySeconds != nil {
			ms := *e.DeliveryLatencySeconds * 1000
			acc.delta.LatencySumMs += ms
			acc.delta.LatencyCount++
			acc.latencies = append(acc.latencies, ms)
		}
	case e.EventType.IsBounce():
		acc.delta.Bounced++
		addKey(acc.bounced, messageKey)
	case e.EventType.IsComplaint():
		acc.delta.Complaints++
		addKey(acc.complaints, messageKey)
	case e.EventType == enum.EventTypeAcct && strings.EqualFold(e.DsnAction, deferredDsnAction):
		acc.delta.Deferred++
	}
}

func addKey(set map[string]struct{}, key string) {
	if key != "" {
		set[key] = struct{}{}
	}
}

// Skipped is the number of events left out for lacking a timestamp.
func (b *BucketBuilder) Skipped() int {
	return b.skipped
}

// Latest is the newest event timestamp seen, nil if none.
func (b *BucketBuilder) Latest() *time.Time {
	return b.latest
}

// Buckets returns the finished rollups ordered by minute then dimensions.
func (b *BucketBuilder) Buckets() []Bucket {
	out := make([]Bucket, 0, len(b.buckets))
	for key, acc := range b.buckets {
		delta := acc.delta
		delta.MessageAttempts = int64(len(acc.messages))
		delta.DeliveredMessages = int64(len(acc.delivered))
		delta.BouncedMessages = int64(len(acc.bounced))
		delta.ComplaintMessages = int64(len(acc.complaints))
		delta.P95LatencyMs = stats.PercentilePtr(acc.latencies, 0.95)
		out = append(out, Bucket{Key: key, Delta: delta})
	}

	sort.Slice(out, func(i, j int) bool {
		a, c := out[i].Key, out[j].Key
		if !a.MinuteTimestamp.Equal(c.MinuteTimestamp) {
			return a.MinuteTimestamp.Before(c.MinuteTimestamp)
		}
		if a.EventType != c.EventType {
			return a.EventType < c.EventType
		}
		if a.JobID != c.JobID {
			return a.JobID < c.JobID
		}
		if a.Sender != c.Sender {
			return a.Sender < c.Sender
		}
		if a.RecipientDomain != c.RecipientDomain {
			return a.RecipientDomain < c.RecipientDomain
		}
		return a.Vmta < c.Vmta
	})
	return out
}
