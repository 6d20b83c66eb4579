package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailpulse/internal/enum"
	er "github.com/customeros/mailpulse/internal/errors"
	"github.com/customeros/mailpulse/internal/models"
	"github.com/customeros/mailpulse/internal/testdb"
	"github.com/customeros/mailpulse/internal/utils"
)

func TestFileRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repos := InitRepositories(testdb.New(t))
	files := repos.FileRepository

	file := &models.UploadedFile{FileName: "acct.csv", ContentHash: "abc"}
	require.NoError(t, files.Create(ctx, file))
	assert.NotEmpty(t, file.ID)
	assert.Equal(t, enum.FileStatusPending, file.Status)
	assert.Equal(t, enum.EventTypeUnknown, file.DetectedType)

	byHash, err := files.GetByContentHash(ctx, "abc")
	require.NoError(t, err)
	require.NotNil(t, byHash)
	assert.Equal(t, file.ID, byHash.ID)

	missing, err := files.GetByContentHash(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, files.MarkProcessing(ctx, file.ID))
	assert.ErrorIs(t, files.MarkProcessing(ctx, file.ID), er.ErrFileNotPending)
	assert.ErrorIs(t, files.MarkProcessing(ctx, "file_missing"), ErrFileNotFound)

	require.NoError(t, files.SetDetectedType(ctx, file.ID, enum.EventTypeAcct))
	require.NoError(t, files.MarkCompleted(ctx, file.ID, 42))

	stored, err := files.GetByID(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.FileStatusCompleted, stored.Status)
	assert.Equal(t, enum.EventTypeAcct, stored.DetectedType)
	assert.Equal(t, int64(42), stored.RowCount)
	assert.NotNil(t, stored.CompletedAt)
	assert.Nil(t, stored.AggregatedAt)

	pending, err := files.ListUnaggregated(ctx, utils.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	pending, err = files.ListUnaggregated(ctx, utils.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Empty(t, pending, "recently completed files are left to the pipeline")

	require.NoError(t, files.MarkAggregated(ctx, file.ID, utils.Now()))
	pending, err = files.ListUnaggregated(ctx, utils.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, files.MarkAggregationFailed(ctx, file.ID, "boom"))
	stored, err = files.GetByID(ctx, file.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.AggregatedAt)
	assert.Equal(t, "boom", stored.AggregationError)

	_, err = files.GetByID(ctx, "file_missing")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestFileRepository_CreateRejectsDuplicateHash(t *testing.T) {
	ctx := context.Background()
	files := NewFileRepository(testdb.New(t))

	require.NoError(t, files.Create(ctx, &models.UploadedFile{FileName: "a.csv", ContentHash: "same"}))
	assert.Error(t, files.Create(ctx, &models.UploadedFile{FileName: "b.csv", ContentHash: "same"}))
	assert.ErrorIs(t, files.Create(ctx, &models.UploadedFile{FileName: "c.csv"}), ErrInvalidInput)
}

func TestFileRepository_MarkError(t *testing.T) {
	ctx := context.Background()
	files := NewFileRepository(testdb.New(t))

	file := &models.UploadedFile{FileName: "broken.csv", ContentHash: "h"}
	require.NoError(t, files.Create(ctx, file))
	require.NoError(t, files.MarkError(ctx, file.ID, "unexpected EOF"))

	stored, err := files.GetByID(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.FileStatusError, stored.Status)
	assert.Equal(t, "unexpected EOF", stored.ErrorDetail)

	counts, err := files.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[enum.FileStatusError])

	assert.ErrorIs(t, files.MarkError(ctx, file.ID, "again"), er.ErrFileNotPending)
	assert.ErrorIs(t, files.MarkCompleted(ctx, file.ID, 10), er.ErrFileNotPending)
	assert.ErrorIs(t, files.MarkError(ctx, "file_missing", "x"), ErrFileNotFound)

	stored, err = files.GetByID(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.FileStatusError, stored.Status)
	assert.Equal(t, "unexpected EOF", stored.ErrorDetail)
}

func TestFileRepository_ClaimAggregation(t *testing.T) {
	ctx := context.Background()
	files := NewFileRepository(testdb.New(t))
	now := utils.Now()
	staleBefore := now.Add(-30 * time.Minute)

	file := &models.UploadedFile{FileName: "acct.csv", ContentHash: "h"}
	require.NoError(t, files.Create(ctx, file))
	assert.ErrorIs(t, files.ClaimAggregation(ctx, file.ID, true, now, staleBefore), er.ErrAggregationInProgress,
		"pending files cannot be aggregated")

	require.NoError(t, files.MarkCompleted(ctx, file.ID, 3))
	require.NoError(t, files.ClaimAggregation(ctx, file.ID, true, now, staleBefore))
	assert.ErrorIs(t, files.ClaimAggregation(ctx, file.ID, true, now, staleBefore), er.ErrAggregationInProgress)
	assert.ErrorIs(t, files.ClaimAggregation(ctx, file.ID, false, now, staleBefore), er.ErrAggregationInProgress)

	require.NoError(t, files.MarkAggregated(ctx, file.ID, now))
	stored, err := files.GetByID(ctx, file.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.AggregatingAt)
	assert.ErrorIs(t, files.ClaimAggregation(ctx, file.ID, true, now, staleBefore), er.ErrAggregationInProgress,
		"aggregated files are not repaired")
	require.NoError(t, files.ClaimAggregation(ctx, file.ID, false, now, staleBefore))

	later := now.Add(time.Hour)
	require.NoError(t, files.ClaimAggregation(ctx, file.ID, false, later, later.Add(-30*time.Minute)),
		"stale claims are taken over")

	assert.ErrorIs(t, files.ClaimAggregation(ctx, "file_missing", false, now, staleBefore), ErrFileNotFound)
}

func TestFileRepository_DeleteCascades(t *testing.T) {
	ctx := context.Background()
	db := testdb.New(t)
	repos := InitRepositories(db)

	first := &models.UploadedFile{FileName: "a.csv", ContentHash: "a"}
	second := &models.UploadedFile{FileName: "b.csv", ContentHash: "b"}
	require.NoError(t, repos.FileRepository.Create(ctx, first))
	require.NoError(t, repos.FileRepository.Create(ctx, second))

	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for _, f := range []*models.UploadedFile{first, second} {
		_, err := repos.EventRepository.InsertBatch(ctx, []*models.Event{
			{ID: f.ID + "_1", FileID: f.ID, EventType: enum.EventTypeTran, EventTimestamp: &ts, Sender: "s@x.com"},
		})
		require.NoError(t, err)
		require.NoError(t, repos.AggregateRepository.MergeAggregate(ctx,
			models.AggregateKey{MinuteTimestamp: ts, EventType: enum.EventTypeTran, Sender: "s@x.com", FileID: f.ID},
			models.AggregateDelta{TotalCount: 1, Delivered: 1}))
	}
	require.NoError(t, repos.RiskScoreRepository.Upsert(ctx, &models.RiskScore{
		EntityType: enum.EntityTypeSender, EntityValue: "s@x.com", Score: 10, Level: enum.RiskLevelLow, CalculatedAt: ts,
	}))

	require.NoError(t, repos.FileRepository.Delete(ctx, first.ID))

	var events, buckets, scores int64
	require.NoError(t, db.Model(&models.Event{}).Count(&events).Error)
	require.NoError(t, db.Model(&models.AggregateBucket{}).Count(&buckets).Error)
	require.NoError(t, db.Model(&models.RiskScore{}).Count(&scores).Error)
	assert.Equal(t, int64(1), events)
	assert.Equal(t, int64(1), buckets)
	assert.Equal(t, int64(1), scores, "derived data survives while files remain")

	require.NoError(t, repos.FileRepository.Delete(ctx, second.ID))

	require.NoError(t, db.Model(&models.Event{}).Count(&events).Error)
	require.NoError(t, db.Model(&models.AggregateBucket{}).Count(&buckets).Error)
	require.NoError(t, db.Model(&models.RiskScore{}).Count(&scores).Error)
	assert.Zero(t, events)
	assert.Zero(t, buckets)
	assert.Zero(t, scores)

	assert.ErrorIs(t, repos.FileRepository.Delete(ctx, second.ID), ErrFileNotFound)
}
