package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/internal/enum"
	er "github.com/customeros/mailpulse/internal/errors"
	"github.com/customeros/mailpulse/internal/models"
	"github.com/customeros/mailpulse/internal/tracing"
	"github.com/customeros/mailpulse/internal/utils"
)

type fileRepository struct {
	db *gorm.DB
}

func NewFileRepository(db *gorm.DB) interfaces.FileRepository {
	return &fileRepository{db: db}
}

func (r *fileRepository) Create(ctx context.Context, file *models.UploadedFile) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "fileRepository.Create")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	if file == nil || file.ContentHash == "" {
		return ErrInvalidInput
	}

	if err := r.db.WithContext(ctx).Create(file).Error; err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to create uploaded file: %w", err)
	}
	tracing.TagFile(span, file.ID)
	return nil
}

func (r *fileRepository) GetByID(ctx context.Context, id string) (*models.UploadedFile, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "fileRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagFile(span, id)

	var file models.UploadedFile
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&file).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFileNotFound
		}
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get uploaded file: %w", err)
	}
	return &file, nil
}

// GetByContentHash returns nil without error when no file has the hash.
func (r *fileRepository) GetByContentHash(ctx context.Context, contentHash string) (*models.UploadedFile, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "fileRepository.GetByContentHash")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var file models.UploadedFile
	err := r.db.WithContext(ctx).Where("content_hash = ?", contentHash).First(&file).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get uploaded file by hash: %w", err)
	}
	return &file, nil
}

func (r *fileRepository) MarkProcessing(ctx context.Context, id string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "fileRepository.MarkProcessing")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagFile(span, id)

	result := r.db.WithContext(ctx).Model(&models.UploadedFile{}).
		Where("id = ? AND status = ?", id, enum.FileStatusPending).
		Updates(map[string]interface{}{
			"status":     enum.FileStatusProcessing,
			"updated_at": utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to mark file processing: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return er.ErrFileNotPending
	}
	return nil
}

func (r *fileRepository) SetDetectedType(ctx context.Context, id string, detectedType enum.EventType) error {
	return r.update(ctx, "fileRepository.SetDetectedType", id, map[string]interface{}{
		"detected_type": detectedType,
	})
}

func (r *fileRepository) MarkCompleted(ctx context.Context, id string, rowCount int64) error {
	return r.finish(ctx, "fileRepository.MarkCompleted", id, map[string]interface{}{
		"status":       enum.FileStatusCompleted,
		"row_count":    rowCount,
		"completed_at": utils.Now(),
	})
}

func (r *fileRepository) MarkError(ctx context.Context, id string, detail string) error {
	return r.finish(ctx, "fileRepository.MarkError", id, map[string]interface{}{
		"status":       enum.FileStatusError,
		"error_detail": detail,
		"completed_at": utils.Now(),
	})
}

// finish moves a file to a terminal status. Completed and errored files never
// change status again.
func (r *fileRepository) finish(ctx context.Context, operation, id string, values map[string]interface{}) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, operation)
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagFile(span, id)

	values["updated_at"] = utils.Now()
	result := r.db.WithContext(ctx).Model(&models.UploadedFile{}).
		Where("id = ? AND status IN ?", id, []enum.FileStatus{enum.FileStatusPending, enum.FileStatusProcessing}).
		Updates(values)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to update uploaded file: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return er.ErrFileNotPending
	}
	return nil
}

// ClaimAggregation marks the file as being aggregated by the caller. It fails
// with ErrAggregationInProgress while another live claim exists; claims older
// than staleBefore are taken over. With onlyUnaggregated set, files that were
// already aggregated cannot be claimed either.
func (r *fileRepository) ClaimAggregation(ctx context.Context, id string, onlyUnaggregated bool, now, staleBefore time.Time) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "fileRepository.ClaimAggregation")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagFile(span, id)

	query := r.db.WithContext(ctx).Model(&models.UploadedFile{}).
		Where("id = ? AND status = ?", id, enum.FileStatusCompleted).
		Where("(aggregating_at IS NULL OR aggregating_at < ?)", staleBefore.UTC())
	if onlyUnaggregated {
		query = query.Where("aggregated_at IS NULL")
	}
	result := query.Updates(map[string]interface{}{
		"aggregating_at": now.UTC(),
		"updated_at":     utils.Now(),
	})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to claim file aggregation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		span.SetTag("claimed", false)
		return er.ErrAggregationInProgress
	}
	return nil
}

func (r *fileRepository) MarkAggregated(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, "fileRepository.MarkAggregated", id, map[string]interface{}{
		"aggregated_at":     at,
		"aggregating_at":    nil,
		"aggregation_error": "",
	})
}

func (r *fileRepository) MarkAggregationFailed(ctx context.Context, id string, detail string) error {
	return r.update(ctx, "fileRepository.MarkAggregationFailed", id, map[string]interface{}{
		"aggregated_at":     nil,
		"aggregating_at":    nil,
		"aggregation_error": detail,
	})
}

func (r *fileRepository) update(ctx context.Context, operation, id string, values map[string]interface{}) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, operation)
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagFile(span, id)

	values["updated_at"] = utils.Now()
	result := r.db.WithContext(ctx).Model(&models.UploadedFile{}).Where("id = ?", id).Updates(values)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to update uploaded file: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrFileNotFound
	}
	return nil
}

// ListUnaggregated returns files completed before completedBefore whose
// aggregation has not succeeded, oldest first.
func (r *fileRepository) ListUnaggregated(ctx context.Context, completedBefore time.Time, limit int) ([]*models.UploadedFile, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "fileRepository.ListUnaggregated")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var files []*models.UploadedFile
	err := r.db.WithContext(ctx).
		Where("status = ? AND aggregated_at IS NULL AND completed_at < ?", enum.FileStatusCompleted, completedBefore.UTC()).
		Order("completed_at ASC").
		Limit(limit).
		Find(&files).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list unaggregated files: %w", err)
	}
	return files, nil
}

func (r *fileRepository) CountByStatus(ctx context.Context) (map[enum.FileStatus]int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "fileRepository.CountByStatus")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var rows []struct {
		Status enum.FileStatus
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&models.UploadedFile{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to count files by status: %w", err)
	}

	counts := make(map[enum.FileStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// Delete removes a file with its events and aggregate rows. When it was the
// last file, every derived table is cleared as well.
func (r *fileRepository) Delete(ctx context.Context, id string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "fileRepository.Delete")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagFile(span, id)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ?", id).Delete(&models.UploadedFile{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrFileNotFound
		}
		if err := tx.Where("file_id = ?", id).Delete(&models.Event{}).Error; err != nil {
			return err
		}
		if err := tx.Where("file_id = ?", id).Delete(&models.AggregateBucket{}).Error; err != nil {
			return err
		}

		var remaining int64
		if err := tx.Model(&models.UploadedFile{}).Count(&remaining).Error; err != nil {
			return err
		}
		if remaining > 0 {
			return nil
		}
		span.SetTag("cleared", true)
		for _, model := range derivedModels() {
			if err := tx.Where("1 = 1").Delete(model).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrFileNotFound) {
			return err
		}
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to delete uploaded file: %w", err)
	}
	return nil
}

func derivedModels() []interface{} {
	return []interface{}{
		&models.Event{},
		&models.AggregateBucket{},
		&models.RiskScore{},
		&models.SenderVolume{},
		&models.Alert{},
		&models.Incident{},
		&models.AlertCooldown{},
	}
}
