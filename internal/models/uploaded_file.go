package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/customeros/mailpulse/internal/enum"
	"github.com/customeros/mailpulse/internal/utils"
)

// UploadedFile is one submitted PMTA log batch.
type UploadedFile struct {
	ID               string          `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	FileName         string          `gorm:"column:file_name;type:varchar(500)" json:"fileName"`
	FileSize         int64           `gorm:"column:file_size" json:"fileSize"`
	ObjectKey        string          `gorm:"column:object_key;type:varchar(1000)" json:"objectKey"`
	ContentHash      string          `gorm:"column:content_hash;type:varchar(64);uniqueIndex;not null" json:"contentHash"`
	DetectedType     enum.EventType  `gorm:"column:detected_type;type:varchar(16);not null" json:"detectedType"`
	Status           enum.FileStatus `gorm:"column:status;type:varchar(16);index;not null" json:"status"`
	RowCount         int64           `gorm:"column:row_count" json:"rowCount"`
	ErrorDetail      string          `gorm:"column:error_detail;type:text" json:"errorDetail,omitempty"`
	CompletedAt      *time.Time      `gorm:"column:completed_at" json:"completedAt,omitempty"`
	AggregatedAt     *time.Time      `gorm:"column:aggregated_at" json:"aggregatedAt,omitempty"`
	AggregatingAt    *time.Time      `gorm:"column:aggregating_at" json:"-"`
	AggregationError string          `gorm:"column:aggregation_error;type:text" json:"aggregationError,omitempty"`
	CreatedAt        time.Time       `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt        time.Time       `gorm:"column:updated_at" json:"updatedAt"`
}

func (UploadedFile) TableName() string {
	return "uploaded_files"
}

func (f *UploadedFile) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = utils.GenerateNanoIDWithPrefix("file", 16)
	}
	if f.Status == "" {
		f.Status = enum.FileStatusPending
	}
	if f.DetectedType == "" {
		f.DetectedType = enum.EventTypeUnknown
	}
	return nil
}
