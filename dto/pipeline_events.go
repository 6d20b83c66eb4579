package dto

import "time"

const (
	EventTypeFileUploaded  = "FileUploaded"
	EventTypeFileProcessed = "FileProcessed"
	EventTypeAlertRaised   = "AlertRaised"
)

// FileUploaded is sent by the upload collaborator once the log object is in
// storage and the UploadedFile row is registered.
type FileUploaded struct {
	FileID    string `json:"fileId"`
	ObjectKey string `json:"objectKey"`
}

type FileProcessed struct {
	FileID       string `json:"fileId"`
	Status       string `json:"status"`
	DetectedType string `json:"detectedType"`
	RowCount     int64  `json:"rowCount"`
	ErrorDetail  string `json:"errorDetail,omitempty"`
}

type AlertRaised struct {
	AlertID     string    `json:"alertId"`
	IncidentID  string    `json:"incidentId"`
	AlertType   string    `json:"alertType"`
	Severity    string    `json:"severity"`
	EntityType  string    `json:"entityType"`
	EntityValue string    `json:"entityValue"`
	Summary     string    `json:"summary"`
	WindowStart time.Time `json:"windowStart"`
	WindowEnd   time.Time `json:"windowEnd"`
}
