package repository

import "errors"

var (
	ErrFileNotFound     = errors.New("uploaded file not found")
	ErrIncidentNotFound = errors.New("incident not found")
	ErrAlertSuppressed  = errors.New("alert suppressed by cooldown")
	ErrInvalidInput     = errors.New("invalid input parameters")
)
