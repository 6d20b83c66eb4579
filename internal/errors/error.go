package errors

import "github.com/pkg/errors"

var (
	// ingestion errors
	ErrUnsupportedFile = errors.New("unsupported log file")
	ErrFileNotPending  = errors.New("file is not pending")

	// aggregation errors
	ErrAggregationInProgress = errors.New("file aggregation already in progress")
)
