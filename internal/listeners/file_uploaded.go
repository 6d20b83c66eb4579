package listeners

import (
	"context"
	"io"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailpulse/dto"
	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/internal/logger"
	"github.com/customeros/mailpulse/internal/tracing"
	"github.com/customeros/mailpulse/services/events"
	"github.com/customeros/mailpulse/services/ingestion"
)

type FileSubmitter interface {
	Submit(ctx context.Context, fileID string, open ingestion.OpenFunc)
}

type FileUploadedListener struct {
	events.BaseEventListener
	storage  interfaces.StorageService
	pipeline FileSubmitter
}

func NewFileUploadedListener(
	logger logger.Logger, storage interfaces.StorageService, pipeline FileSubmitter,
) interfaces.EventListener {
	return &FileUploadedListener{
		BaseEventListener: events.NewBaseEventListener(
			logger,
			events.GetEventType[dto.FileUploaded](),
			events.QueueFileUploaded,
		),
		storage:  storage,
		pipeline: pipeline,
	}
}

// Handle hands the upload to the pipeline and acks; ingestion outcome is
// reported through the file status and FileProcessed.
func (l *FileUploadedListener) Handle(ctx context.Context, baseEvent any) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "FileUploadedListener.Handle")
	defer span.Finish()
	tracing.TagComponentListener(span)
	tracing.LogObjectAsJson(span, "event", baseEvent)

	validatedEvent, err := l.ValidateBaseEvent(ctx, baseEvent)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	uploaded, err := events.DecodeEventData[dto.FileUploaded](ctx, validatedEvent)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if uploaded.FileID == "" || uploaded.ObjectKey == "" {
		err = errors.New("file id and object key are required")
		tracing.TraceErr(span, err)
		return err
	}
	tracing.TagFile(span, uploaded.FileID)

	if l.storage == nil {
		err = errors.New("object storage is not configured")
		tracing.TraceErr(span, err)
		return err
	}

	objectKey := uploaded.ObjectKey
	l.pipeline.Submit(ctx, uploaded.FileID, func(ctx context.Context) (io.ReadCloser, error) {
		return l.storage.Open(ctx, objectKey)
	})
	l.Logger().Infof("Queued file %s from %s for ingestion", uploaded.FileID, objectKey)
	return nil
}
