package ingestion

import (
	"bytes"
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailpulse/dto"
	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/internal/logger"
	"github.com/customeros/mailpulse/internal/tracing"
)

type UploadPublisher interface {
	PublishFileUploaded(ctx context.Context, message dto.FileUploaded) error
}

// Uploader registers a log, stores its bytes and queues it for ingestion.
// A file is either fully queued or not registered at all, so a retry of the
// same bytes is never mistaken for a duplicate.
type Uploader struct {
	log       logger.Logger
	registrar *Registrar
	files     interfaces.FileRepository
	storage   interfaces.StorageService
	publisher UploadPublisher
}

func NewUploader(log logger.Logger, registrar *Registrar, files interfaces.FileRepository,
	storage interfaces.StorageService, publisher UploadPublisher) *Uploader {
	return &Uploader{log: log, registrar: registrar, files: files, storage: storage, publisher: publisher}
}

func ObjectKey(contentHash, name string) string {
	return fmt.Sprintf("uploads/%s/%s", contentHash, name)
}

func (u *Uploader) Upload(ctx context.Context, name string, data []byte) (*RegisterResult, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Uploader.Upload")
	defer span.Finish()
	tracing.TagComponentService(span)
	span.SetTag("file.name", name)

	hash, err := HashReader(bytes.NewReader(data))
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	objectKey := ObjectKey(hash, name)
	registered, err := u.registrar.Register(ctx, name, int64(len(data)), objectKey, hash)
	if err != nil || registered.Duplicate {
		return registered, err
	}
	fileID := registered.File.ID
	tracing.TagFile(span, fileID)

	if err := u.storage.Upload(ctx, objectKey, data, "text/csv"); err != nil {
		tracing.TraceErr(span, err)
		u.unregister(ctx, fileID)
		return nil, errors.Wrap(err, "failed to store upload")
	}

	if err := u.publisher.PublishFileUploaded(ctx, dto.FileUploaded{FileID: fileID, ObjectKey: objectKey}); err != nil {
		tracing.TraceErr(span, err)
		if delErr := u.storage.Delete(ctx, objectKey); delErr != nil {
			u.log.Warnf("Could not remove stored object %s: %v", objectKey, delErr)
		}
		u.unregister(ctx, fileID)
		return nil, errors.Wrap(err, "failed to queue upload")
	}
	return registered, nil
}

func (u *Uploader) unregister(ctx context.Context, fileID string) {
	if err := u.files.Delete(ctx, fileID); err != nil {
		u.log.Warnf("Could not remove registration for %s: %v", fileID, err)
	}
}
