package ingestion

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailpulse/interfaces"
	er "github.com/customeros/mailpulse/internal/errors"
	"github.com/customeros/mailpulse/internal/logger"
	"github.com/customeros/mailpulse/internal/models"
	"github.com/customeros/mailpulse/internal/tracing"
)

// RegisterResult reports either a newly registered file or the existing file
// that already carries the same content. A duplicate is not an error.
type RegisterResult struct {
	File       *models.UploadedFile
	Duplicate  bool
	ExistingID string
}

type Registrar struct {
	log   logger.Logger
	files interfaces.FileRepository
}

func NewRegistrar(log logger.Logger, files interfaces.FileRepository) *Registrar {
	return &Registrar{log: log, files: files}
}

func (r *Registrar) Register(ctx context.Context, name string, size int64, objectKey, contentHash string) (*RegisterResult, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Registrar.Register")
	defer span.Finish()
	tracing.TagComponentService(span)
	span.SetTag("file.name", name)

	if contentHash == "" {
		return nil, errors.Wrap(er.ErrUnsupportedFile, "missing content hash")
	}

	if existing, err := r.duplicateOf(ctx, contentHash); err != nil || existing != nil {
		return existing, err
	}

	file := &models.UploadedFile{
		FileName:    name,
		FileSize:    size,
		ObjectKey:   objectKey,
		ContentHash: contentHash,
	}
	if err := r.files.Create(ctx, file); err != nil {
		// a concurrent upload of the same bytes wins the unique hash
		if existing, lookupErr := r.duplicateOf(ctx, contentHash); lookupErr == nil && existing != nil {
			return existing, nil
		}
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to register upload")
	}

	tracing.TagFile(span, file.ID)
	r.log.Infof("Upload %s registered as file %s (%d bytes)", name, file.ID, size)
	return &RegisterResult{File: file}, nil
}

func (r *Registrar) duplicateOf(ctx context.Context, contentHash string) (*RegisterResult, error) {
	existing, err := r.files.GetByContentHash(ctx, contentHash)
	if err != nil {
		return nil, errors.Wrap(err, "failed to check for duplicate upload")
	}
	if existing == nil {
		return nil, nil
	}
	r.log.Infof("Duplicate upload of file %s skipped", existing.ID)
	return &RegisterResult{File: existing, Duplicate: true, ExistingID: existing.ID}, nil
}

// HashReader returns the hex MD5 of everything read from src.
func HashReader(src io.Reader) (string, error) {
	h := md5.New()
	if _, err := io.Copy(h, src); err != nil {
		return "", errors.Wrap(err, "failed to hash upload")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
