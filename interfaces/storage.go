package interfaces

import (
	"context"
	"io"
)

type StorageService interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}
