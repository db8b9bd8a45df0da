// Package storage provides object storage used as the bulk export target.
package storage

import (
	"context"
	"errors"
	"path"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
	ErrListFailed     = errors.New("list failed")
	ErrInvalidPath    = errors.New("invalid object path")
)

// ObjectStorage holds exported documents. Implementations are S3 and the
// local filesystem. Objects are only ever written whole and are never
// removed by hestia.
type ObjectStorage interface {
	// PutObject writes data at objectPath, replacing any existing object.
	PutObject(ctx context.Context, objectPath string, data []byte) error

	// GetObject reads the object at objectPath.
	// Returns ErrObjectNotFound if it does not exist.
	GetObject(ctx context.Context, objectPath string) ([]byte, error)

	// ListObjects returns all object paths under the given prefix, sorted.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// ContentType returns the media type recorded for an object, chosen by its
// extension.
func ContentType(objectPath string) string {
	switch path.Ext(objectPath) {
	case ".json":
		return "application/json"
	case ".sz":
		return "application/x-snappy-framed"
	default:
		return "application/octet-stream"
	}
}
