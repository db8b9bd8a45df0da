// Package export writes stored records out as one JSON document per record
// and reads such dumps back in.
package export

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/golang/snappy"

	herrors "github.com/pegacorn/hestia/internal/errors"
	"github.com/pegacorn/hestia/internal/storage"
)

// DefaultPrefix is the object prefix dumps are written under.
const DefaultPrefix = "data/pegacorn/sample-dataset"

const (
	jsonExt   = ".json"
	snappyExt = ".sz"
)

// Sink persists one JSON document per name.
type Sink interface {
	Write(ctx context.Context, name string, body []byte) error
}

// SinkOptions configures an ObjectSink.
type SinkOptions struct {
	// Prefix is prepended to every object path. Defaults to DefaultPrefix.
	Prefix string

	// Compress stores documents snappy-compressed with a ".json.sz" suffix.
	Compress bool
}

// ObjectSink writes documents to object storage at <prefix>/<name>.json.
type ObjectSink struct {
	storage  storage.ObjectStorage
	prefix   string
	compress bool
}

// NewObjectSink creates a sink over the given storage.
func NewObjectSink(st storage.ObjectStorage, opts SinkOptions) *ObjectSink {
	prefix := strings.Trim(opts.Prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &ObjectSink{storage: st, prefix: prefix, compress: opts.Compress}
}

// Prefix returns the object prefix.
func (s *ObjectSink) Prefix() string { return s.prefix }

// ObjectPath returns the object path a name is written to.
func (s *ObjectSink) ObjectPath(name string) string {
	p := path.Join(s.prefix, name) + jsonExt
	if s.compress {
		p += snappyExt
	}
	return p
}

// Write stores one document.
func (s *ObjectSink) Write(ctx context.Context, name string, body []byte) error {
	data := body
	if s.compress {
		data = snappy.Encode(nil, body)
	}
	objectPath := s.ObjectPath(name)
	if err := s.storage.PutObject(ctx, objectPath, data); err != nil {
		return herrors.NewExportError(fmt.Sprintf("write %s", objectPath), err)
	}
	return nil
}

// DecodeObject returns the JSON document held in an exported object,
// decompressing it if its path carries the snappy suffix.
func DecodeObject(objectPath string, data []byte) ([]byte, error) {
	if !strings.HasSuffix(objectPath, snappyExt) {
		return data, nil
	}
	body, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", objectPath, err)
	}
	return body, nil
}

// IsDocument reports whether an object path names an exported document.
func IsDocument(objectPath string) bool {
	return strings.HasSuffix(objectPath, jsonExt) || strings.HasSuffix(objectPath, jsonExt+snappyExt)
}
