package domain

import (
	"context"
	"io"
	"time"
)

// ObjectInfo is the metadata of one stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// BlobReader fetches objects such as the daily signal file.
type BlobReader interface {
	// Get returns the object body; the caller closes it. A missing object
	// yields an error wrapping ErrNotFound.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Stat returns the object's metadata, ErrNotFound when absent.
	Stat(ctx context.Context, key string) (ObjectInfo, error)
}

// BlobWriter stores objects.
type BlobWriter interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
}
