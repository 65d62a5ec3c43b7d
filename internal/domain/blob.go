package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves archived data from object storage.
type BlobReader interface {
	// Get streams the object at the given path. Returns ErrNotFound when
	// no such object exists.
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}

// Archiver moves aged rows from the database to cold storage.
type Archiver interface {
	// ArchiveTxHistory uploads confirmed transaction records older than the
	// cutoff and deletes them from the store. Returns the rows archived.
	ArchiveTxHistory(ctx context.Context, before time.Time) (int64, error)
	// ArchiveSettledAssets uploads settled assets expired before the
	// cutoff. Asset rows are kept (they stay redeemable indefinitely); the
	// upload is a cold-storage copy of the final settle state.
	ArchiveSettledAssets(ctx context.Context, before time.Time) (int64, error)
}
