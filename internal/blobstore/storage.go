// Package blobstore keeps raw feed attachments for operator inspection.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// Common errors for archive operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
)

// ObjectStorage stores immutable byte blobs by key.
type ObjectStorage interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// FeedKey is the object key for the raw feed of messageID received at
// capturedAt: feeds/<yyyy-mm-dd>/<message id>.zip.
func FeedKey(messageID string, capturedAt time.Time) string {
	id := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(messageID)
	return path.Join("feeds", capturedAt.UTC().Format("2006-01-02"), id+".zip")
}

// Archiver writes raw feeds to an ObjectStorage, skipping keys that
// already exist.
type Archiver struct {
	store ObjectStorage
}

// NewArchiver wraps store.
func NewArchiver(store ObjectStorage) *Archiver {
	return &Archiver{store: store}
}

// Archive stores data under FeedKey and returns the key.
func (a *Archiver) Archive(ctx context.Context, messageID string, capturedAt time.Time, data []byte) (string, error) {
	key := FeedKey(messageID, capturedAt)
	exists, err := a.store.Exists(ctx, key)
	if err != nil {
		return key, fmt.Errorf("checking %s: %w", key, err)
	}
	if exists {
		return key, nil
	}
	if err := a.store.Put(ctx, key, data); err != nil {
		return key, err
	}
	return key, nil
}
