// Package storage provides persistence for uploaded job videos.
// It defines the Storage interface (port) and implementations for local disk
// and S3-compatible object stores.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

// ErrInvalidKey is returned for empty keys or keys escaping the storage root.
var ErrInvalidKey = errors.New("invalid storage key")

// Storage stores opaque blobs under slash-separated keys.
type Storage interface {
	// Save writes data under key and returns the location to record on the job.
	Save(ctx context.Context, key string, data io.Reader) (location string, err error)

	// Delete removes the objects stored under keys.
	// Missing objects are not an error.
	Delete(ctx context.Context, keys []string) error
}

// VideoKey returns the key of a job's source video.
func VideoKey(userID, jobID string) string {
	return path.Join("videos", userID, jobID, "source")
}

// cleanKey normalizes key and rejects keys that are empty or climb out of the root.
func cleanKey(key string) (string, error) {
	k := path.Clean("/" + strings.TrimSpace(key))
	k = strings.TrimPrefix(k, "/")
	if k == "" || k == "." || strings.Contains(key, "..") {
		return "", ErrInvalidKey
	}
	return k, nil
}
