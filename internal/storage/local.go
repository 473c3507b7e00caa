package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalStorage implements Storage on local disk under a root directory.
type LocalStorage struct {
	root string
}

// NewLocalStorage creates a new LocalStorage instance.
// If root is empty, a directory under os.TempDir() is used.
// The directory is created if it doesn't exist.
func NewLocalStorage(root string) (*LocalStorage, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "autocut")
	}

	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	return &LocalStorage{root: root}, nil
}

// Root returns the storage directory.
func (s *LocalStorage) Root() string {
	return s.root
}

// Save writes data to root/key through a temporary file and renames it into
// place, so a failed upload never leaves a partial object behind.
func (s *LocalStorage) Save(ctx context.Context, key string, data io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context cancelled: %w", err)
	}
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}

	dst := filepath.Join(s.root, filepath.FromSlash(k))
	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(dst), ".upload_*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	tmp := f.Name()
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("write file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("close file: %w", err)
	}

	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("move file into place: %w", err)
	}

	return dst, nil
}

// Delete removes the files stored under keys.
// It continues even if some files fail to delete,
// returning the first error encountered.
func (s *LocalStorage) Delete(ctx context.Context, keys []string) error {
	var firstErr error
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context cancelled: %w", err)
		}

		k, err := cleanKey(key)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		p := filepath.Join(s.root, filepath.FromSlash(k))
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove file %s: %w", p, err)
			}
		}
	}
	return firstErr
}
