// Package archive stores durable off-path copies of files before they are
// physically deleted, addressed by category/date/filename convention.
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotArchived is returned by Delete when the path does not exist.
var ErrNotArchived = errors.New("archive object not found")

// Store is the archive interface the cleaner agent and orchestrator call.
// The filesystem implementation below is the default; an object-store
// backend satisfies the same interface.
type Store interface {
	// EnsureBucketExists creates the top-level category bucket if needed.
	EnsureBucketExists(ctx context.Context, category string) error
	// Upload writes data under path and returns the stored path.
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)
	// Delete removes a stored object. Missing objects return ErrNotArchived.
	Delete(ctx context.Context, path string) error
	// Open reads a stored object back (restore and verification flows).
	Open(ctx context.Context, path string) ([]byte, error)
}

// ObjectPath builds the canonical archive path for a file:
// {category}/{yyyy-MM}/{basename}_{fileID}_{hash8}{ext}.
// The ID and hash fragment keep two same-named files from colliding.
func ObjectPath(category string, fileID int64, filePath, fileHash string, now time.Time) string {
	ext := filepath.Ext(filePath)
	base := strings.TrimSuffix(filepath.Base(filePath), ext)
	hash8 := fileHash
	if len(hash8) > 8 {
		hash8 = hash8[:8]
	}
	return fmt.Sprintf("%s/%s/%s_%d_%s%s", category, now.Format("2006-01"), base, fileID, hash8, ext)
}

// FSStore is a filesystem-backed archive rooted at one directory.
type FSStore struct {
	root string
}

// NewFSStore creates an FSStore. The root directory is created lazily.
func NewFSStore(root string) *FSStore {
	return &FSStore{root: root}
}

// EnsureBucketExists creates the category directory under the root.
func (s *FSStore) EnsureBucketExists(ctx context.Context, category string) error {
	if err := os.MkdirAll(filepath.Join(s.root, category), 0o755); err != nil {
		return fmt.Errorf("create archive bucket %q: %w", category, err)
	}
	return nil
}

// Upload writes data to root/path. The write goes through a temp file and a
// rename so a crashed upload never leaves a half-written archive copy.
func (s *FSStore) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dst := filepath.Join(s.root, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create archive subdir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp upload: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write archive copy: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close archive copy: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("finalise archive copy: %w", err)
	}
	return path, nil
}

// Delete removes root/path. Missing files return ErrNotArchived.
func (s *FSStore) Delete(ctx context.Context, path string) error {
	err := os.Remove(filepath.Join(s.root, filepath.FromSlash(path)))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotArchived
	}
	return err
}

// Open reads root/path back.
func (s *FSStore) Open(ctx context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(path)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotArchived
	}
	return data, err
}
