package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/artouc/ego-graphica/internal/guard"
)

// BlobStore writes and reads uploaded media by slash-separated path.
type BlobStore interface {
	Write(ctx context.Context, path string, data []byte) error
	Read(ctx context.Context, path string) ([]byte, error)
}

// FSBlobStore keeps blobs under a root directory on disk.
type FSBlobStore struct {
	root  string
	guard *guard.Guard
}

func NewFSBlobStore(root string) (*FSBlobStore, error) {
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &FSBlobStore{root: root, guard: guard.New(guard.DefaultPolicy)}, nil
}

func (b *FSBlobStore) resolve(path string) (string, error) {
	if v := b.guard.CheckDangerousPath(path); v != nil {
		return "", v
	}
	return filepath.Join(b.root, filepath.FromSlash(path)), nil
}

func (b *FSBlobStore) Write(ctx context.Context, path string, data []byte) error {
	fullPath, err := b.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0750); err != nil {
		return fmt.Errorf("failed to create blob dir: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write blob: %w", err)
	}
	return nil
}

func (b *FSBlobStore) Read(ctx context.Context, path string) ([]byte, error) {
	fullPath, err := b.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fullPath) // #nosec G304
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("blob %s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}
