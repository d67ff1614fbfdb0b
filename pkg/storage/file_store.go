package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// FileStore implements ObjectStore on a local directory. Keys map to
// slash-separated paths below the base directory.
type FileStore struct {
	basePath string
}

// NewFileStore creates the base directory if missing.
func NewFileStore(basePath string) (*FileStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("storage base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// Root returns the base directory, for serving stored files.
func (f *FileStore) Root() string {
	return f.basePath
}

// Put writes r to the file named by key, replacing any previous content.
func (f *FileStore) Put(ctx context.Context, key string, r io.Reader, _ int64, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := f.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}
	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		_ = os.Remove(target)
		return fmt.Errorf("write file: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(target)
		return fmt.Errorf("close file: %w", err)
	}
	return nil
}

// Delete removes the file named by key. Missing files are not an error.
func (f *FileStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := f.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

func (f *FileStore) resolve(key string) (string, error) {
	clean := path.Clean("/" + strings.TrimSpace(key))
	if clean == "/" {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(f.basePath, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

// ImageKey builds the object key for a book cover upload.
func ImageKey(bookID, filename string) string {
	return path.Join("books", safeSegment(bookID, "unknown"), safeSegment(filename, "cover"))
}

func safeSegment(name, fallback string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(strings.TrimSpace(name))
	if name == "." || name == "/" || name == ".." || name == "" {
		return fallback
	}
	return name
}
