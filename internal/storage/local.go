package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
)

// tempPrefix marks files still being written. They are never listed.
const tempPrefix = ".put-"

// LocalStorage implements ObjectStorage on a directory tree. Object paths
// are slash-separated and relative to the root.
type LocalStorage struct {
	root string
}

// NewLocalStorage creates the root directory if needed.
func NewLocalStorage(root string) (*LocalStorage, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create export directory %s: %w", root, err)
	}
	return &LocalStorage{root: root}, nil
}

// Root returns the directory objects are stored under.
func (l *LocalStorage) Root() string { return l.root }

// PutObject writes the object through a temporary file in the destination
// directory and renames it into place, so readers see either the old or the
// new document.
func (l *LocalStorage) PutObject(ctx context.Context, objectPath string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dest, err := l.resolve(objectPath)
	if err != nil {
		return err
	}
	if err := writeAtomic(dest, data); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUploadFailed, objectPath, err)
	}
	return nil
}

func writeAtomic(dest string, data []byte) (err error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

// GetObject reads an object.
func (l *LocalStorage) GetObject(ctx context.Context, objectPath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, err := l.resolve(objectPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(src)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, ErrObjectNotFound
	case err != nil:
		return nil, fmt.Errorf("%w: %s: %v", ErrDownloadFailed, objectPath, err)
	}
	return data, nil
}

// ListObjects returns the paths of all files under prefix. A prefix that
// names no directory lists nothing.
func (l *LocalStorage) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := l.resolve(prefix)
	if err != nil {
		return nil, err
	}

	var keys []string
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrListFailed, prefix, err)
	}
	slices.Sort(keys)
	return keys, nil
}

// resolve maps an object path into the root. Parent segments are rejected.
func (l *LocalStorage) resolve(objectPath string) (string, error) {
	if slices.Contains(strings.Split(objectPath, "/"), "..") {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, objectPath)
	}
	return filepath.Join(l.root, filepath.FromSlash(path.Clean("/"+objectPath))), nil
}
