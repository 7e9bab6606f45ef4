// Package local archives fetched pages under a directory on disk.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Config names the archive directory.
type Config struct {
	BaseDir string
}

// BlobStore writes pages below one directory. Paths are content hashes, so a
// file that already exists is left as is.
type BlobStore struct {
	root string
}

// New creates BaseDir when missing and checks that it is writable.
func New(cfg Config) (*BlobStore, error) {
	root := strings.TrimSpace(cfg.BaseDir)
	if root == "" {
		return nil, errors.New("local archive: base directory is required")
	}
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("local archive: %s is not a directory: %w", root, err)
	}
	scratch, err := os.CreateTemp(root, ".scratch-*")
	if err != nil {
		return nil, fmt.Errorf("local archive: %s is not writable: %w", root, err)
	}
	_ = scratch.Close()
	if err := os.Remove(scratch.Name()); err != nil {
		return nil, fmt.Errorf("local archive: remove scratch: %w", err)
	}
	return &BlobStore{root: root}, nil
}

// PutObject writes r to path below the base directory and returns a file://
// URI. The file appears atomically; paths escaping the directory are
// rejected.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, r io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("local archive: path is required")
	}
	target := filepath.Join(s.root, path)
	if !strings.HasPrefix(target, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("local archive: path %q escapes the archive directory", path)
	}
	uri := "file://" + target
	if _, err := os.Stat(target); err == nil {
		return uri, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("stat %s: %w", target, err)
	}

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".part-*")
	if err != nil {
		return "", fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write %s: %w", target, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("write %s: %w", target, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("rename into %s: %w", target, err)
	}
	return uri, nil
}
