// Package memory keeps crawl results in process memory. It backs
// store.backend=memory and the tests of the stages that persist through it.
package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Blob is one archived page.
type Blob struct {
	ContentType string
	Body        []byte
}

// BlobStore archives pages in memory under content-hash paths. Like the GCS
// archive, an existing path is never overwritten.
type BlobStore struct {
	mu    sync.RWMutex
	blobs map[string]Blob
}

// NewBlobStore returns an empty archive.
func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: make(map[string]Blob)}
}

// PutObject stores the body under path unless it is already present and
// returns a memory:// URI.
func (s *BlobStore) PutObject(_ context.Context, path string, contentType string, r io.Reader) (string, error) {
	if path == "" {
		return "", errors.New("memory archive: path is required")
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read object %s: %w", path, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.blobs[path]; !exists {
		s.blobs[path] = Blob{ContentType: contentType, Body: body}
	}
	return "memory://" + path, nil
}

// Object returns a copy of the blob stored at path.
func (s *BlobStore) Object(path string) (Blob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[path]
	if !ok {
		return Blob{}, false
	}
	b.Body = bytes.Clone(b.Body)
	return b, true
}

// Len returns the number of stored objects.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
