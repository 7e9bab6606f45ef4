// Package gcs archives raw capital, weather and news pages to Google Cloud
// Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Config names the archive bucket.
type Config struct {
	Bucket string
}

// BlobStore writes pages into one bucket. Object names are content hashes,
// so an object that already exists is never rewritten.
type BlobStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
}

// New wraps an existing client.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("gcs archive: storage client is required")
	}
	name := strings.TrimSpace(cfg.Bucket)
	if name == "" {
		return nil, errors.New("gcs archive: bucket name is required")
	}
	return &BlobStore{client: client, bucket: client.Bucket(name), name: name}, nil
}

// Open dials GCS with Application Default Credentials (or opts) and checks
// that the bucket is reachable before any page is fetched.
func Open(ctx context.Context, cfg Config, logger *zap.Logger, opts ...option.ClientOption) (*BlobStore, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs archive: new client: %w", err)
	}
	blobs, err := New(client, cfg)
	if err == nil {
		if _, aerr := blobs.bucket.Attrs(ctx); aerr != nil {
			err = fmt.Errorf("gcs archive: bucket %q: %w", cfg.Bucket, aerr)
		}
	}
	if err != nil {
		if cerr := client.Close(); cerr != nil && logger != nil {
			logger.Warn("close gcs client after failed bucket check", zap.Error(cerr))
		}
		return nil, err
	}
	return blobs, nil
}

// PutObject uploads r as path unless the object already exists, and returns
// its gs:// URI either way.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("gcs archive: path is required")
	}
	uri := "gs://" + s.name + "/" + path

	w := s.bucket.Object(path).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("upload %s: %w", uri, err)
	}
	if err := w.Close(); err != nil {
		if alreadyArchived(err) {
			return uri, nil
		}
		return "", fmt.Errorf("upload %s: %w", uri, err)
	}
	return uri, nil
}

func alreadyArchived(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}

// Close releases the client.
func (s *BlobStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close gcs client: %w", err)
	}
	return nil
}
