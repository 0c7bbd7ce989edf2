// Package gcs archives snapshots to a Google Cloud Storage bucket.
package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/venturescope/scraperd/internal/archive"
	"github.com/venturescope/scraperd/internal/metrics"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string `mapstructure:"bucket"`
}

// Store writes snapshots to a configured GCS bucket.
type Store struct {
	client *storage.Client
	bucket string
}

// New creates a GCS-backed snapshot store. The bucket is probed at
// construction so misconfiguration fails at startup, not on the first
// scrape hours later.
func New(ctx context.Context, client *storage.Client, cfg Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		return nil, fmt.Errorf("probe bucket %q: %w", cfg.Bucket, err)
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// Save uploads the snapshot and returns its gs:// URI.
func (s *Store) Save(ctx context.Context, snap archive.Snapshot) (string, error) {
	key := archive.ObjectKey(snap)

	writer := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	writer.ContentType = "text/html; charset=utf-8"
	if _, err := io.Copy(writer, bytes.NewReader(snap.Content)); err != nil {
		closeErr := writer.Close()
		metrics.ObserveSnapshot("gcs", "error")
		if closeErr != nil {
			return "", fmt.Errorf("write object %s: %w (close writer: %v)", key, err, closeErr)
		}
		return "", fmt.Errorf("write object %s: %w", key, err)
	}
	if err := writer.Close(); err != nil {
		metrics.ObserveSnapshot("gcs", "error")
		return "", fmt.Errorf("close writer for %s: %w", key, err)
	}
	metrics.ObserveSnapshot("gcs", "ok")
	return fmt.Sprintf("gs://%s/%s", s.bucket, key), nil
}
