// Package gcs provides a roaming client state store backed by Google Cloud
// Storage: one small object per key.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the parameters required to place state objects.
type Config struct {
	Bucket  string
	Prefix  string
	Profile string
}

// Store writes client state objects to a configured GCS bucket.
type Store struct {
	client *storage.Client
	bucket string
	root   string
}

// New creates a GCS-backed store.
func New(client *storage.Client, cfg Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	profile := strings.Trim(cfg.Profile, "/")
	if profile == "" {
		profile = "default"
	}
	return &Store{
		client: client,
		bucket: cfg.Bucket,
		root:   path.Join(strings.Trim(cfg.Prefix, "/"), profile),
	}, nil
}

// ObjectName returns the object path used for key.
func (s *Store) ObjectName(key string) string {
	return path.Join(s.root, key)
}

// Get downloads the object for key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if strings.TrimSpace(key) == "" {
		return "", false, fmt.Errorf("key is required")
	}
	reader, err := s.client.Bucket(s.bucket).Object(s.ObjectName(key)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("open %s: %w", key, err)
	}
	defer reader.Close() //nolint:errcheck // read-only handle
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", key, err)
	}
	return string(data), true, nil
}

// Set uploads value as the object for key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("key is required")
	}
	writer := s.client.Bucket(s.bucket).Object(s.ObjectName(key)).NewWriter(ctx)
	writer.ContentType = "text/plain; charset=utf-8"
	if _, err := io.WriteString(writer, value); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("write %s: %w (close writer: %v)", key, err, closeErr)
		}
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// Delete removes the object for key; missing objects are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("key is required")
	}
	err := s.client.Bucket(s.bucket).Object(s.ObjectName(key)).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
