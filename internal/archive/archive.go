// Package archive stores raw provider batch payloads in a GCS bucket so
// a merge can be replayed or audited after the fact. Objects are laid
// out as <prefix>/<link_id>/<timestamp>.json and never overwritten.
package archive

import (
	"context"
	"fmt"
	"path"
	"time"

	"cloud.google.com/go/storage"
)

// Store writes payloads into one bucket. It assumes Application Default
// Credentials are configured.
type Store struct {
	client *storage.Client
	bucket string
	prefix string
	now    func() time.Time
}

// New creates a Store for the bucket. prefix may be empty.
func New(ctx context.Context, bucket, prefix string) (*Store, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("archive: creating storage client: %w", err)
	}
	return &Store{client: client, bucket: bucket, prefix: prefix, now: time.Now}, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// ArchiveBatch writes one batch payload under the link's folder. The
// object name carries a UTC timestamp so successive passes never collide.
func (s *Store) ArchiveBatch(ctx context.Context, linkID string, payload []byte) error {
	name := path.Join(s.prefix, linkID, s.now().UTC().Format("2006-01-02T15-04-05.000Z")+".json")

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(payload); err != nil {
		_ = w.Close()
		return fmt.Errorf("archive: writing object %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("archive: finalizing object %s: %w", name, err)
	}
	return nil
}
