// Package gcssink writes exports to a Google Cloud Storage bucket.
package gcssink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/discochess/shelf/internal/sink"
)

// Compile-time check that Sink implements sink.Sink.
var _ sink.Sink = (*Sink)(nil)

// Sink is a Google Cloud Storage bucket, optionally under a prefix.
type Sink struct {
	client     *storage.Client
	bucket     *storage.BucketHandle
	bucketName string
	prefix     string
}

// Option configures a Sink.
type Option func(*Sink)

// WithPrefix sets a key prefix for all objects.
func WithPrefix(prefix string) Option {
	return func(s *Sink) {
		s.prefix = sink.NormalizePrefix(prefix)
	}
}

// New creates a GCS sink using application default credentials.
// The bucket must already exist.
func New(ctx context.Context, bucketName string, opts ...Option) (*Sink, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}

	s := &Sink{
		client:     client,
		bucket:     client.Bucket(bucketName),
		bucketName: bucketName,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Put uploads an object.
func (s *Sink) Put(ctx context.Context, name string, r io.Reader) error {
	writer := s.bucket.Object(s.key(name)).NewWriter(ctx)
	writer.ContentType = "application/x-ndjson"

	if _, err := io.Copy(writer, r); err != nil {
		writer.Close()
		return fmt.Errorf("uploading %s: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalizing %s: %w", name, err)
	}
	return nil
}

// List returns the objects under the sink prefix that start with prefix.
func (s *Sink) List(ctx context.Context, prefix string) ([]string, error) {
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: s.key(prefix)})

	var names []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing objects: %w", err)
		}
		names = append(names, attrs.Name[len(s.prefix):])
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes an object.
func (s *Sink) Delete(ctx context.Context, name string) error {
	err := s.bucket.Object(s.key(name)).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return sink.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("deleting %s: %w", name, err)
	}
	return nil
}

// Location returns the gs:// URL of name.
func (s *Sink) Location(name string) string {
	return "gs://" + s.bucketName + "/" + s.key(name)
}

// Close releases the GCS client.
func (s *Sink) Close() error {
	return s.client.Close()
}

func (s *Sink) key(name string) string {
	return s.prefix + name
}
