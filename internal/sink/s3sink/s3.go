// Package s3sink writes exports to an AWS S3 bucket.
package s3sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/discochess/shelf/internal/sink"
)

// Compile-time check that Sink implements sink.Sink.
var _ sink.Sink = (*Sink)(nil)

// Sink is an AWS S3 bucket, optionally under a prefix.
type Sink struct {
	client *s3.Client
	bucket string
	prefix string
}

// options collects settings that shape the S3 client.
type options struct {
	region   string
	endpoint string
	prefix   string
}

// Option configures a Sink.
type Option func(*options)

// WithPrefix sets a key prefix for all objects.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = sink.NormalizePrefix(prefix)
	}
}

// WithRegion sets the AWS region.
func WithRegion(region string) Option {
	return func(o *options) {
		o.region = region
	}
}

// WithEndpoint sets a custom endpoint (for S3-compatible services like MinIO).
func WithEndpoint(endpoint string) Option {
	return func(o *options) {
		o.endpoint = endpoint
	}
}

// New creates an S3 sink using the default AWS credential chain.
// The bucket must already exist.
func New(ctx context.Context, bucketName string, opts ...Option) (*Sink, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var loadOpts []func(*config.LoadOptions) error
	if o.region != "" {
		loadOpts = append(loadOpts, config.WithRegion(o.region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(so *s3.Options) {
		if o.endpoint != "" {
			so.BaseEndpoint = aws.String(o.endpoint)
			so.UsePathStyle = true
		}
	})

	return &Sink{client: client, bucket: bucketName, prefix: o.prefix}, nil
}

// Put uploads an object.
func (s *Sink) Put(ctx context.Context, name string, r io.Reader) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(name)),
		Body:        r,
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", name, err)
	}
	return nil
}

// List returns the objects under the sink prefix that start with prefix.
func (s *Sink) List(ctx context.Context, prefix string) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.key(prefix)),
	})

	var names []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing objects: %w", err)
		}
		for _, obj := range page.Contents {
			names = append(names, aws.ToString(obj.Key)[len(s.prefix):])
		}
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes an object.
func (s *Sink) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return sink.ErrNotFound
		}
		return fmt.Errorf("deleting %s: %w", name, err)
	}
	return nil
}

// Location returns the s3:// URL of name.
func (s *Sink) Location(name string) string {
	return "s3://" + s.bucket + "/" + s.key(name)
}

// Close is a no-op; the S3 client holds no resources.
func (s *Sink) Close() error {
	return nil
}

func (s *Sink) key(name string) string {
	return s.prefix + name
}
