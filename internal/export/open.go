package export

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/discochess/shelf/internal/sink"
	"github.com/discochess/shelf/internal/sink/disksink"
	"github.com/discochess/shelf/internal/sink/gcssink"
	"github.com/discochess/shelf/internal/sink/s3sink"
)

// Open returns the sink for dest: "gs://bucket/prefix",
// "s3://bucket/prefix", or a local directory.
func Open(ctx context.Context, dest string) (sink.Sink, error) {
	switch {
	case dest == "":
		return nil, errors.New("export: empty destination")
	case strings.HasPrefix(dest, "gs://"):
		bucket, prefix, err := parseBucketURL(dest, "gs://")
		if err != nil {
			return nil, err
		}
		return gcssink.New(ctx, bucket, gcssink.WithPrefix(prefix))
	case strings.HasPrefix(dest, "s3://"):
		bucket, prefix, err := parseBucketURL(dest, "s3://")
		if err != nil {
			return nil, err
		}
		return s3sink.New(ctx, bucket, s3sink.WithPrefix(prefix))
	default:
		return disksink.New(dest)
	}
}

// parseBucketURL splits "scheme://bucket/prefix" into bucket and prefix.
func parseBucketURL(dest, scheme string) (bucket, prefix string, err error) {
	path := strings.TrimPrefix(dest, scheme)
	bucket, prefix, _ = strings.Cut(path, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("export: invalid destination %q: missing bucket name", dest)
	}
	return bucket, prefix, nil
}
