package workspace

import (
	"context"
	"strings"

	"github.com/vectorgate/gateway/pkg/gwerr"
)

// newBackend selects a Backend implementation from a workspace root's
// URL scheme: "s3://bucket/prefix", "gs://bucket/prefix", or a bare
// filesystem path. Unlike pkg/artifacts' NewStoreFromEnv (one process-
// wide store chosen by an env var), each workspace registration names
// its own root, so the backend is chosen per-registration instead.
func newBackend(ctx context.Context, root string) (Backend, error) {
	switch {
	case strings.HasPrefix(root, "s3://"):
		bucket, prefix := splitBucketPrefix(strings.TrimPrefix(root, "s3://"))
		return NewS3Backend(ctx, S3BackendConfig{Bucket: bucket, Prefix: prefix})
	case strings.HasPrefix(root, "gs://"):
		bucket, prefix := splitBucketPrefix(strings.TrimPrefix(root, "gs://"))
		return NewGCSBackend(ctx, GCSBackendConfig{Bucket: bucket, Prefix: prefix})
	case root == "":
		return nil, gwerr.New(gwerr.InvalidArgument, "workspace root must not be empty")
	default:
		return NewLocalBackend(root), nil
	}
}

func splitBucketPrefix(s string) (bucket, prefix string) {
	idx := strings.IndexByte(s, '/')
	if idx < 0 {
		return s, ""
	}
	return s[:idx], s[idx+1:]
}
