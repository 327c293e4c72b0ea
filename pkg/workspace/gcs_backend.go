//go:build gcp

package workspace

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/vectorgate/gateway/pkg/gwerr"
)

// GCSBackend performs I/O against a GCS bucket, keyed by the relative
// path directly (unlike pkg/artifacts.GCSStore, which is content-
// addressed).
type GCSBackend struct {
	client *storage.Client
	bucket string
	prefix string
}

type GCSBackendConfig struct {
	Bucket string
	Prefix string
}

func NewGCSBackend(ctx context.Context, cfg GCSBackendConfig) (*GCSBackend, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, gwerr.Wrap(err, "workspace: create gcs client")
	}
	return &GCSBackend{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (b *GCSBackend) object(relPath string) *storage.ObjectHandle {
	return b.client.Bucket(b.bucket).Object(path.Join(b.prefix, relPath))
}

func (b *GCSBackend) ReadFile(ctx context.Context, relPath string) ([]byte, error) {
	r, err := b.object(relPath).NewReader(ctx)
	if err != nil {
		return nil, gwerr.Wrap(err, "workspace: gcs read")
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

func (b *GCSBackend) WriteFile(ctx context.Context, relPath string, data []byte) error {
	w := b.object(relPath).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return gwerr.Wrap(err, "workspace: gcs write")
	}
	if err := w.Close(); err != nil {
		return gwerr.Wrap(err, "workspace: gcs close")
	}
	return nil
}

func (b *GCSBackend) Exists(ctx context.Context, relPath string) (bool, error) {
	_, err := b.object(relPath).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, gwerr.Wrap(err, "workspace: gcs attrs")
	}
	return true, nil
}

func (b *GCSBackend) Stat(ctx context.Context, relPath string) (*Entry, error) {
	attrs, err := b.object(relPath).Attrs(ctx)
	if err != nil {
		return nil, gwerr.Wrap(err, "workspace: gcs attrs")
	}
	return &Entry{Path: relPath, Size: attrs.Size, ModTime: attrs.Updated}, nil
}

func (b *GCSBackend) List(ctx context.Context, relPath string, recursive bool, limit int) ([]Entry, bool, error) {
	prefix := path.Join(b.prefix, relPath)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	q := &storage.Query{Prefix: prefix}
	if !recursive {
		q.Delimiter = "/"
	}
	it := b.client.Bucket(b.bucket).Objects(ctx, q)

	var entries []Entry
	truncated := false
	for {
		if limit > 0 && len(entries) >= limit {
			truncated = true
			break
		}
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, false, gwerr.Wrap(err, "workspace: gcs list")
		}
		if attrs.Prefix != "" {
			entries = append(entries, Entry{Path: strings.TrimPrefix(strings.TrimSuffix(attrs.Prefix, "/"), b.prefix+"/"), IsDir: true})
			continue
		}
		entries = append(entries, Entry{Path: strings.TrimPrefix(attrs.Name, b.prefix+"/"), Size: attrs.Size, ModTime: attrs.Updated})
	}
	return entries, truncated, nil
}

func (b *GCSBackend) Close() error { return b.client.Close() }
