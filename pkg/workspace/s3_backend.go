package workspace

import (
	"bytes"
	"context"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/vectorgate/gateway/pkg/gwerr"
)

// S3Backend performs I/O against an S3 bucket, keyed by the relative
// path directly (unlike pkg/artifacts.S3Store, which is content-
// addressed — a workspace root needs path-addressed storage instead).
type S3Backend struct {
	client *s3.Client
	bucket string
	prefix string
}

type S3BackendConfig struct {
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
}

func NewS3Backend(ctx context.Context, cfg S3BackendConfig) (*S3Backend, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, gwerr.Wrap(err, "workspace: load aws config")
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Backend{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (b *S3Backend) key(relPath string) string {
	return path.Join(b.prefix, relPath)
}

func (b *S3Backend) ReadFile(ctx context.Context, relPath string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(b.key(relPath))})
	if err != nil {
		return nil, gwerr.Wrap(err, "workspace: s3 get")
	}
	defer func() { _ = out.Body.Close() }()
	return io.ReadAll(out.Body)
}

func (b *S3Backend) WriteFile(ctx context.Context, relPath string, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(b.key(relPath)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return gwerr.Wrap(err, "workspace: s3 put")
	}
	return nil
}

func (b *S3Backend) Exists(ctx context.Context, relPath string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(b.key(relPath))})
	if err != nil {
		return false, nil
	}
	return true, nil
}

func (b *S3Backend) Stat(ctx context.Context, relPath string) (*Entry, error) {
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(b.key(relPath))})
	if err != nil {
		return nil, gwerr.Wrap(err, "workspace: s3 head")
	}
	size := int64(0)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	e := &Entry{Path: relPath, Size: size}
	if out.LastModified != nil {
		e.ModTime = *out.LastModified
	}
	return e, nil
}

func (b *S3Backend) List(ctx context.Context, relPath string, recursive bool, limit int) ([]Entry, bool, error) {
	prefix := b.key(relPath)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	delimiter := "/"
	if recursive {
		delimiter = ""
	}

	var entries []Entry
	truncated := false
	var token *string
	for {
		out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.bucket),
			Prefix:            aws.String(prefix),
			Delimiter:         aws.String(delimiter),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, false, gwerr.Wrap(err, "workspace: s3 list")
		}
		for _, cp := range out.CommonPrefixes {
			if limit > 0 && len(entries) >= limit {
				truncated = true
				break
			}
			entries = append(entries, Entry{Path: strings.TrimPrefix(strings.TrimSuffix(aws.ToString(cp.Prefix), "/"), b.prefix+"/"), IsDir: true})
		}
		for _, obj := range out.Contents {
			if limit > 0 && len(entries) >= limit {
				truncated = true
				break
			}
			e := Entry{Path: strings.TrimPrefix(aws.ToString(obj.Key), b.prefix+"/"), Size: aws.ToInt64(obj.Size)}
			if obj.LastModified != nil {
				e.ModTime = *obj.LastModified
			}
			entries = append(entries, e)
		}
		if truncated || out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		token = out.NextContinuationToken
	}
	return entries, truncated, nil
}
