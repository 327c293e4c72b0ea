//go:build !gcp

package workspace

import (
	"context"

	"github.com/vectorgate/gateway/pkg/gwerr"
)

type GCSBackendConfig struct {
	Bucket string
	Prefix string
}

func NewGCSBackend(ctx context.Context, cfg GCSBackendConfig) (Backend, error) {
	return nil, gwerr.New(gwerr.Internal, "GCS workspace backend is not enabled in this build (use -tags gcp)")
}
