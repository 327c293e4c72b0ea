// Package workspace implements the C8 sandbox: a containment algorithm
// that confines every file operation to a registered root, plus the
// local/S3/GCS backends that actually perform reads and writes.
// Grounded on entrepeneur4lyf-codeforge's internal/permissions package
// (EvalSymlinks+filepath.Rel containment, deny-before-allow glob
// ordering), generalized from a generic file-permission validator into
// a directory-rooted workspace sandbox, and on pkg/artifacts' local/S3/
// GCS store split for the backend factory.
package workspace

import "time"

// Encoding is how file content crosses the wire (spec.md §4.8).
type Encoding string

const (
	EncodingUTF8   Encoding = "utf8"
	EncodingBase64 Encoding = "base64"
	EncodingBinary Encoding = "binary"
)

// Entry is one file or directory returned by listFiles.
type Entry struct {
	Path    string
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// Registration is a workspace's metadata-only record (spec.md §4.8:
// "client-workspace registration is metadata-only; it never grants
// file access" — access is still gated by the per-call containment
// check against the root on every operation).
type Registration struct {
	ID              string
	Root            string
	DisplayName     string
	ReadOnly        bool
	AllowGlobs      []string
	BlockGlobs      []string
	AllowExtensions []string
	BlockExtensions []string
	MaxFileSizeMB   int
	FollowSymlinks  bool
}
