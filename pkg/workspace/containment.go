package workspace

import (
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/vectorgate/gateway/pkg/gwerr"
)

// isRemoteRoot reports whether a workspace root names an object-storage
// key space rather than a local directory — those have no symlinks and
// no filesystem to EvalSymlinks against, so containment reduces to pure
// slash-path cleaning.
func isRemoteRoot(root string) bool {
	return strings.HasPrefix(root, "s3://") || strings.HasPrefix(root, "gs://")
}

// resolvePath runs spec.md §4.8's containment algorithm steps 1-3 and
// returns the path resolved to an absolute, symlink-honored location
// strictly within root, plus that path relative to root (the form
// glob/extension rules match against). For remote (s3://, gs://) roots
// it instead performs pure slash-path containment, since there are no
// symlinks to resolve in an object-storage key space.
func resolvePath(reg *Registration, requested string) (resolved, rel string, err error) {
	if filepath.IsAbs(requested) {
		return "", "", gwerr.New(gwerr.InvalidPath, "path must be relative to the workspace root")
	}

	if isRemoteRoot(reg.Root) {
		return resolveRemotePath(reg.Root, requested)
	}

	joined := filepath.Join(reg.Root, requested)

	if !reg.FollowSymlinks {
		linked, lerr := hasSymlinkInChain(joined)
		if lerr != nil {
			return "", "", gwerr.Wrap(lerr, "workspace: symlink check")
		}
		if linked {
			return "", "", gwerr.New(gwerr.InvalidPath, "path traverses a symlink")
		}
	}

	resolvedRoot, rerr := filepath.EvalSymlinks(reg.Root)
	if rerr != nil {
		resolvedRoot = reg.Root
	}

	resolved = joined
	if r, rerr := filepath.EvalSymlinks(joined); rerr == nil {
		resolved = r
	}

	relPath, relErr := filepath.Rel(resolvedRoot, resolved)
	if relErr != nil || relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return "", "", gwerr.New(gwerr.InvalidPath, "path escapes workspace root")
	}

	return resolved, filepath.ToSlash(relPath), nil
}

// resolveRemotePath cleans requested against an object-storage key
// space, rejecting any attempt to climb above it via "..".
func resolveRemotePath(root, requested string) (resolved, rel string, err error) {
	cleaned := path.Clean("/" + requested)[1:]
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", "", gwerr.New(gwerr.InvalidPath, "path escapes workspace root")
	}
	return path.Join(root, cleaned), cleaned, nil
}

// hasSymlinkInChain reports whether any existing path component between
// the filesystem root and path is a symlink, without resolving it —
// used when followSymlinks is false (spec.md §4.8 step 2).
func hasSymlinkInChain(path string) (bool, error) {
	clean := filepath.Clean(path)
	parts := strings.Split(clean, string(filepath.Separator))

	cur := ""
	if filepath.IsAbs(clean) {
		cur = string(filepath.Separator)
	}
	for _, part := range parts {
		if part == "" {
			continue
		}
		cur = filepath.Join(cur, part)
		info, err := os.Lstat(cur)
		if err != nil {
			if os.IsNotExist(err) {
				// The remainder doesn't exist yet (e.g. a pending
				// write target); nothing further to check.
				return false, nil
			}
			return false, err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return true, nil
		}
	}
	return false, nil
}

// checkGlobs applies spec.md §4.8 step 4: allow-list first (if
// non-empty, the path must match at least one pattern), then
// block-list (any match rejects).
func checkGlobs(reg *Registration, rel string) error {
	if len(reg.AllowGlobs) > 0 && !matchesAnyGlob(reg.AllowGlobs, rel) {
		return gwerr.New(gwerr.InvalidPath, "path does not match any allowed pattern")
	}
	if matchesAnyGlob(reg.BlockGlobs, rel) {
		return gwerr.New(gwerr.InvalidPath, "path matches a blocked pattern")
	}
	return nil
}

func matchesAnyGlob(patterns []string, rel string) bool {
	for _, pat := range patterns {
		if ok, _ := filepath.Match(pat, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(pat, filepath.Base(rel)); ok {
			return true
		}
	}
	return false
}

// checkExtension applies spec.md §4.8 step 5's extension allow/block
// lists, case-insensitively, for file (non-directory) operations.
func checkExtension(reg *Registration, rel string) error {
	ext := strings.ToLower(filepath.Ext(rel))
	if len(reg.AllowExtensions) > 0 && !matchesAnyExt(reg.AllowExtensions, ext) {
		return gwerr.New(gwerr.InvalidPath, "file extension %q not allowed", ext)
	}
	if matchesAnyExt(reg.BlockExtensions, ext) {
		return gwerr.New(gwerr.InvalidPath, "file extension %q is blocked", ext)
	}
	return nil
}

func matchesAnyExt(exts []string, ext string) bool {
	for _, e := range exts {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

// checkFileSize applies spec.md §4.8 step 5's maxFileSize bound.
func checkFileSize(reg *Registration, size int64) error {
	if reg.MaxFileSizeMB <= 0 {
		return nil
	}
	limit := int64(reg.MaxFileSizeMB) * 1024 * 1024
	if size > limit {
		return gwerr.New(gwerr.InvalidPath, "file size %d exceeds maxFileSizeMB %d", size, reg.MaxFileSizeMB)
	}
	return nil
}

// checkWritable applies spec.md §4.8 step 6.
func checkWritable(reg *Registration) error {
	if reg.ReadOnly {
		return gwerr.New(gwerr.InvalidPath, "workspace %s is read-only", reg.ID)
	}
	return nil
}
