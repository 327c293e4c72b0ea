package workspace

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/vectorgate/gateway/pkg/gwerr"
)

// Backend performs the actual I/O for a resolved, already-contained
// path. relPath is always root-relative, slash-separated, and never
// contains "..".
type Backend interface {
	ReadFile(ctx context.Context, relPath string) ([]byte, error)
	WriteFile(ctx context.Context, relPath string, data []byte) error
	Exists(ctx context.Context, relPath string) (bool, error)
	Stat(ctx context.Context, relPath string) (*Entry, error)
	// List returns direct (or, if recursive, all descendant) entries
	// under relPath, bounded to limit entries; the second return value
	// is true if the walk was truncated before completion (spec.md
	// §4.8's bounded recursive listing).
	List(ctx context.Context, relPath string, recursive bool, limit int) ([]Entry, bool, error)
}

// LocalBackend performs I/O directly against the local filesystem
// rooted at Root, writing atomically via temp-file + rename exactly as
// pkg/artifacts.FileStore.Store does for content-addressed blobs.
type LocalBackend struct {
	Root string
}

func NewLocalBackend(root string) *LocalBackend { return &LocalBackend{Root: root} }

func (b *LocalBackend) abs(relPath string) string {
	return filepath.Join(b.Root, filepath.FromSlash(relPath))
}

func (b *LocalBackend) ReadFile(ctx context.Context, relPath string) ([]byte, error) {
	data, err := os.ReadFile(b.abs(relPath))
	if err != nil {
		return nil, gwerr.Wrap(err, "workspace: read file")
	}
	return data, nil
}

// WriteFile writes to a sibling temp name and renames into place so a
// crash mid-write never leaves a truncated file visible at relPath.
func (b *LocalBackend) WriteFile(ctx context.Context, relPath string, data []byte) error {
	target := b.abs(relPath)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return gwerr.Wrap(err, "workspace: create parent directory")
	}
	tmp := target + ".tmp-" + filepath.Base(target)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return gwerr.Wrap(err, "workspace: write temp file")
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return gwerr.Wrap(err, "workspace: commit write")
	}
	return nil
}

func (b *LocalBackend) Exists(ctx context.Context, relPath string) (bool, error) {
	_, err := os.Stat(b.abs(relPath))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, gwerr.Wrap(err, "workspace: stat")
}

func (b *LocalBackend) Stat(ctx context.Context, relPath string) (*Entry, error) {
	info, err := os.Stat(b.abs(relPath))
	if err != nil {
		return nil, gwerr.Wrap(err, "workspace: stat")
	}
	return &Entry{Path: relPath, IsDir: info.IsDir(), Size: info.Size(), ModTime: info.ModTime()}, nil
}

func (b *LocalBackend) List(ctx context.Context, relPath string, recursive bool, limit int) ([]Entry, bool, error) {
	root := b.abs(relPath)
	var entries []Entry
	truncated := false

	if !recursive {
		dirEntries, err := os.ReadDir(root)
		if err != nil {
			return nil, false, gwerr.Wrap(err, "workspace: list directory")
		}
		sort.Slice(dirEntries, func(i, j int) bool { return dirEntries[i].Name() < dirEntries[j].Name() })
		for _, de := range dirEntries {
			if limit > 0 && len(entries) >= limit {
				truncated = true
				break
			}
			info, err := de.Info()
			if err != nil {
				continue
			}
			entries = append(entries, Entry{
				Path:    filepath.ToSlash(filepath.Join(relPath, de.Name())),
				IsDir:   de.IsDir(),
				Size:    info.Size(),
				ModTime: info.ModTime(),
			})
		}
		return entries, truncated, nil
	}

	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		if limit > 0 && len(entries) >= limit {
			truncated = true
			return filepath.SkipDir
		}
		rp, relErr := filepath.Rel(b.Root, p)
		if relErr != nil {
			return relErr
		}
		entries = append(entries, Entry{
			Path:    filepath.ToSlash(rp),
			IsDir:   info.IsDir(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, false, gwerr.Wrap(err, "workspace: walk directory")
	}
	return entries, truncated, nil
}
