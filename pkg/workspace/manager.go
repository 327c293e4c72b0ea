package workspace

import (
	"context"
	"encoding/base64"
	"sync"

	"github.com/vectorgate/gateway/pkg/gwerr"
)

// Manager holds registered workspaces and runs every file operation
// through the containment algorithm before delegating to the
// registration's backend (spec.md §4.8).
type Manager struct {
	mu    sync.RWMutex
	regs  map[string]*Registration
	back  map[string]Backend
	limit int
}

// DefaultListLimit bounds an unbounded recursive listFiles call.
const DefaultListLimit = 1000

func NewManager() *Manager {
	return &Manager{
		regs:  make(map[string]*Registration),
		back:  make(map[string]Backend),
		limit: DefaultListLimit,
	}
}

// Register adds or replaces a workspace's metadata-only record — this
// never itself grants file access; every operation below still runs
// the containment check against reg.Root.
func (m *Manager) Register(ctx context.Context, reg Registration) error {
	backend, err := newBackend(ctx, reg.Root)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r := reg
	m.regs[reg.ID] = &r
	m.back[reg.ID] = backend
	return nil
}

func (m *Manager) Unregister(workspaceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.regs, workspaceID)
	delete(m.back, workspaceID)
}

func (m *Manager) Get(workspaceID string) (*Registration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reg, ok := m.regs[workspaceID]
	if !ok {
		return nil, gwerr.New(gwerr.InvalidArgument, "unknown workspace %q", workspaceID)
	}
	return reg, nil
}

func (m *Manager) List() []Registration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Registration, 0, len(m.regs))
	for _, r := range m.regs {
		out = append(out, *r)
	}
	return out
}

func (m *Manager) lookup(workspaceID string) (*Registration, Backend, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reg, ok := m.regs[workspaceID]
	if !ok {
		return nil, nil, gwerr.New(gwerr.InvalidArgument, "unknown workspace %q", workspaceID)
	}
	return reg, m.back[workspaceID], nil
}

// ReadFile implements spec.md §4.8's readFile operation.
func (m *Manager) ReadFile(ctx context.Context, workspaceID, requestedPath string, encoding Encoding) (string, error) {
	reg, backend, err := m.lookup(workspaceID)
	if err != nil {
		return "", err
	}
	_, rel, err := resolvePath(reg, requestedPath)
	if err != nil {
		return "", err
	}
	if err := checkGlobs(reg, rel); err != nil {
		return "", err
	}
	if err := checkExtension(reg, rel); err != nil {
		return "", err
	}

	data, err := backend.ReadFile(ctx, rel)
	if err != nil {
		return "", err
	}
	if err := checkFileSize(reg, int64(len(data))); err != nil {
		return "", err
	}
	return encodeContent(data, encoding), nil
}

// WriteFile implements spec.md §4.8's writeFile operation.
func (m *Manager) WriteFile(ctx context.Context, workspaceID, requestedPath, content string, encoding Encoding) error {
	reg, backend, err := m.lookup(workspaceID)
	if err != nil {
		return err
	}
	_, rel, err := resolvePath(reg, requestedPath)
	if err != nil {
		return err
	}
	if err := checkGlobs(reg, rel); err != nil {
		return err
	}
	if err := checkExtension(reg, rel); err != nil {
		return err
	}

	data, err := decodeContent(content, encoding)
	if err != nil {
		return err
	}
	if err := checkFileSize(reg, int64(len(data))); err != nil {
		return err
	}
	if err := checkWritable(reg); err != nil {
		return err
	}
	return backend.WriteFile(ctx, rel, data)
}

// PathExists implements spec.md §4.8's pathExists operation.
func (m *Manager) PathExists(ctx context.Context, workspaceID, requestedPath string) (bool, error) {
	reg, backend, err := m.lookup(workspaceID)
	if err != nil {
		return false, err
	}
	_, rel, err := resolvePath(reg, requestedPath)
	if err != nil {
		return false, err
	}
	return backend.Exists(ctx, rel)
}

// ListFiles implements spec.md §4.8's listFiles operation, bounding a
// recursive walk to the manager's configured limit and reporting
// truncation rather than silently dropping entries.
func (m *Manager) ListFiles(ctx context.Context, workspaceID, requestedPath string, recursive, includeDirectories bool) ([]Entry, bool, error) {
	reg, backend, err := m.lookup(workspaceID)
	if err != nil {
		return nil, false, err
	}
	_, rel, err := resolvePath(reg, requestedPath)
	if err != nil {
		return nil, false, err
	}

	entries, truncated, err := backend.List(ctx, rel, recursive, m.limit)
	if err != nil {
		return nil, false, err
	}
	if includeDirectories {
		return entries, truncated, nil
	}

	files := entries[:0]
	for _, e := range entries {
		if !e.IsDir {
			files = append(files, e)
		}
	}
	return files, truncated, nil
}

func encodeContent(data []byte, encoding Encoding) string {
	switch encoding {
	case EncodingBase64, EncodingBinary:
		return base64.StdEncoding.EncodeToString(data)
	default:
		return string(data)
	}
}

func decodeContent(content string, encoding Encoding) ([]byte, error) {
	switch encoding {
	case EncodingBase64, EncodingBinary:
		data, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return nil, gwerr.Wrap(err, "workspace: decode base64 content")
		}
		return data, nil
	default:
		return []byte(content), nil
	}
}
