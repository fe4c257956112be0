package persistence

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

type memNode struct {
	content    string
	isDir      bool
	modifiedAt time.Time
}

// MemoryStore keeps projects and files in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	projects map[string]Project // keyed by room id
	files    map[string]map[string]*memNode
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects: make(map[string]Project),
		files:    make(map[string]map[string]*memNode),
	}
}

// AddProject links a project to its room and creates an empty tree for it.
func (m *MemoryStore) AddProject(p Project) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	m.projects[p.RoomID] = p
	if _, ok := m.files[p.ID]; !ok {
		m.files[p.ID] = make(map[string]*memNode)
	}
}

func (m *MemoryStore) FindProjectByRoom(_ context.Context, roomID string) (Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[roomID]
	if !ok {
		return Project{}, ErrNotFound
	}
	return p, nil
}

func (m *MemoryStore) ReadFile(_ context.Context, projectID, filePath string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.files[projectID][filePath]
	if !ok || n.isDir {
		return "", ErrNotFound
	}
	return n.content, nil
}

func (m *MemoryStore) WriteFile(_ context.Context, projectID, filePath, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tree, err := m.treeLocked(projectID)
	if err != nil {
		return err
	}
	tree[filePath] = &memNode{content: content, modifiedAt: time.Now()}
	m.mkdirAllLocked(tree, parentOf(filePath))
	return nil
}

func (m *MemoryStore) ListDirectory(_ context.Context, projectID, dir string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tree, err := m.treeLocked(projectID)
	if err != nil {
		return nil, err
	}
	if dir != "" {
		if n, ok := tree[dir]; !ok || !n.isDir {
			return nil, ErrNotFound
		}
	}
	var out []Entry
	for p, n := range tree {
		if parentOf(p) != dir {
			continue
		}
		out = append(out, Entry{
			Name:       path.Base(p),
			Path:       p,
			IsDir:      n.isDir,
			Size:       int64(len(n.content)),
			ModifiedAt: n.modifiedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDir != out[j].IsDir {
			return out[i].IsDir
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (m *MemoryStore) CreateDirectory(_ context.Context, projectID, dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tree, err := m.treeLocked(projectID)
	if err != nil {
		return err
	}
	m.mkdirAllLocked(tree, dir)
	return nil
}

func (m *MemoryStore) DeleteFile(_ context.Context, projectID, filePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tree, err := m.treeLocked(projectID)
	if err != nil {
		return err
	}
	if n, ok := tree[filePath]; !ok || n.isDir {
		return ErrNotFound
	}
	delete(tree, filePath)
	return nil
}

func (m *MemoryStore) DeleteDirectory(_ context.Context, projectID, dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tree, err := m.treeLocked(projectID)
	if err != nil {
		return err
	}
	if n, ok := tree[dir]; !ok || !n.isDir {
		return ErrNotFound
	}
	prefix := dir + "/"
	for p := range tree {
		if p == dir || strings.HasPrefix(p, prefix) {
			delete(tree, p)
		}
	}
	return nil
}

func (m *MemoryStore) treeLocked(projectID string) (map[string]*memNode, error) {
	tree, ok := m.files[projectID]
	if !ok {
		return nil, ErrNotFound
	}
	return tree, nil
}

func (m *MemoryStore) mkdirAllLocked(tree map[string]*memNode, dir string) {
	for ; dir != ""; dir = parentOf(dir) {
		if _, ok := tree[dir]; ok {
			return
		}
		tree[dir] = &memNode{isDir: true, modifiedAt: time.Now()}
	}
}
