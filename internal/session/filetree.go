package session

import (
	"errors"

	"livecollab/internal/models"
)

var (
	ErrFileNotFound  = errors.New("file not found")
	ErrFileExists    = errors.New("file already exists")
	ErrInvalidParent = errors.New("parent must be an existing folder")
	ErrInvalidKind   = errors.New("invalid file type")
	ErrNotAFile      = errors.New("not a file")
	ErrMissingFileID = errors.New("file id required")
)

// FileTree is a room's forest of files and folders. Nodes refer to their
// parent by id; children holds the reverse relation so folder removal can
// walk descendants without scanning.
type FileTree struct {
	nodes    map[string]*models.FileNode
	order    []string
	children map[string][]string
}

func NewFileTree() *FileTree {
	return &FileTree{
		nodes:    make(map[string]*models.FileNode),
		children: make(map[string][]string),
	}
}

// Load replaces the tree with files as read from storage. Duplicate ids keep
// the first occurrence. Parent links are indexed as stored, even when the
// parent is missing.
func (t *FileTree) Load(files []models.FileNode) {
	t.nodes = make(map[string]*models.FileNode, len(files))
	t.order = t.order[:0]
	t.children = make(map[string][]string)
	for _, f := range files {
		if f.ID == "" {
			continue
		}
		if _, dup := t.nodes[f.ID]; dup {
			continue
		}
		t.insert(f.Clone())
	}
}

func (t *FileTree) insert(n models.FileNode) {
	t.nodes[n.ID] = &n
	t.order = append(t.order, n.ID)
	if n.ParentID != nil {
		t.children[*n.ParentID] = append(t.children[*n.ParentID], n.ID)
	}
}

// Add appends a node. Only folders may be parents.
func (t *FileTree) Add(n models.FileNode) error {
	if n.ID == "" {
		return ErrMissingFileID
	}
	if !n.Kind.Valid() {
		return ErrInvalidKind
	}
	if _, ok := t.nodes[n.ID]; ok {
		return ErrFileExists
	}
	if n.ParentID != nil {
		parent, ok := t.nodes[*n.ParentID]
		if !ok || parent.Kind != models.KindFolder {
			return ErrInvalidParent
		}
	}
	t.insert(n.Clone())
	return nil
}

func (t *FileTree) Get(id string) (models.FileNode, bool) {
	n, ok := t.nodes[id]
	if !ok {
		return models.FileNode{}, false
	}
	return n.Clone(), true
}

func (t *FileTree) Has(id string) bool {
	_, ok := t.nodes[id]
	return ok
}

// IsFile reports whether id exists and is of kind file.
func (t *FileTree) IsFile(id string) bool {
	n, ok := t.nodes[id]
	return ok && n.Kind == models.KindFile
}

func (t *FileTree) SetContent(id, content string) error {
	n, ok := t.nodes[id]
	if !ok {
		return ErrFileNotFound
	}
	if n.Kind != models.KindFile {
		return ErrNotAFile
	}
	n.Content = content
	return nil
}

func (t *FileTree) SetLanguage(id, language string) error {
	n, ok := t.nodes[id]
	if !ok {
		return ErrFileNotFound
	}
	n.Language = language
	return nil
}

// Remove deletes id and everything below it. The returned ids list
// descendants before their ancestors, id itself last.
func (t *FileTree) Remove(id string) ([]string, error) {
	if _, ok := t.nodes[id]; !ok {
		return nil, ErrFileNotFound
	}

	var removed []string
	visited := make(map[string]bool)
	var walk func(string)
	walk = func(cur string) {
		if visited[cur] {
			return
		}
		visited[cur] = true
		for _, child := range t.children[cur] {
			walk(child)
		}
		removed = append(removed, cur)
	}
	walk(id)

	gone := make(map[string]bool, len(removed))
	for _, rid := range removed {
		gone[rid] = true
		n := t.nodes[rid]
		if n != nil && n.ParentID != nil && !gone[*n.ParentID] {
			t.unlinkChild(*n.ParentID, rid)
		}
		delete(t.nodes, rid)
		delete(t.children, rid)
	}

	kept := t.order[:0]
	for _, oid := range t.order {
		if !gone[oid] {
			kept = append(kept, oid)
		}
	}
	t.order = kept
	return removed, nil
}

func (t *FileTree) unlinkChild(parentID, childID string) {
	siblings := t.children[parentID]
	for i, s := range siblings {
		if s == childID {
			siblings = append(siblings[:i], siblings[i+1:]...)
			break
		}
	}
	if len(siblings) == 0 {
		delete(t.children, parentID)
		return
	}
	t.children[parentID] = siblings
}

// FirstFile returns the first remaining node of kind file, in creation order.
func (t *FileTree) FirstFile() *string {
	for _, id := range t.order {
		if t.nodes[id].Kind == models.KindFile {
			v := id
			return &v
		}
	}
	return nil
}

// List returns copies of all nodes in creation order.
func (t *FileTree) List() []models.FileNode {
	out := make([]models.FileNode, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.nodes[id].Clone())
	}
	return out
}

func (t *FileTree) Len() int { return len(t.order) }
