package persistence

import (
	"context"
	"sync"

	"livecollab/internal/models"
)

type memoryRoom struct {
	files    []models.FileNode
	active   *string
	language string
}

// Memory keeps rooms in process. Used as the default backend and in tests.
type Memory struct {
	mu    sync.Mutex
	rooms map[string]*memoryRoom
}

func NewMemory() *Memory {
	return &Memory{rooms: make(map[string]*memoryRoom)}
}

// Seed replaces the stored state of a room.
func (m *Memory) Seed(roomID string, snap models.RoomSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := &memoryRoom{language: snap.Language, active: copyID(snap.ActiveFileID)}
	for _, f := range snap.Files {
		r.files = append(r.files, f.Clone())
	}
	m.rooms[roomID] = r
}

func (m *Memory) room(roomID string) *memoryRoom {
	r, ok := m.rooms[roomID]
	if !ok {
		r = &memoryRoom{}
		m.rooms[roomID] = r
	}
	return r
}

func (m *Memory) indexOf(r *memoryRoom, fileID string) int {
	for i := range r.files {
		if r.files[i].ID == fileID {
			return i
		}
	}
	return -1
}

func (m *Memory) ReadRoom(_ context.Context, roomID string) (models.RoomSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return models.RoomSnapshot{}, nil
	}
	snap := models.RoomSnapshot{Language: r.language, ActiveFileID: copyID(r.active)}
	for _, f := range r.files {
		snap.Files = append(snap.Files, f.Clone())
	}
	return snap, nil
}

func (m *Memory) WriteFileContent(_ context.Context, roomID, fileID, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.room(roomID)
	if i := m.indexOf(r, fileID); i >= 0 {
		r.files[i].Content = content
	}
	return nil
}

func (m *Memory) WriteActiveFile(_ context.Context, roomID string, fileID *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.room(roomID).active = copyID(fileID)
	return nil
}

func (m *Memory) WriteLanguage(_ context.Context, roomID, language string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.room(roomID).language = language
	return nil
}

func (m *Memory) WriteFileLanguage(_ context.Context, roomID, fileID, language string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.room(roomID)
	if i := m.indexOf(r, fileID); i >= 0 {
		r.files[i].Language = language
	}
	return nil
}

func (m *Memory) AppendFile(_ context.Context, roomID string, node models.FileNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.room(roomID)
	if m.indexOf(r, node.ID) >= 0 {
		return nil
	}
	r.files = append(r.files, node.Clone())
	return nil
}

func (m *Memory) RemoveFile(_ context.Context, roomID, fileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.room(roomID)
	if i := m.indexOf(r, fileID); i >= 0 {
		r.files = append(r.files[:i], r.files[i+1:]...)
	}
	return nil
}

func (m *Memory) Close(context.Context) error { return nil }

func copyID(id *string) *string {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
