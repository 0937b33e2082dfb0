package session

import (
	"sort"
	"sync"

	"livecollab/internal/metrics"
)

// Store holds every live room session of the process. Sessions are created
// lazily on first join and removed when their last participant leaves.
type Store struct {
	mu    sync.RWMutex
	rooms map[string]*RoomSession
}

func NewStore() *Store { return &Store{rooms: make(map[string]*RoomSession)} }

// GetOrCreate returns the live session for id, constructing an empty one in
// the Hydrating state when none exists. It never reads storage.
func (s *Store) GetOrCreate(id string) (*RoomSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[id]; ok {
		return r, false
	}
	r := NewRoomSession(id)
	s.rooms[id] = r
	metrics.RoomsActive.Inc()
	return r, true
}

func (s *Store) Get(id string) (*RoomSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	return r, ok
}

// Remove evicts a session. No-op if absent.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[id]; !ok {
		return
	}
	delete(s.rooms, id)
	metrics.RoomsActive.Dec()
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

// IDs returns the live room ids in sorted order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
