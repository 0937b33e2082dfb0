package session

import (
	"time"

	"livecollab/internal/models"
)

type RoomState int

const (
	StateHydrating RoomState = iota
	StateActive
)

func (s RoomState) String() string {
	switch s {
	case StateHydrating:
		return "hydrating"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// RoomSession is the live state of one room. It is owned by the
// coordinator's loop and never touched from any other goroutine.
type RoomSession struct {
	ID        string
	CreatedAt time.Time

	state        RoomState
	participants []models.Participant
	files        *FileTree
	activeFileID *string
	language     string
	chat         *ChatLog

	// events received while hydrating, replayed in order on activation
	pending []envelope
}

func NewRoomSession(id string) *RoomSession {
	return &RoomSession{
		ID:        id,
		CreatedAt: time.Now(),
		state:     StateHydrating,
		files:     NewFileTree(),
		chat:      NewChatLog(models.MaxChatHistory),
	}
}

func (r *RoomSession) State() RoomState { return r.state }

// Activate loads the durable snapshot and marks the session Active.
// An active id that does not name a file in the snapshot is cleared.
func (r *RoomSession) Activate(snap models.RoomSnapshot) {
	r.files.Load(snap.Files)
	r.language = snap.Language
	r.activeFileID = nil
	if snap.ActiveFileID != nil && r.files.IsFile(*snap.ActiveFileID) {
		id := *snap.ActiveFileID
		r.activeFileID = &id
	}
	r.state = StateActive
}

// AddParticipant adds p, or replaces the entry with the same connection id
// in place.
func (r *RoomSession) AddParticipant(p models.Participant) (added bool) {
	for i := range r.participants {
		if r.participants[i].ConnectionID == p.ConnectionID {
			r.participants[i] = p
			return false
		}
	}
	r.participants = append(r.participants, p)
	return true
}

func (r *RoomSession) RemoveParticipant(connID string) bool {
	for i := range r.participants {
		if r.participants[i].ConnectionID == connID {
			r.participants = append(r.participants[:i], r.participants[i+1:]...)
			return true
		}
	}
	return false
}

func (r *RoomSession) Participant(connID string) (models.Participant, bool) {
	for _, p := range r.participants {
		if p.ConnectionID == connID {
			return p, true
		}
	}
	return models.Participant{}, false
}

// Participants returns a copy in join order.
func (r *RoomSession) Participants() []models.Participant {
	return append([]models.Participant{}, r.participants...)
}

func (r *RoomSession) ParticipantCount() int { return len(r.participants) }

func (r *RoomSession) ActiveFileID() *string {
	if r.activeFileID == nil {
		return nil
	}
	id := *r.activeFileID
	return &id
}

func (r *RoomSession) Language() string { return r.language }

func (r *RoomSession) Files() *FileTree { return r.files }

func (r *RoomSession) Chat() *ChatLog { return r.chat }

func (r *RoomSession) detail() models.LiveRoomDetail {
	return models.LiveRoomDetail{
		RoomID:       r.ID,
		State:        r.state.String(),
		Participants: r.Participants(),
		ActiveFileID: r.ActiveFileID(),
		Language:     r.language,
		Files:        r.files.Len(),
		Messages:     r.chat.Len(),
	}
}
