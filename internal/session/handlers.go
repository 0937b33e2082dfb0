package session

import (
	"encoding/json"
	"strings"

	"livecollab/internal/metrics"
	"livecollab/internal/models"
)

func (c *Coordinator) handle(room *RoomSession, env envelope) string {
	switch env.event {
	case models.EventJoinRoom:
		var p models.JoinRoom
		if !decode(env.data, &p) {
			return metrics.OutcomeDropped
		}
		return c.join(room, env.connID, p)
	case models.EventCodeChange:
		var p models.CodeChange
		if !decode(env.data, &p) {
			return metrics.OutcomeDropped
		}
		return c.edit(room, env.connID, p)
	case models.EventFileCreate:
		var p models.FileCreate
		if !decode(env.data, &p) {
			return metrics.OutcomeDropped
		}
		return c.fileCreate(room, env.connID, p)
	case models.EventFileDelete:
		var p models.FileDelete
		if !decode(env.data, &p) {
			return metrics.OutcomeDropped
		}
		return c.fileDelete(room, env.connID, p)
	case models.EventFileSwitch:
		var p models.FileSwitch
		if !decode(env.data, &p) {
			return metrics.OutcomeDropped
		}
		return c.fileSwitch(room, env.connID, p)
	case models.EventLanguageChange:
		var p models.LanguageChange
		if !decode(env.data, &p) {
			return metrics.OutcomeDropped
		}
		return c.languageChange(room, env.connID, p)
	case models.EventCursorMove:
		var p models.CursorMove
		if !decode(env.data, &p) {
			return metrics.OutcomeDropped
		}
		return c.cursorMove(room, env.connID, p)
	case models.EventSendMessage:
		var p models.SendMessage
		if !decode(env.data, &p) {
			return metrics.OutcomeDropped
		}
		return c.sendMessage(room, env.connID, p)
	default:
		return metrics.OutcomeDropped
	}
}

func decode(raw json.RawMessage, out interface{}) bool {
	return json.Unmarshal(raw, out) == nil
}

func (c *Coordinator) member(room *RoomSession, connID string) bool {
	_, ok := room.Participant(connID)
	return ok
}

func (c *Coordinator) join(room *RoomSession, connID string, p models.JoinRoom) string {
	if _, ok := c.registry.Client(connID); !ok {
		// connection closed before its join was applied
		return metrics.OutcomeDropped
	}
	participant := models.Participant{
		ConnectionID: connID,
		UserID:       p.User.ID,
		DisplayName:  p.User.Name,
		AvatarURL:    p.User.PhotoURL,
	}
	if room.AddParticipant(participant) {
		metrics.Participants.Inc()
	}
	c.registry.Bind(connID, room.ID, p.User.ID)

	c.toAll(room, models.WSFrame{Type: models.EventUserList, Data: room.Participants()})
	c.toConn(connID, models.WSFrame{Type: models.EventFilesUpdate, Data: room.files.List()})
	c.toConn(connID, models.WSFrame{Type: models.EventActiveFileUpdate, Data: room.ActiveFileID()})
	c.toConn(connID, models.WSFrame{Type: models.EventChatHistory, Data: room.chat.Messages()})

	c.log.Info("participant joined", "roomId", room.ID, "connId", connID, "userId", p.User.ID, "participants", room.ParticipantCount())
	return metrics.OutcomeApplied
}

func (c *Coordinator) edit(room *RoomSession, connID string, p models.CodeChange) string {
	if !c.member(room, connID) {
		return metrics.OutcomeDropped
	}
	if err := room.files.SetContent(p.FileID, p.Code); err != nil {
		return metrics.OutcomeDropped
	}
	c.toOthers(room, connID, models.WSFrame{
		Type: models.EventCodeUpdate,
		Data: models.CodeUpdate{FileID: p.FileID, Code: p.Code},
	})
	c.writes.WriteFileContent(room.ID, p.FileID, p.Code)
	return metrics.OutcomeApplied
}

func (c *Coordinator) fileCreate(room *RoomSession, connID string, p models.FileCreate) string {
	if !c.member(room, connID) {
		return metrics.OutcomeDropped
	}
	if err := room.files.Add(p.File); err != nil {
		c.notifyError(connID, models.EventFileCreate, err)
		return metrics.OutcomeDropped
	}
	node, _ := room.files.Get(p.File.ID)
	c.toOthers(room, connID, models.WSFrame{Type: models.EventFileCreated, Data: node})
	c.writes.AppendFile(room.ID, node)
	return metrics.OutcomeApplied
}

func (c *Coordinator) fileDelete(room *RoomSession, connID string, p models.FileDelete) string {
	if !c.member(room, connID) {
		return metrics.OutcomeDropped
	}
	removed, err := room.files.Remove(p.FileID)
	if err != nil {
		c.notifyError(connID, models.EventFileDelete, err)
		return metrics.OutcomeDropped
	}
	for _, id := range removed {
		c.toOthers(room, connID, models.WSFrame{Type: models.EventFileDeleted, Data: id})
		c.writes.RemoveFile(room.ID, id)
	}

	if room.activeFileID != nil && !room.files.Has(*room.activeFileID) {
		room.activeFileID = room.files.FirstFile()
		c.toOthers(room, connID, models.WSFrame{Type: models.EventActiveFileUpdate, Data: room.ActiveFileID()})
		c.writes.WriteActiveFile(room.ID, room.ActiveFileID())
	}
	return metrics.OutcomeApplied
}

func (c *Coordinator) fileSwitch(room *RoomSession, connID string, p models.FileSwitch) string {
	if !c.member(room, connID) || !room.files.IsFile(p.FileID) {
		return metrics.OutcomeDropped
	}
	id := p.FileID
	room.activeFileID = &id
	c.toOthers(room, connID, models.WSFrame{Type: models.EventActiveFileUpdate, Data: room.ActiveFileID()})
	c.writes.WriteActiveFile(room.ID, room.ActiveFileID())
	return metrics.OutcomeApplied
}

func (c *Coordinator) languageChange(room *RoomSession, connID string, p models.LanguageChange) string {
	if !c.member(room, connID) || p.Language == "" {
		return metrics.OutcomeDropped
	}
	if err := room.files.SetLanguage(p.FileID, p.Language); err != nil {
		return metrics.OutcomeDropped
	}
	room.language = p.Language
	c.toOthers(room, connID, models.WSFrame{Type: models.EventLanguageUpdate, Data: p.Language})
	c.writes.WriteLanguage(room.ID, p.Language)
	c.writes.WriteFileLanguage(room.ID, p.FileID, p.Language)
	return metrics.OutcomeApplied
}

func (c *Coordinator) cursorMove(room *RoomSession, connID string, p models.CursorMove) string {
	participant, ok := room.Participant(connID)
	if !ok {
		return metrics.OutcomeDropped
	}
	user := models.CursorUser{ID: participant.UserID, Name: participant.DisplayName}
	if user.Name == "" {
		user.Name = p.User.Name
	}
	c.toOthers(room, connID, models.WSFrame{
		Type: models.EventCursorUpdate,
		Data: models.CursorUpdate{ID: connID, Cursor: p.Cursor, User: user},
	})
	return metrics.OutcomeApplied
}

func (c *Coordinator) sendMessage(room *RoomSession, connID string, p models.SendMessage) string {
	participant, ok := room.Participant(connID)
	if !ok || strings.TrimSpace(p.Message) == "" {
		return metrics.OutcomeDropped
	}
	user := models.UserInfo{ID: participant.UserID, Name: participant.DisplayName, PhotoURL: participant.AvatarURL}
	if user.Name == "" {
		user.Name = p.User.Name
	}
	if user.PhotoURL == "" {
		user.PhotoURL = p.User.PhotoURL
	}
	msg := models.ChatMessage{User: user, Body: p.Message, Timestamp: c.now().UTC()}
	room.chat.Append(msg)
	c.toAll(room, models.WSFrame{Type: models.EventNewMessage, Data: msg})
	return metrics.OutcomeApplied
}

// leave removes connID from room and evicts the room once it is empty.
func (c *Coordinator) leave(room *RoomSession, connID string) {
	if !room.RemoveParticipant(connID) {
		return
	}
	metrics.Participants.Dec()
	c.log.Info("participant left", "roomId", room.ID, "connId", connID, "participants", room.ParticipantCount())

	if room.ParticipantCount() == 0 {
		c.evict(room)
		return
	}
	c.toAll(room, models.WSFrame{Type: models.EventUserList, Data: room.Participants()})
	c.toAll(room, models.WSFrame{Type: models.EventUserLeft, Data: connID})
}

func (c *Coordinator) notifyError(connID, event string, err error) {
	c.toConn(connID, models.WSFrame{
		Type: models.EventError,
		Data: models.ErrorMessage{Event: event, Message: err.Error()},
	})
}
