package models

import (
	"encoding/json"
	"time"
)

// Inbound event names. These are the wire contract with existing clients.
const (
	EventJoinRoom       = "join-room"
	EventCodeChange     = "code-change"
	EventFileCreate     = "file-create"
	EventFileDelete     = "file-delete"
	EventFileSwitch     = "file-switch"
	EventLanguageChange = "language-change"
	EventCursorMove     = "cursor-move"
	EventSendMessage    = "send-message"
)

// Outbound event names.
const (
	EventUserList         = "user-list"
	EventFilesUpdate      = "files-update"
	EventActiveFileUpdate = "active-file-update"
	EventChatHistory      = "chat-history"
	EventCodeUpdate       = "code-update"
	EventFileCreated      = "file-created"
	EventFileDeleted      = "file-deleted"
	EventLanguageUpdate   = "language-update"
	EventCursorUpdate     = "cursor-update"
	EventNewMessage       = "new-message"
	EventUserLeft         = "user-left"
	EventError            = "error"
)

// MaxChatHistory is the number of chat messages a live room retains.
const MaxChatHistory = 50

type WSFrame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// InboundFrame is WSFrame as read off the wire, payload left undecoded.
type InboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

/*** Room content ***/

type FileKind string

const (
	KindFile   FileKind = "file"
	KindFolder FileKind = "folder"
)

func (k FileKind) Valid() bool { return k == KindFile || k == KindFolder }

type FileNode struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Kind     FileKind `json:"type"`
	Content  string   `json:"content"`
	Language string   `json:"language"`
	ParentID *string  `json:"parentId"` // nil = root level
}

// Clone returns a copy that shares no pointers with n.
func (n FileNode) Clone() FileNode {
	out := n
	if n.ParentID != nil {
		p := *n.ParentID
		out.ParentID = &p
	}
	return out
}

// RoomSnapshot is the durable part of a room, as read during hydration.
type RoomSnapshot struct {
	Files        []FileNode `json:"files"`
	ActiveFileID *string    `json:"activeFileId"`
	Language     string     `json:"language"`
}

/*** Presence and chat ***/

type UserInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	PhotoURL string `json:"photoURL,omitempty"`
}

type Participant struct {
	ConnectionID string `json:"socketId"`
	UserID       string `json:"id"`
	DisplayName  string `json:"name"`
	AvatarURL    string `json:"photoURL,omitempty"`
}

type ChatMessage struct {
	User      UserInfo  `json:"user"`
	Body      string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type CursorPosition struct {
	LineNumber int `json:"lineNumber"`
	Column     int `json:"column"`
}

type CursorUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CursorUpdate is relayed to peers and never stored.
type CursorUpdate struct {
	ID     string         `json:"id"` // connection id of the moving cursor
	Cursor CursorPosition `json:"cursor"`
	User   CursorUser     `json:"user"`
}

/*** Inbound payloads ***/

type JoinRoom struct {
	RoomID string   `json:"roomId"`
	User   UserInfo `json:"user"`
}

type CodeChange struct {
	RoomID string `json:"roomId"`
	FileID string `json:"fileId"`
	Code   string `json:"code"`
}

type FileCreate struct {
	RoomID string   `json:"roomId"`
	File   FileNode `json:"file"`
}

type FileDelete struct {
	RoomID string `json:"roomId"`
	FileID string `json:"fileId"`
}

type FileSwitch struct {
	RoomID string `json:"roomId"`
	FileID string `json:"fileId"`
}

type LanguageChange struct {
	RoomID   string `json:"roomId"`
	FileID   string `json:"fileId"`
	Language string `json:"language"`
}

type CursorMove struct {
	RoomID string         `json:"roomId"`
	Cursor CursorPosition `json:"cursor"`
	User   UserInfo       `json:"user"`
}

type SendMessage struct {
	RoomID  string   `json:"roomId"`
	Message string   `json:"message"`
	User    UserInfo `json:"user"`
}

/*** Outbound payloads ***/

type CodeUpdate struct {
	FileID string `json:"fileId"`
	Code   string `json:"code"`
}

// ErrorMessage is sent only to the connection whose event was rejected.
type ErrorMessage struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

/*** Read-only views served over HTTP ***/

type LiveRoom struct {
	RoomID       string `json:"roomId"`
	State        string `json:"state"`
	Participants int    `json:"participants"`
}

type LiveRoomDetail struct {
	RoomID       string        `json:"roomId"`
	State        string        `json:"state"`
	Participants []Participant `json:"participants"`
	ActiveFileID *string       `json:"activeFileId"`
	Language     string        `json:"language"`
	Files        int           `json:"files"`
	Messages     int           `json:"messages"`
}

// Room lifecycle notifications published for other instances and tools.
const (
	LifecycleActivated = "room_activated"
	LifecycleEvicted   = "room_evicted"
)

type RoomLifecycleEvent struct {
	RoomID       string `json:"roomId"`
	Event        string `json:"event"`
	Participants int    `json:"participants"`
	Files        int    `json:"files"`
	InstanceID   string `json:"instanceId"`
	At           string `json:"at"`
}
