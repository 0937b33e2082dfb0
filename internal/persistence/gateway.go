// Package persistence holds the durable side of live rooms: the Gateway
// backends and the asynchronous Writer that feeds them.
package persistence

import (
	"context"
	"errors"

	"livecollab/internal/models"
)

var ErrClosed = errors.New("persistence: writer closed")

// Operation names, used for logs and metric labels.
const (
	OpReadRoom          = "read_room"
	OpWriteFileContent  = "write_file_content"
	OpWriteActiveFile   = "write_active_file"
	OpWriteLanguage     = "write_language"
	OpWriteFileLanguage = "write_file_language"
	OpAppendFile        = "append_file"
	OpRemoveFile        = "remove_file"
)

// Gateway is the durable room store. Every write is a partial update and
// applying the same write twice leaves the same stored state. Reading a
// room that was never written returns an empty snapshot.
type Gateway interface {
	ReadRoom(ctx context.Context, roomID string) (models.RoomSnapshot, error)
	WriteFileContent(ctx context.Context, roomID, fileID, content string) error
	WriteActiveFile(ctx context.Context, roomID string, fileID *string) error
	WriteLanguage(ctx context.Context, roomID, language string) error
	WriteFileLanguage(ctx context.Context, roomID, fileID, language string) error
	AppendFile(ctx context.Context, roomID string, node models.FileNode) error
	RemoveFile(ctx context.Context, roomID, fileID string) error
	Close(ctx context.Context) error
}
