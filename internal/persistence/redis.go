package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"livecollab/internal/models"

	"github.com/redis/go-redis/v9"
)

// Redis stores each room under five keys:
//
//	room:{id}:meta     hash   language, activeFileId
//	room:{id}:files    hash   fileId -> node JSON (content omitted)
//	room:{id}:content  hash   fileId -> content
//	room:{id}:order    zset   fileId scored by insertion sequence
//	room:{id}:seq      string last insertion sequence
type Redis struct {
	rdb *redis.Client
}

func NewRedis(addr string) *Redis {
	return NewRedisFromClient(redis.NewClient(&redis.Options{Addr: addr}))
}

func NewRedisFromClient(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func roomKey(roomID, part string) string { return "room:" + roomID + ":" + part }

func (r *Redis) ReadRoom(ctx context.Context, roomID string) (models.RoomSnapshot, error) {
	var snap models.RoomSnapshot

	pipe := r.rdb.Pipeline()
	metaCmd := pipe.HGetAll(ctx, roomKey(roomID, "meta"))
	filesCmd := pipe.HGetAll(ctx, roomKey(roomID, "files"))
	contentCmd := pipe.HGetAll(ctx, roomKey(roomID, "content"))
	orderCmd := pipe.ZRange(ctx, roomKey(roomID, "order"), 0, -1)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return snap, fmt.Errorf("failed to read room from Redis: %w", err)
	}

	meta := metaCmd.Val()
	snap.Language = meta["language"]
	if id := meta["activeFileId"]; id != "" {
		snap.ActiveFileID = &id
	}

	nodes := filesCmd.Val()
	content := contentCmd.Val()
	for _, id := range orderCmd.Val() {
		raw, ok := nodes[id]
		if !ok {
			continue
		}
		var node models.FileNode
		if err := json.Unmarshal([]byte(raw), &node); err != nil {
			return snap, fmt.Errorf("failed to decode file %s: %w", id, err)
		}
		node.Content = content[id]
		snap.Files = append(snap.Files, node)
	}
	return snap, nil
}

func (r *Redis) WriteFileContent(ctx context.Context, roomID, fileID, content string) error {
	exists, err := r.rdb.HExists(ctx, roomKey(roomID, "files"), fileID).Result()
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	return r.rdb.HSet(ctx, roomKey(roomID, "content"), fileID, content).Err()
}

func (r *Redis) WriteActiveFile(ctx context.Context, roomID string, fileID *string) error {
	value := ""
	if fileID != nil {
		value = *fileID
	}
	return r.rdb.HSet(ctx, roomKey(roomID, "meta"), "activeFileId", value).Err()
}

func (r *Redis) WriteLanguage(ctx context.Context, roomID, language string) error {
	return r.rdb.HSet(ctx, roomKey(roomID, "meta"), "language", language).Err()
}

func (r *Redis) WriteFileLanguage(ctx context.Context, roomID, fileID, language string) error {
	raw, err := r.rdb.HGet(ctx, roomKey(roomID, "files"), fileID).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	var node models.FileNode
	if err := json.Unmarshal([]byte(raw), &node); err != nil {
		return fmt.Errorf("failed to decode file %s: %w", fileID, err)
	}
	node.Language = language
	data, err := json.Marshal(node)
	if err != nil {
		return err
	}
	return r.rdb.HSet(ctx, roomKey(roomID, "files"), fileID, string(data)).Err()
}

// appendFileScript adds a node in one server-side step. The sequence is taken
// before anything is written, and a node left half-stored by an earlier
// failure is completed rather than skipped.
//
// KEYS: files, content, order, seq. ARGV: file id, node JSON, content.
var appendFileScript = redis.NewScript(`
local fresh = redis.call('HEXISTS', KEYS[1], ARGV[1]) == 0
if not redis.call('ZSCORE', KEYS[3], ARGV[1]) then
	local seq = redis.call('INCR', KEYS[4])
	redis.call('ZADD', KEYS[3], tostring(seq), ARGV[1])
end
if fresh then
	redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
	redis.call('HSET', KEYS[2], ARGV[1], ARGV[3])
end
return 1
`)

func (r *Redis) AppendFile(ctx context.Context, roomID string, node models.FileNode) error {
	stored := node.Clone()
	stored.Content = ""
	data, err := json.Marshal(stored)
	if err != nil {
		return err
	}

	keys := []string{
		roomKey(roomID, "files"),
		roomKey(roomID, "content"),
		roomKey(roomID, "order"),
		roomKey(roomID, "seq"),
	}
	if err := appendFileScript.Run(ctx, r.rdb, keys, node.ID, string(data), node.Content).Err(); err != nil {
		return fmt.Errorf("failed to append file %s: %w", node.ID, err)
	}
	return nil
}

func (r *Redis) RemoveFile(ctx context.Context, roomID, fileID string) error {
	pipe := r.rdb.TxPipeline()
	pipe.HDel(ctx, roomKey(roomID, "files"), fileID)
	pipe.HDel(ctx, roomKey(roomID, "content"), fileID)
	pipe.ZRem(ctx, roomKey(roomID, "order"), fileID)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Redis) Close(context.Context) error { return r.rdb.Close() }
