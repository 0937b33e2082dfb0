package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"livecollab/internal/models"
	"livecollab/internal/utils"

	"github.com/redis/go-redis/v9"
)

const (
	// recent lifecycle events are also kept per room for late readers
	lastEventTTL = 24 * time.Hour
)

// LifecycleService publishes room activation/eviction notices on a Redis
// channel and can subscribe to the same channel.
type LifecycleService struct {
	rdb     *redis.Client
	channel string
	log     *utils.Logger
}

func NewLifecycleService(redisAddr, channel string, log *utils.Logger) *LifecycleService {
	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})
	return NewLifecycleServiceFromClient(rdb, channel, log)
}

func NewLifecycleServiceFromClient(rdb *redis.Client, channel string, log *utils.Logger) *LifecycleService {
	return &LifecycleService{rdb: rdb, channel: channel, log: log}
}

// Publish sends ev on the channel and records it as the room's last event.
func (s *LifecycleService) Publish(ctx context.Context, ev models.RoomLifecycleEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal lifecycle event: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Publish(ctx, s.channel, string(data))
	key := "room:" + ev.RoomID + ":lifecycle"
	pipe.HSet(ctx, key, map[string]interface{}{
		"event":        ev.Event,
		"participants": ev.Participants,
		"files":        ev.Files,
		"instanceId":   ev.InstanceID,
		"at":           ev.At,
	})
	pipe.Expire(ctx, key, lastEventTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish lifecycle event: %w", err)
	}
	return nil
}

// LastEvent returns the most recent lifecycle event recorded for roomID.
func (s *LifecycleService) LastEvent(ctx context.Context, roomID string) (*models.RoomLifecycleEvent, error) {
	result := s.rdb.HGetAll(ctx, "room:"+roomID+":lifecycle")
	if result.Err() != nil {
		return nil, fmt.Errorf("failed to get lifecycle from Redis: %w", result.Err())
	}
	m := result.Val()
	if len(m) == 0 {
		return nil, errors.New("no lifecycle event recorded")
	}
	ev := &models.RoomLifecycleEvent{
		RoomID:     roomID,
		Event:      m["event"],
		InstanceID: m["instanceId"],
		At:         m["at"],
	}
	_, _ = fmt.Sscan(m["participants"], &ev.Participants)
	_, _ = fmt.Sscan(m["files"], &ev.Files)
	return ev, nil
}

// Subscribe delivers events from the channel to handle until ctx is done.
// Payloads that do not decode are logged and skipped.
func (s *LifecycleService) Subscribe(ctx context.Context, handle func(models.RoomLifecycleEvent)) error {
	subscriber := s.rdb.Subscribe(ctx, s.channel)
	defer subscriber.Close()

	// wait for the subscription to be confirmed before reading
	if _, err := subscriber.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.channel, err)
	}
	ch := subscriber.Channel()
	s.log.Info("subscribed to room lifecycle events", "channel", s.channel)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev models.RoomLifecycleEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				s.log.Warn("failed to parse lifecycle event", "error", err)
				continue
			}
			handle(ev)
		}
	}
}

func (s *LifecycleService) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *LifecycleService) Close() error { return s.rdb.Close() }
