package backplane

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/zoomvconnect/signaling/internal/core"
	"github.com/zoomvconnect/signaling/internal/domain"
)

const channelPrefix = "room:"

// RedisBackplane fans events out across server instances. One shared
// subscriber connection demultiplexes every room channel this process
// has local participants in; Subscribe/Unsubscribe are idempotent.
type RedisBackplane struct {
	rdb     *redis.Client
	sub     *redis.PubSub
	handler core.BackplaneHandler

	mu       sync.Mutex
	channels map[domain.RoomID]struct{}
}

func NewRedisBackplane(ctx context.Context, rdb *redis.Client, handler core.BackplaneHandler) *RedisBackplane {
	b := &RedisBackplane{
		rdb:      rdb,
		sub:      rdb.Subscribe(ctx),
		handler:  handler,
		channels: make(map[domain.RoomID]struct{}),
	}
	go b.receive()
	return b
}

func channelFor(roomID domain.RoomID) string {
	return channelPrefix + string(roomID)
}

func (b *RedisBackplane) receive() {
	for msg := range b.sub.Channel() {
		roomID := domain.RoomID(strings.TrimPrefix(msg.Channel, channelPrefix))
		var env core.Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			log.Warn().Err(err).Str("module", "backplane").Str("channel", msg.Channel).Msg("undecodable envelope")
			continue
		}
		b.handler(roomID, env)
	}
}

// Publish is fire-and-forget: a failure means remote instances miss
// this event, local fan-out has already happened.
func (b *RedisBackplane) Publish(ctx context.Context, roomID domain.RoomID, env core.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return b.rdb.Publish(ctx, channelFor(roomID), payload).Err()
}

func (b *RedisBackplane) Subscribe(ctx context.Context, roomID domain.RoomID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.channels[roomID]; ok {
		return nil
	}
	if err := b.sub.Subscribe(ctx, channelFor(roomID)); err != nil {
		return err
	}
	b.channels[roomID] = struct{}{}
	log.Info().Str("module", "backplane").Str("room", string(roomID)).Msg("subscribed room channel")
	return nil
}

func (b *RedisBackplane) Unsubscribe(ctx context.Context, roomID domain.RoomID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.channels[roomID]; !ok {
		return nil
	}
	delete(b.channels, roomID)
	if err := b.sub.Unsubscribe(ctx, channelFor(roomID)); err != nil {
		return err
	}
	log.Info().Str("module", "backplane").Str("room", string(roomID)).Msg("unsubscribed room channel")
	return nil
}

func (b *RedisBackplane) Close() error {
	return b.sub.Close()
}
