package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/zoomvconnect/signaling/internal/domain"
)

// RedisStore keeps one hash per room for participant entries and one
// JSON blob per room for the room-level flags. Every write refreshes a
// sliding expiry on the touched keys so abandoned rooms self-clean.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func participantsKey(roomID domain.RoomID) string {
	return fmt.Sprintf("room:participants:%s", roomID)
}

func flagsKey(roomID domain.RoomID) string {
	return fmt.Sprintf("room:state:%s", roomID)
}

func (s *RedisStore) SetParticipant(ctx context.Context, roomID domain.RoomID, p domain.ParticipantState) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	key := participantsKey(roomID)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, string(p.ParticipantID), b)
	pipe.Expire(ctx, key, s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) GetParticipant(ctx context.Context, roomID domain.RoomID, pid domain.ParticipantID) (domain.ParticipantState, bool, error) {
	val, err := s.rdb.HGet(ctx, participantsKey(roomID), string(pid)).Bytes()
	if err == redis.Nil {
		return domain.ParticipantState{}, false, nil
	}
	if err != nil {
		return domain.ParticipantState{}, false, err
	}
	var p domain.ParticipantState
	if err := json.Unmarshal(val, &p); err != nil {
		return domain.ParticipantState{}, false, err
	}
	return p, true, nil
}

func (s *RedisStore) RemoveParticipant(ctx context.Context, roomID domain.RoomID, pid domain.ParticipantID) error {
	return s.rdb.HDel(ctx, participantsKey(roomID), string(pid)).Err()
}

func (s *RedisStore) ListParticipants(ctx context.Context, roomID domain.RoomID) ([]domain.ParticipantState, error) {
	vals, err := s.rdb.HGetAll(ctx, participantsKey(roomID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.ParticipantState, 0, len(vals))
	for field, raw := range vals {
		var p domain.ParticipantState
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			log.Warn().Str("module", "store").Str("room", string(roomID)).Str("participant", field).Msg("skipping undecodable participant entry")
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *RedisStore) CountParticipants(ctx context.Context, roomID domain.RoomID) (int64, error) {
	return s.rdb.HLen(ctx, participantsKey(roomID)).Result()
}

func (s *RedisStore) GetRoomFlags(ctx context.Context, roomID domain.RoomID) (domain.RoomFlags, error) {
	val, err := s.rdb.Get(ctx, flagsKey(roomID)).Bytes()
	if err == redis.Nil {
		return domain.DefaultRoomFlags(), nil
	}
	if err != nil {
		return domain.DefaultRoomFlags(), err
	}
	var f domain.RoomFlags
	if err := json.Unmarshal(val, &f); err != nil {
		return domain.DefaultRoomFlags(), err
	}
	return f, nil
}

// MergeRoomFlags is read-modify-write with last-write-wins semantics.
// Room flags change infrequently; a lost update self-corrects on the
// next change, so no compare-and-swap is needed.
func (s *RedisStore) MergeRoomFlags(ctx context.Context, roomID domain.RoomID, merge func(*domain.RoomFlags)) (domain.RoomFlags, error) {
	flags, err := s.GetRoomFlags(ctx, roomID)
	if err != nil {
		return flags, err
	}
	merge(&flags)
	b, err := json.Marshal(flags)
	if err != nil {
		return flags, err
	}
	if err := s.rdb.SetEx(ctx, flagsKey(roomID), b, s.ttl).Err(); err != nil {
		return flags, err
	}
	return flags, nil
}

// DeleteRoom removes both the participant hash and the flags blob.
// Deleting a room that does not exist is not an error.
func (s *RedisStore) DeleteRoom(ctx context.Context, roomID domain.RoomID) error {
	return s.rdb.Del(ctx, participantsKey(roomID), flagsKey(roomID)).Err()
}
