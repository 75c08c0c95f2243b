package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Agora/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	messageKeyPrefix    = "message:"
	reactionKeyPrefix   = "reactions:"
	moderationKeyPrefix = "moderation:"

	maxTxRetries = 5
)

func messageKey(id domain.MessageID) string { return messageKeyPrefix + string(id) }

// reactionIndexKey holds the set of emojis used on a message.
func reactionIndexKey(id domain.MessageID) string { return reactionKeyPrefix + string(id) }

// reactionKey holds the reactors of one emoji on a message.
func reactionKey(id domain.MessageID, emoji string) string {
	return reactionKeyPrefix + string(id) + ":" + emoji
}

// redisMessageStore implements MessageStore on top of redis.
type redisMessageStore struct {
	client *redis.Client
	ttl    time.Duration
}

// Save implements MessageStore.
func (s *redisMessageStore) Save(ctx context.Context, msg *domain.Message) error {
	val, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, messageKey(msg.ID), val, s.ttl).Err()
}

// Get implements MessageStore.
func (s *redisMessageStore) Get(ctx context.Context, id domain.MessageID) (*domain.Message, error) {
	val, err := s.client.Get(ctx, messageKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var msg domain.Message
	if err := json.Unmarshal(val, &msg); err != nil {
		return nil, fmt.Errorf("decode message %s: %w", id, err)
	}
	return &msg, nil
}

// Update implements MessageStore.
func (s *redisMessageStore) Update(ctx context.Context, msg *domain.Message) error {
	key := messageKey(msg.ID)
	val, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, val, s.ttl)
			return nil
		})
		return err
	}, key)
}

// Delete implements MessageStore.
func (s *redisMessageStore) Delete(ctx context.Context, id domain.MessageID) error {
	emojis, err := s.client.SMembers(ctx, reactionIndexKey(id)).Result()
	if err != nil {
		return err
	}
	keys := []string{reactionIndexKey(id)}
	for _, e := range emojis {
		keys = append(keys, reactionKey(id, e))
	}
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, messageKey(id))
	pipe.Del(ctx, keys...)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

// ToggleReaction implements MessageStore.
func (s *redisMessageStore) ToggleReaction(ctx context.Context, id domain.MessageID, who domain.IdentityID, emoji string) ([]domain.ReactionCount, error) {
	msgKey, setKey, idxKey := messageKey(id), reactionKey(id, emoji), reactionIndexKey(id)
	err := s.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, msgKey).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		set, err := tx.SIsMember(ctx, setKey, string(who)).Result()
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if set {
				pipe.SRem(ctx, setKey, string(who))
				return nil
			}
			pipe.SAdd(ctx, setKey, string(who))
			pipe.SAdd(ctx, idxKey, emoji)
			pipe.Expire(ctx, setKey, s.ttl)
			pipe.Expire(ctx, idxKey, s.ttl)
			return nil
		})
		return err
	}, msgKey, setKey)
	if err != nil {
		return nil, err
	}
	return s.counts(ctx, id)
}

func (s *redisMessageStore) counts(ctx context.Context, id domain.MessageID) ([]domain.ReactionCount, error) {
	emojis, err := s.client.SMembers(ctx, reactionIndexKey(id)).Result()
	if err != nil {
		return nil, err
	}
	pipe := s.client.Pipeline()
	cards := make([]*redis.IntCmd, len(emojis))
	for i, e := range emojis {
		cards[i] = pipe.SCard(ctx, reactionKey(id, e))
	}
	if len(emojis) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, err
		}
	}
	out := make([]domain.ReactionCount, 0, len(emojis))
	var empty []any
	for i, e := range emojis {
		c := int(cards[i].Val())
		if c == 0 {
			empty = append(empty, e)
			continue
		}
		out = append(out, domain.ReactionCount{Emoji: e, Count: c})
	}
	if len(empty) > 0 {
		_ = s.client.SRem(ctx, reactionIndexKey(id), empty...).Err()
	}
	domain.SortReactionCounts(out)
	return out, nil
}

// watch runs fn in an optimistic transaction, retrying on conflicts.
func (s *redisMessageStore) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	var err error
	for range maxTxRetries {
		err = s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

// Close implements MessageStore. The client belongs to the caller that
// passed WithRedisClient and stays open.
func (s *redisMessageStore) Close() error { return nil }

// redisModerationStore implements ModerationStore on top of redis.
type redisModerationStore struct {
	client *redis.Client
	ttl    time.Duration
}

// Save implements ModerationStore.
func (s *redisModerationStore) Save(ctx context.Context, req *domain.ModerationRequest) error {
	val, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, moderationKeyPrefix+string(req.ID), val, s.ttl).Err()
}

// Get implements ModerationStore.
func (s *redisModerationStore) Get(ctx context.Context, id domain.RequestID) (*domain.ModerationRequest, error) {
	val, err := s.client.Get(ctx, moderationKeyPrefix+string(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var req domain.ModerationRequest
	if err := json.Unmarshal(val, &req); err != nil {
		return nil, fmt.Errorf("decode moderation request %s: %w", id, err)
	}
	return &req, nil
}

// Close implements ModerationStore.
func (s *redisModerationStore) Close() error { return nil }
