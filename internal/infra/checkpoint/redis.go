package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/farmaplex/wsp-bot-go/internal/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	stateKeyPrefix = "wspbot:state:"
	lockKeyPrefix  = "wspbot:lock:"
)

// Redis is the production Checkpointer. One JSON document per conversation,
// plus a lock key (SET NX with TTL) that serializes turns from the same
// sender across bot replicas.
type Redis struct {
	rdb      *redis.Client
	lockTTL  time.Duration
	lockWait time.Duration
	logger   *zap.Logger
}

// NewRedis creates a Redis-backed checkpoint store from a redis URL.
func NewRedis(redisURL string, lockTTL, lockWait time.Duration, logger *zap.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Redis{
		rdb:      redis.NewClient(opts),
		lockTTL:  lockTTL,
		lockWait: lockWait,
		logger:   logger,
	}, nil
}

// Ping verifies connectivity, used by the readiness probe.
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Lock acquires the per-conversation lock, polling up to lockWait. Returns
// domain.ErrLocked when another turn holds it past the wait window — the
// caller drops the turn rather than racing the in-flight one.
func (r *Redis) Lock(ctx context.Context, conversationID string) (func(), error) {
	key := lockKeyPrefix + conversationID
	token := uuid.NewString()
	deadline := time.Now().Add(r.lockWait)

	for {
		ok, err := r.rdb.SetNX(ctx, key, token, r.lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock: %w", err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, &domain.ErrLocked{ConversationID: conversationID}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}

	release := func() {
		// Only delete the lock if we still own it (TTL may have expired
		// and another replica taken over).
		current, err := r.rdb.Get(context.Background(), key).Result()
		if err == nil && current == token {
			if err := r.rdb.Del(context.Background(), key).Err(); err != nil {
				r.logger.Warn("checkpoint: lock release failed",
					zap.String("conversation_id", conversationID),
					zap.Error(err),
				)
			}
		}
	}
	return release, nil
}

// Load returns the stored state, or nil for a new conversation.
func (r *Redis) Load(ctx context.Context, conversationID string) (*domain.ConversationState, error) {
	raw, err := r.rdb.Get(ctx, stateKeyPrefix+conversationID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "checkpoint", Err: err}
	}

	var st domain.ConversationState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &st, nil
}

// Save writes the state back under an optimistic version check (WATCH on
// the state key): a concurrent writer aborts the transaction and the turn
// fails with ErrConflict instead of silently losing a write.
func (r *Redis) Save(ctx context.Context, state *domain.ConversationState) error {
	key := stateKeyPrefix + state.ConversationID

	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			var current domain.ConversationState
			if jerr := json.Unmarshal(raw, &current); jerr == nil && current.Version != state.Version {
				return &domain.ErrConflict{ConversationID: state.ConversationID}
			}
		}

		state.Version++
		encoded, err := json.Marshal(state)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return &domain.ErrConflict{ConversationID: state.ConversationID}
	}
	return err
}

// Delete discards a conversation's state.
func (r *Redis) Delete(ctx context.Context, conversationID string) error {
	return r.rdb.Del(ctx, stateKeyPrefix+conversationID).Err()
}
