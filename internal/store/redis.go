package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/parleyhq/parley/internal/domain"
)

// RedisStore keeps threads in Redis: metadata as JSON string keys,
// history as a sorted set scored by append time (ULID members break
// ties in insertion order), idempotency markers via SETNX, and a set of
// known thread ids for listing.
type RedisStore struct {
	client *redis.Client
	log    zerolog.Logger
}

var _ ThreadStore = (*RedisStore)(nil)

const threadIndexKey = "threads"

func OpenRedis(ctx context.Context, redisURL string, log zerolog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	log.Info().Str("addr", opts.Addr).Msg("redis store connected")
	return &RedisStore{client: client, log: log}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func redisMetaKey(threadID string) string {
	return "thread:" + threadID + ":meta"
}

func redisMsgsKey(threadID string) string {
	return "thread:" + threadID + ":msgs"
}

func redisTurnKey(threadID, turnID string, role domain.Role) string {
	return "thread:" + threadID + ":turn:" + turnID + ":" + string(role)
}

func (s *RedisStore) getThread(ctx context.Context, threadID string) (domain.Thread, error) {
	data, err := s.client.Get(ctx, redisMetaKey(threadID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Thread{}, ErrThreadNotFound
		}
		return domain.Thread{}, err
	}

	var th domain.Thread
	if err := json.Unmarshal([]byte(data), &th); err != nil {
		return domain.Thread{}, fmt.Errorf("corrupt thread meta %s: %w", threadID, err)
	}
	return th, nil
}

func (s *RedisStore) GetThread(ctx context.Context, threadID string) (domain.Thread, error) {
	th, err := s.getThread(ctx, threadID)
	if err != nil {
		return domain.Thread{}, err
	}
	if th.Deleted {
		return domain.Thread{}, ErrThreadNotFound
	}
	return th, nil
}

func (s *RedisStore) Append(ctx context.Context, threadID, turnID string, msg domain.Message) error {
	set, err := s.client.SetNX(ctx, redisTurnKey(threadID, turnID, msg.Role), "1", 0).Result()
	if err != nil {
		return err
	}
	if !set {
		return ErrAlreadyExists
	}

	now := time.Now().UTC()
	th, err := s.getThread(ctx, threadID)
	switch {
	case errors.Is(err, ErrThreadNotFound):
		th = domain.Thread{
			ID:        threadID,
			Title:     domain.TitleFromText(msg.Text),
			CreatedAt: now,
		}
	case err != nil:
		return err
	case th.Deleted:
		return ErrThreadNotFound
	}
	th.UpdatedAt = now

	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}

	msgData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	thData, err := json.Marshal(th)
	if err != nil {
		return fmt.Errorf("marshal thread: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, redisMsgsKey(threadID), redis.Z{
		Score:  float64(msg.CreatedAt.UnixNano()),
		Member: string(msgData),
	})
	pipe.Set(ctx, redisMetaKey(threadID), thData, 0)
	pipe.SAdd(ctx, threadIndexKey, threadID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}

	s.log.Debug().
		Str("thread_id", threadID).
		Str("turn_id", turnID).
		Str("role", string(msg.Role)).
		Msg("message appended")
	return nil
}

func (s *RedisStore) GetHistory(ctx context.Context, threadID string) ([]domain.Message, error) {
	th, err := s.getThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if th.Deleted {
		return nil, ErrThreadNotFound
	}

	results, err := s.client.ZRange(ctx, redisMsgsKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	msgs := make([]domain.Message, 0, len(results))
	for _, data := range results {
		var m domain.Message
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			return nil, fmt.Errorf("corrupt message in thread %s: %w", threadID, err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (s *RedisStore) ListThreads(ctx context.Context) ([]domain.Thread, error) {
	ids, err := s.client.SMembers(ctx, threadIndexKey).Result()
	if err != nil {
		return nil, err
	}

	var threads []domain.Thread
	for _, id := range ids {
		th, err := s.getThread(ctx, id)
		if errors.Is(err, ErrThreadNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if th.Deleted {
			continue
		}
		threads = append(threads, th)
	}

	sort.Slice(threads, func(i, j int) bool {
		return threads[i].UpdatedAt.After(threads[j].UpdatedAt)
	})
	return threads, nil
}

func (s *RedisStore) Delete(ctx context.Context, threadID string) error {
	th, err := s.getThread(ctx, threadID)
	if err != nil {
		return err
	}
	if th.Deleted {
		return ErrThreadNotFound
	}

	th.Deleted = true
	th.DeletedAt = time.Now().UTC()
	data, err := json.Marshal(th)
	if err != nil {
		return fmt.Errorf("marshal thread: %w", err)
	}
	if err := s.client.Set(ctx, redisMetaKey(threadID), data, 0).Err(); err != nil {
		return err
	}

	s.log.Info().Str("thread_id", threadID).Msg("thread tombstoned")
	return nil
}

func (s *RedisStore) Purge(ctx context.Context, olderThan time.Time) (int, error) {
	ids, err := s.client.SMembers(ctx, threadIndexKey).Result()
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, id := range ids {
		th, err := s.getThread(ctx, id)
		if errors.Is(err, ErrThreadNotFound) {
			s.client.SRem(ctx, threadIndexKey, id)
			continue
		}
		if err != nil {
			return purged, err
		}
		if !th.Deleted || th.DeletedAt.After(olderThan) {
			continue
		}

		iter := s.client.Scan(ctx, 0, "thread:"+id+":turn:*", 0).Iterator()
		for iter.Next(ctx) {
			s.client.Del(ctx, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return purged, err
		}

		pipe := s.client.Pipeline()
		pipe.Del(ctx, redisMetaKey(id), redisMsgsKey(id))
		pipe.SRem(ctx, threadIndexKey, id)
		if _, err := pipe.Exec(ctx); err != nil {
			return purged, err
		}
		purged++
		s.log.Info().Str("thread_id", id).Msg("tombstoned thread purged")
	}
	return purged, nil
}
