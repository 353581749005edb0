package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/parleyhq/parley/internal/domain"
)

// Integration test against a real Redis. Runs only when REDIS_URL is
// set, and uses throwaway thread ids so repeated runs do not collide.
func newTestRedis(t *testing.T) *RedisStore {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	s, err := OpenRedis(context.Background(), url, zerolog.Nop())
	if err != nil {
		t.Fatalf("open redis: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRedisThreadLifecycle(t *testing.T) {
	s := newTestRedis(t)
	ctx := context.Background()
	id := "test-" + ulid.Make().String()

	if err := s.Append(ctx, id, "turn1", domain.Message{Role: domain.RoleUser, Text: "hello redis"}); err != nil {
		t.Fatalf("append user: %v", err)
	}
	err := s.Append(ctx, id, "turn1", domain.Message{Role: domain.RoleUser, Text: "again"})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists on duplicate, got %v", err)
	}
	if err := s.Append(ctx, id, "turn1", domain.Message{Role: domain.RoleAssistant, Text: "hi there"}); err != nil {
		t.Fatalf("append assistant: %v", err)
	}

	th, err := s.GetThread(ctx, id)
	if err != nil {
		t.Fatalf("get thread: %v", err)
	}
	if th.Title != "hello redis" {
		t.Errorf("expected title from first message, got %q", th.Title)
	}

	msgs, err := s.GetHistory(ctx, id)
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != domain.RoleUser || msgs[1].Role != domain.RoleAssistant {
		t.Errorf("unexpected role order: %s, %s", msgs[0].Role, msgs[1].Role)
	}

	if err := s.Delete(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetHistory(ctx, id); !errors.Is(err, ErrThreadNotFound) {
		t.Errorf("expected ErrThreadNotFound after delete, got %v", err)
	}

	// Purge with a future cutoff collects the fresh tombstone.
	if _, err := s.Purge(ctx, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if _, err := s.GetThread(ctx, id); !errors.Is(err, ErrThreadNotFound) {
		t.Errorf("expected thread gone after purge, got %v", err)
	}
}

func TestRedisUnknownThread(t *testing.T) {
	s := newTestRedis(t)
	ctx := context.Background()

	if _, err := s.GetHistory(ctx, "test-missing-"+ulid.Make().String()); !errors.Is(err, ErrThreadNotFound) {
		t.Errorf("expected ErrThreadNotFound, got %v", err)
	}
}
