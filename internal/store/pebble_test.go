package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/parleyhq/parley/internal/domain"
)

func newTestPebble(t *testing.T) *PebbleStore {
	t.Helper()
	s, err := OpenPebble(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPebbleAppendCreatesThread(t *testing.T) {
	s := newTestPebble(t)
	ctx := context.Background()

	err := s.Append(ctx, "t1", "turn1", domain.Message{Role: domain.RoleUser, Text: "hello world"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	th, err := s.GetThread(ctx, "t1")
	if err != nil {
		t.Fatalf("get thread: %v", err)
	}
	if th.ID != "t1" {
		t.Errorf("expected thread id t1, got %q", th.ID)
	}
	if th.Title != "hello world" {
		t.Errorf("expected title from first message, got %q", th.Title)
	}
	if th.CreatedAt.IsZero() || th.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}

	msgs, err := s.GetHistory(ctx, "t1")
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Role != domain.RoleUser || msgs[0].Text != "hello world" {
		t.Errorf("unexpected message %+v", msgs[0])
	}
	if msgs[0].ID == "" || msgs[0].CreatedAt.IsZero() {
		t.Error("expected message id and timestamp to be filled in")
	}
}

func TestPebbleAppendIdempotentPerTurnRole(t *testing.T) {
	s := newTestPebble(t)
	ctx := context.Background()

	if err := s.Append(ctx, "t1", "turn1", domain.Message{Role: domain.RoleUser, Text: "question"}); err != nil {
		t.Fatalf("append user: %v", err)
	}
	err := s.Append(ctx, "t1", "turn1", domain.Message{Role: domain.RoleUser, Text: "question again"})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists on duplicate, got %v", err)
	}

	if err := s.Append(ctx, "t1", "turn1", domain.Message{Role: domain.RoleAssistant, Text: "answer"}); err != nil {
		t.Fatalf("append assistant: %v", err)
	}
	err = s.Append(ctx, "t1", "turn1", domain.Message{Role: domain.RoleAssistant, Text: "answer again"})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists on duplicate assistant, got %v", err)
	}

	if err := s.Append(ctx, "t1", "turn2", domain.Message{Role: domain.RoleUser, Text: "followup"}); err != nil {
		t.Fatalf("append next turn: %v", err)
	}

	msgs, err := s.GetHistory(ctx, "t1")
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages after duplicate rejections, got %d", len(msgs))
	}
}

func TestPebbleHistoryPreservesOrder(t *testing.T) {
	s := newTestPebble(t)
	ctx := context.Background()

	exchanges := []struct {
		turn string
		role domain.Role
		text string
	}{
		{"turn1", domain.RoleUser, "first question"},
		{"turn1", domain.RoleAssistant, "first answer"},
		{"turn2", domain.RoleUser, "second question"},
		{"turn2", domain.RoleAssistant, "second answer"},
	}
	for _, e := range exchanges {
		if err := s.Append(ctx, "t1", e.turn, domain.Message{Role: e.role, Text: e.text}); err != nil {
			t.Fatalf("append %s/%s: %v", e.turn, e.role, err)
		}
	}

	msgs, err := s.GetHistory(ctx, "t1")
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if len(msgs) != len(exchanges) {
		t.Fatalf("expected %d messages, got %d", len(exchanges), len(msgs))
	}
	for i, e := range exchanges {
		if msgs[i].Role != e.role || msgs[i].Text != e.text {
			t.Errorf("message %d = %s %q, want %s %q", i, msgs[i].Role, msgs[i].Text, e.role, e.text)
		}
	}
}

func TestPebbleListThreadsMostRecentFirst(t *testing.T) {
	s := newTestPebble(t)
	ctx := context.Background()

	if err := s.Append(ctx, "t1", "turn1", domain.Message{Role: domain.RoleUser, Text: "older"}); err != nil {
		t.Fatalf("append t1: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	if err := s.Append(ctx, "t2", "turn1", domain.Message{Role: domain.RoleUser, Text: "newer"}); err != nil {
		t.Fatalf("append t2: %v", err)
	}

	threads, err := s.ListThreads(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(threads) != 2 {
		t.Fatalf("expected 2 threads, got %d", len(threads))
	}
	if threads[0].ID != "t2" || threads[1].ID != "t1" {
		t.Errorf("expected order [t2 t1], got [%s %s]", threads[0].ID, threads[1].ID)
	}

	// Touching t1 moves it back to the front.
	time.Sleep(2 * time.Millisecond)
	if err := s.Append(ctx, "t1", "turn2", domain.Message{Role: domain.RoleUser, Text: "touch"}); err != nil {
		t.Fatalf("append t1 again: %v", err)
	}
	threads, err = s.ListThreads(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if threads[0].ID != "t1" {
		t.Errorf("expected t1 first after update, got %s", threads[0].ID)
	}
}

func TestPebbleDeleteTombstones(t *testing.T) {
	s := newTestPebble(t)
	ctx := context.Background()

	if err := s.Append(ctx, "t1", "turn1", domain.Message{Role: domain.RoleUser, Text: "hello"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Delete(ctx, "t1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := s.GetThread(ctx, "t1"); !errors.Is(err, ErrThreadNotFound) {
		t.Errorf("expected ErrThreadNotFound from GetThread, got %v", err)
	}
	if _, err := s.GetHistory(ctx, "t1"); !errors.Is(err, ErrThreadNotFound) {
		t.Errorf("expected ErrThreadNotFound from GetHistory, got %v", err)
	}
	threads, err := s.ListThreads(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(threads) != 0 {
		t.Errorf("expected tombstoned thread hidden from list, got %d", len(threads))
	}

	err = s.Append(ctx, "t1", "turn2", domain.Message{Role: domain.RoleUser, Text: "late"})
	if !errors.Is(err, ErrThreadNotFound) {
		t.Errorf("expected append to tombstoned thread to fail, got %v", err)
	}
	if err := s.Delete(ctx, "t1"); !errors.Is(err, ErrThreadNotFound) {
		t.Errorf("expected second delete to report not found, got %v", err)
	}
	if err := s.Delete(ctx, "never-existed"); !errors.Is(err, ErrThreadNotFound) {
		t.Errorf("expected delete of unknown thread to report not found, got %v", err)
	}
}

func TestPebblePurgeRemovesExpiredTombstones(t *testing.T) {
	s := newTestPebble(t)
	ctx := context.Background()

	for _, id := range []string{"live", "old", "recent"} {
		if err := s.Append(ctx, id, "turn1", domain.Message{Role: domain.RoleUser, Text: "hello " + id}); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}

	if err := s.Delete(ctx, "old"); err != nil {
		t.Fatalf("delete old: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	cutoff := time.Now().UTC()
	if err := s.Delete(ctx, "recent"); err != nil {
		t.Fatalf("delete recent: %v", err)
	}

	n, err := s.Purge(ctx, cutoff)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 thread purged, got %d", n)
	}

	// The purged id is fully gone, so it can be recreated from scratch.
	if err := s.Append(ctx, "old", "turn1", domain.Message{Role: domain.RoleUser, Text: "reborn"}); err != nil {
		t.Errorf("expected purged id to accept new appends, got %v", err)
	}
	msgs, err := s.GetHistory(ctx, "old")
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Text != "reborn" {
		t.Errorf("expected fresh history after purge, got %+v", msgs)
	}

	// The recent tombstone survives.
	if err := s.Append(ctx, "recent", "turn2", domain.Message{Role: domain.RoleUser, Text: "late"}); !errors.Is(err, ErrThreadNotFound) {
		t.Errorf("expected recent tombstone intact, got %v", err)
	}
	if _, err := s.GetThread(ctx, "live"); err != nil {
		t.Errorf("expected live thread untouched, got %v", err)
	}
}

func TestPebbleClosedStore(t *testing.T) {
	s := newTestPebble(t)
	ctx := context.Background()

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := s.Ping(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from Ping, got %v", err)
	}
	if err := s.Append(ctx, "t1", "turn1", domain.Message{Role: domain.RoleUser, Text: "x"}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from Append, got %v", err)
	}
	if _, err := s.ListThreads(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from ListThreads, got %v", err)
	}
}
