// Package store persists threads and their message history.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/parleyhq/parley/internal/domain"
)

var (
	ErrThreadNotFound = errors.New("thread not found")
	ErrAlreadyExists  = errors.New("message already appended for turn")
	ErrClosed         = errors.New("store closed")
)

// ThreadStore is the durable mapping from thread id to metadata and
// ordered message history. Append is idempotent per (thread, turn,
// role): a retry with the same turn id reports ErrAlreadyExists instead
// of writing twice. Appending to an unknown thread creates it, deriving
// the title from the first user message. Delete tombstones; tombstoned
// threads are invisible to ListThreads and GetHistory until Purge
// removes them for good.
type ThreadStore interface {
	ListThreads(ctx context.Context) ([]domain.Thread, error)
	GetThread(ctx context.Context, threadID string) (domain.Thread, error)
	GetHistory(ctx context.Context, threadID string) ([]domain.Message, error)
	Append(ctx context.Context, threadID, turnID string, msg domain.Message) error
	Delete(ctx context.Context, threadID string) error
	Purge(ctx context.Context, olderThan time.Time) (int, error)
	Ping(ctx context.Context) error
	Close() error
}
