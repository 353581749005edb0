package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/parleyhq/parley/internal/domain"
)

// PebbleStore keeps threads in an embedded key-ordered store.
//
// Key layout:
//
//	thread:<id>:meta               thread metadata JSON
//	thread:<id>:msg:<ulid>         message JSON, key order = insertion order
//	thread:<id>:turn:<turn>:<role> idempotency marker, value = message id
type PebbleStore struct {
	db  *pebble.DB
	log zerolog.Logger
}

var _ ThreadStore = (*PebbleStore)(nil)

func OpenPebble(path string, log zerolog.Logger) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	log.Info().Str("path", path).Msg("pebble store opened")
	return &PebbleStore{db: db, log: log}, nil
}

func (s *PebbleStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	s.log.Info().Msg("pebble store closed")
	return err
}

func (s *PebbleStore) Ping(context.Context) error {
	if s.db == nil {
		return ErrClosed
	}
	return nil
}

func metaKey(threadID string) []byte {
	return []byte("thread:" + threadID + ":meta")
}

func msgKey(threadID, msgID string) []byte {
	return []byte("thread:" + threadID + ":msg:" + msgID)
}

func msgPrefix(threadID string) []byte {
	return []byte("thread:" + threadID + ":msg:")
}

func turnKey(threadID, turnID string, role domain.Role) []byte {
	return []byte("thread:" + threadID + ":turn:" + turnID + ":" + string(role))
}

// threadBounds returns the key range covering everything stored for one
// thread. The upper bound relies on ';' sorting directly after ':'.
func threadBounds(threadID string) (start, end []byte) {
	return []byte("thread:" + threadID + ":"), []byte("thread:" + threadID + ";")
}

func (s *PebbleStore) getThread(threadID string) (domain.Thread, error) {
	v, closer, err := s.db.Get(metaKey(threadID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return domain.Thread{}, ErrThreadNotFound
		}
		return domain.Thread{}, err
	}
	defer closer.Close()

	var th domain.Thread
	if err := json.Unmarshal(v, &th); err != nil {
		return domain.Thread{}, fmt.Errorf("corrupt thread meta %s: %w", threadID, err)
	}
	return th, nil
}

func (s *PebbleStore) GetThread(ctx context.Context, threadID string) (domain.Thread, error) {
	if s.db == nil {
		return domain.Thread{}, ErrClosed
	}
	th, err := s.getThread(threadID)
	if err != nil {
		return domain.Thread{}, err
	}
	if th.Deleted {
		return domain.Thread{}, ErrThreadNotFound
	}
	return th, nil
}

func (s *PebbleStore) Append(ctx context.Context, threadID, turnID string, msg domain.Message) error {
	if s.db == nil {
		return ErrClosed
	}

	marker := turnKey(threadID, turnID, msg.Role)
	if _, closer, err := s.db.Get(marker); err == nil {
		closer.Close()
		return ErrAlreadyExists
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return err
	}

	now := time.Now().UTC()
	th, err := s.getThread(threadID)
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

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(msgKey(threadID, msg.ID), msgData, nil); err != nil {
		return err
	}
	if err := b.Set(marker, []byte(msg.ID), nil); err != nil {
		return err
	}
	if err := b.Set(metaKey(threadID), thData, nil); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}

	s.log.Debug().
		Str("thread_id", threadID).
		Str("turn_id", turnID).
		Str("role", string(msg.Role)).
		Msg("message appended")
	return nil
}

func (s *PebbleStore) GetHistory(ctx context.Context, threadID string) ([]domain.Message, error) {
	if s.db == nil {
		return nil, ErrClosed
	}

	th, err := s.getThread(threadID)
	if err != nil {
		return nil, err
	}
	if th.Deleted {
		return nil, ErrThreadNotFound
	}

	prefix := msgPrefix(threadID)
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var msgs []domain.Message
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m domain.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, fmt.Errorf("corrupt message at %s: %w", iter.Key(), err)
		}
		msgs = append(msgs, m)
	}
	return msgs, iter.Error()
}

func (s *PebbleStore) ListThreads(ctx context.Context) ([]domain.Thread, error) {
	if s.db == nil {
		return nil, ErrClosed
	}

	prefix := []byte("thread:")
	suffix := []byte(":meta")
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var threads []domain.Thread
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if !bytes.HasSuffix(iter.Key(), suffix) {
			continue
		}
		var th domain.Thread
		if err := json.Unmarshal(iter.Value(), &th); err != nil {
			return nil, fmt.Errorf("corrupt thread meta at %s: %w", iter.Key(), err)
		}
		if th.Deleted {
			continue
		}
		threads = append(threads, th)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	sort.Slice(threads, func(i, j int) bool {
		return threads[i].UpdatedAt.After(threads[j].UpdatedAt)
	})
	return threads, nil
}

func (s *PebbleStore) Delete(ctx context.Context, threadID string) error {
	if s.db == nil {
		return ErrClosed
	}

	th, err := s.getThread(threadID)
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
	if err := s.db.Set(metaKey(threadID), data, pebble.Sync); err != nil {
		return err
	}

	s.log.Info().Str("thread_id", threadID).Msg("thread tombstoned")
	return nil
}

// Purge removes every tombstoned thread whose deletion predates
// olderThan, messages and markers included. Returns the purge count.
func (s *PebbleStore) Purge(ctx context.Context, olderThan time.Time) (int, error) {
	if s.db == nil {
		return 0, ErrClosed
	}

	all, err := s.listAllThreads()
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, th := range all {
		if !th.Deleted || th.DeletedAt.After(olderThan) {
			continue
		}
		start, end := threadBounds(th.ID)
		if err := s.db.DeleteRange(start, end, pebble.Sync); err != nil {
			return purged, fmt.Errorf("purge thread %s: %w", th.ID, err)
		}
		purged++
		s.log.Info().Str("thread_id", th.ID).Msg("tombstoned thread purged")
	}
	return purged, nil
}

func (s *PebbleStore) listAllThreads() ([]domain.Thread, error) {
	prefix := []byte("thread:")
	suffix := []byte(":meta")
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var threads []domain.Thread
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if !bytes.HasSuffix(iter.Key(), suffix) {
			continue
		}
		var th domain.Thread
		if err := json.Unmarshal(iter.Value(), &th); err != nil {
			return nil, fmt.Errorf("corrupt thread meta at %s: %w", iter.Key(), err)
		}
		threads = append(threads, th)
	}
	return threads, iter.Error()
}
