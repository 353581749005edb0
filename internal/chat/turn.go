package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/parleyhq/parley/internal/ai"
	"github.com/parleyhq/parley/internal/domain"
	"github.com/parleyhq/parley/internal/metrics"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/pkg/wire"
)

// Turn drives one user-input/assistant-output exchange: it composes the
// prompt from history, pulls fragments from the AI stream, forwards
// them with per-turn sequence numbers, and commits the exchange on
// completion. A turn runs on its own goroutine and observes
// cancellation at its suspension points: the stream pull, the outbound
// queue send, and the store append.
type Turn struct {
	ID       string
	ThreadID string

	userText  string
	imageRef  string
	imagePath string
	language  string

	store    store.ThreadStore
	streamer ai.Streamer
	emit     func(wire.ServerFrame) bool
	onDone   func()
	log      zerolog.Logger

	ctx       context.Context
	cancelFn  context.CancelCauseFunc
	stopTimer context.CancelFunc

	mu    sync.Mutex
	state domain.TurnState

	started time.Time
	done    chan struct{}
}

func (t *Turn) State() domain.TurnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Turn) setState(s domain.TurnState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !domain.CanTransitionTurn(t.state, s) {
		t.log.Warn().
			Str("turn_id", t.ID).
			Str("from", t.state.String()).
			Str("to", s.String()).
			Msg("invalid turn transition ignored")
		return
	}
	t.state = s
}

// Cancel requests cooperative cancellation with the given cause. The
// turn observes it at its next suspension point.
func (t *Turn) Cancel(cause error) {
	t.cancelFn(cause)
}

// Done closes once the turn reached a terminal state and released its
// thread's active slot.
func (t *Turn) Done() <-chan struct{} {
	return t.done
}

func (t *Turn) run() {
	t.started = time.Now()
	defer func() {
		t.stopTimer()
		if t.onDone != nil {
			t.onDone()
		}
		close(t.done)
	}()

	outcome := t.execute()
	metrics.TurnsTotal.WithLabelValues(outcome).Inc()
	metrics.TurnDuration.Observe(time.Since(t.started).Seconds())
}

func (t *Turn) execute() string {
	history, err := t.store.GetHistory(t.ctx, t.ThreadID)
	if err != nil && !errors.Is(err, store.ErrThreadNotFound) {
		if t.ctx.Err() != nil {
			return t.finishCancelled()
		}
		return t.fail("history unavailable: " + err.Error())
	}

	t.setState(domain.TurnDispatched)
	stream, err := t.streamer.StartStream(t.ctx, ai.Prompt{
		Text:      t.userText,
		History:   history,
		Language:  t.language,
		ImagePath: t.imagePath,
	})
	if err != nil {
		if t.ctx.Err() != nil {
			return t.finishCancelled()
		}
		return t.fail(err.Error())
	}

	t.setState(domain.TurnStreaming)
	t.log.Debug().Str("thread_id", t.ThreadID).Str("turn_id", t.ID).Msg("turn streaming")

	var parts []string
	seq := 0
	for {
		select {
		case <-t.ctx.Done():
			stream.Abandon()
			return t.finishCancelled()
		default:
		}

		frag, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Providers surface cancellation as a stream error when the
			// pull was already blocked.
			if t.ctx.Err() != nil {
				stream.Abandon()
				return t.finishCancelled()
			}
			return t.fail(err.Error())
		}

		if !t.emit(wire.Fragment(t.ThreadID, seq, frag)) {
			stream.Abandon()
			return t.finishCancelled()
		}
		parts = append(parts, frag)
		seq++
		metrics.FragmentsStreamed.Inc()
	}

	t.setState(domain.TurnFinalizing)
	full := strings.Join(parts, "")
	if err := t.commit(full); err != nil {
		if t.ctx.Err() != nil {
			return t.finishCancelled()
		}
		return t.fail("persist failed: " + err.Error())
	}
	return t.complete(full)
}

// commit appends the exchange, both messages keyed by the turn id. A
// duplicate append (retry after an ambiguous store response) reports
// ErrAlreadyExists and is skipped, keeping finalize idempotent.
func (t *Turn) commit(fullText string) error {
	now := time.Now().UTC()

	user := domain.Message{
		ID:        ulid.Make().String(),
		Role:      domain.RoleUser,
		Text:      t.userText,
		ImageRef:  t.imageRef,
		CreatedAt: now,
	}
	if err := t.store.Append(t.ctx, t.ThreadID, t.ID, user); err != nil && !errors.Is(err, store.ErrAlreadyExists) {
		return err
	}

	assistant := domain.Message{
		ID:        ulid.Make().String(),
		Role:      domain.RoleAssistant,
		Text:      fullText,
		CreatedAt: now,
	}
	if err := t.store.Append(t.ctx, t.ThreadID, t.ID, assistant); err != nil && !errors.Is(err, store.ErrAlreadyExists) {
		return err
	}
	return nil
}

func (t *Turn) complete(fullText string) string {
	t.setState(domain.TurnCompleted)
	t.emit(wire.Completed(t.ThreadID, fullText))
	t.log.Info().Str("thread_id", t.ThreadID).Str("turn_id", t.ID).Msg("turn completed")
	return "completed"
}

func (t *Turn) fail(reason string) string {
	t.setState(domain.TurnFailed)
	t.emit(wire.Failed(t.ThreadID, reason))
	t.log.Warn().Str("thread_id", t.ThreadID).Str("turn_id", t.ID).Str("reason", reason).Msg("turn failed")
	return "failed"
}

func (t *Turn) finishCancelled() string {
	if errors.Is(context.Cause(t.ctx), context.DeadlineExceeded) {
		return t.fail("deadline_exceeded")
	}
	t.setState(domain.TurnCancelled)
	t.emit(wire.Cancelled(t.ThreadID))
	t.log.Info().Str("thread_id", t.ThreadID).Str("turn_id", t.ID).Msg("turn cancelled")
	return "cancelled"
}
