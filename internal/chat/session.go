package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/parleyhq/parley/internal/ai"
	"github.com/parleyhq/parley/internal/metrics"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/pkg/wire"
)

// Cancellation causes recorded on a turn context so terminal frames can
// tell client-driven cancellation apart from connection teardown.
var (
	ErrThreadDeleted = errors.New("thread deleted")
	ErrSessionClosed = errors.New("session closed")
)

// SessionConfig carries the per-connection tunables.
type SessionConfig struct {
	// TurnTimeout bounds a single turn end to end. Zero disables the
	// deadline.
	TurnTimeout time.Duration

	// OutboundBuffer is the capacity of the fan-in queue feeding the
	// socket writer. Producers block when it is full.
	OutboundBuffer int

	// ResolveImage maps an upload reference to a local file path. Nil
	// means image references are ignored.
	ResolveImage func(ref string) (string, error)
}

// Session multiplexes the threads of one client connection. Inbound
// frames are routed by thread id, at most one turn runs per thread,
// and all turn output funnels into a single bounded outbound queue in
// per-thread order. Route must be called from a single goroutine (the
// connection's read loop); Close and CancelThread may be called from
// anywhere.
type Session struct {
	id       string
	store    store.ThreadStore
	streamer ai.Streamer
	cfg      SessionConfig
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	out chan wire.ServerFrame

	mu      sync.Mutex
	active  map[string]*Turn
	touched map[string]struct{}
	deleted map[string]struct{}
	closed  bool

	wg sync.WaitGroup
}

func NewSession(parent context.Context, id string, st store.ThreadStore, streamer ai.Streamer, cfg SessionConfig, log zerolog.Logger) *Session {
	if cfg.OutboundBuffer <= 0 {
		cfg.OutboundBuffer = 64
	}
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		id:       id,
		store:    st,
		streamer: streamer,
		cfg:      cfg,
		log:      log.With().Str("session_id", id).Logger(),
		ctx:      ctx,
		cancel:   cancel,
		out:      make(chan wire.ServerFrame, cfg.OutboundBuffer),
		active:   make(map[string]*Turn),
		touched:  make(map[string]struct{}),
		deleted:  make(map[string]struct{}),
	}
}

func (s *Session) ID() string { return s.id }

// Outbound is the fan-in queue of frames destined for the socket. It
// closes after Close has drained every running turn.
func (s *Session) Outbound() <-chan wire.ServerFrame {
	return s.out
}

// ReportProtocolError queues a protocol_error frame for the socket
// writer. Used by the connection supervisor for frames it could not
// even decode.
func (s *Session) ReportProtocolError(threadID, reason string) {
	s.publish(wire.ProtocolError(threadID, reason))
}

// Route dispatches one inbound frame. Delete frames cancel and
// tombstone their thread; message frames start a turn unless one is
// already running for that thread.
func (s *Session) Route(frame wire.ClientFrame) {
	if frame.Delete {
		metrics.FramesInbound.WithLabelValues("delete").Inc()
		s.handleDelete(frame.ThreadID)
		return
	}
	s.handleMessage(frame)
}

func (s *Session) handleMessage(frame wire.ClientFrame) {
	if frame.Text == "" {
		metrics.FramesInbound.WithLabelValues("rejected").Inc()
		s.publish(wire.ProtocolError(frame.ThreadID, "text is required"))
		return
	}

	threadID := frame.ThreadID
	allocated := false
	if threadID == "" {
		threadID = ulid.Make().String()
		allocated = true
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, gone := s.deleted[threadID]; gone {
		s.mu.Unlock()
		metrics.FramesInbound.WithLabelValues("rejected").Inc()
		s.publish(wire.ProtocolError(threadID, "thread deleted"))
		return
	}
	if _, running := s.active[threadID]; running {
		s.mu.Unlock()
		metrics.FramesInbound.WithLabelValues("rejected").Inc()
		s.publish(wire.ProtocolError(threadID, "turn in progress"))
		return
	}
	_, known := s.touched[threadID]
	s.mu.Unlock()

	// A thread id this connection has not seen must already exist in
	// the store; otherwise the client is talking to a thread that was
	// never created here.
	if !allocated && !known {
		if _, err := s.store.GetHistory(s.ctx, threadID); err != nil {
			metrics.FramesInbound.WithLabelValues("rejected").Inc()
			if errors.Is(err, store.ErrThreadNotFound) {
				s.publish(wire.ProtocolError(threadID, "unknown thread"))
			} else {
				s.log.Error().Err(err).Str("thread_id", threadID).Msg("store lookup failed")
				s.publish(wire.ProtocolError(threadID, "store unavailable"))
			}
			return
		}
	}

	imagePath := ""
	if frame.ImageRef != "" && s.cfg.ResolveImage != nil {
		p, err := s.cfg.ResolveImage(frame.ImageRef)
		if err != nil {
			metrics.FramesInbound.WithLabelValues("rejected").Inc()
			s.publish(wire.ProtocolError(threadID, "unknown image_ref"))
			return
		}
		imagePath = p
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, gone := s.deleted[threadID]; gone {
		s.mu.Unlock()
		metrics.FramesInbound.WithLabelValues("rejected").Inc()
		s.publish(wire.ProtocolError(threadID, "thread deleted"))
		return
	}
	if _, running := s.active[threadID]; running {
		s.mu.Unlock()
		metrics.FramesInbound.WithLabelValues("rejected").Inc()
		s.publish(wire.ProtocolError(threadID, "turn in progress"))
		return
	}
	t := s.newTurn(threadID, frame, imagePath)
	s.active[threadID] = t
	s.touched[threadID] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	metrics.FramesInbound.WithLabelValues("accepted").Inc()
	go t.run()
}

func (s *Session) newTurn(threadID string, frame wire.ClientFrame, imagePath string) *Turn {
	turnID := ulid.Make().String()

	ctx, cancelCause := context.WithCancelCause(s.ctx)
	stopTimer := context.CancelFunc(func() {})
	if s.cfg.TurnTimeout > 0 {
		ctx, stopTimer = context.WithTimeout(ctx, s.cfg.TurnTimeout)
	}

	return &Turn{
		ID:        turnID,
		ThreadID:  threadID,
		userText:  frame.Text,
		imageRef:  frame.ImageRef,
		imagePath: imagePath,
		language:  frame.Language,
		store:     s.store,
		streamer:  s.streamer,
		emit:      s.publish,
		onDone: func() {
			s.releaseTurn(threadID)
			s.wg.Done()
		},
		log:       s.log,
		ctx:       ctx,
		cancelFn:  cancelCause,
		stopTimer: stopTimer,
		done:      make(chan struct{}),
	}
}

func (s *Session) releaseTurn(threadID string) {
	s.mu.Lock()
	delete(s.active, threadID)
	s.mu.Unlock()
}

func (s *Session) handleDelete(threadID string) {
	if threadID == "" {
		s.publish(wire.ProtocolError(threadID, "thread_id is required for delete"))
		return
	}

	s.mu.Lock()
	t := s.active[threadID]
	s.deleted[threadID] = struct{}{}
	delete(s.touched, threadID)
	s.mu.Unlock()

	if t != nil {
		t.Cancel(ErrThreadDeleted)
	}
	if err := s.store.Delete(s.ctx, threadID); err != nil && !errors.Is(err, store.ErrThreadNotFound) {
		s.log.Warn().Err(err).Str("thread_id", threadID).Msg("thread delete failed")
	}
}

// CancelThread tombstones a thread deleted outside this connection and
// cancels its running turn, if any. The store row is the caller's
// responsibility.
func (s *Session) CancelThread(threadID string) {
	s.mu.Lock()
	t := s.active[threadID]
	s.deleted[threadID] = struct{}{}
	delete(s.touched, threadID)
	s.mu.Unlock()

	if t != nil {
		t.Cancel(ErrThreadDeleted)
	}
}

// publish enqueues a frame for the socket writer. It blocks while the
// queue is full, pausing the producer instead of dropping, and reports
// false once the session is shutting down.
func (s *Session) publish(f wire.ServerFrame) bool {
	select {
	case s.out <- f:
		metrics.FramesOutbound.WithLabelValues(string(f.Kind)).Inc()
		return true
	case <-s.ctx.Done():
		return false
	}
}

// Close cancels every running turn, waits for them to reach a terminal
// state, then closes the outbound queue. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	turns := make([]*Turn, 0, len(s.active))
	for _, t := range s.active {
		turns = append(turns, t)
	}
	s.mu.Unlock()

	for _, t := range turns {
		t.Cancel(ErrSessionClosed)
	}
	s.cancel()
	s.wg.Wait()
	close(s.out)
}
