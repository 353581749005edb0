// Package ai wraps the streaming text-generation providers behind one
// pull-based interface.
package ai

import (
	"context"
	"errors"

	"github.com/parleyhq/parley/internal/domain"
)

var (
	// ErrNotConfigured means the selected provider is missing its API key
	// or lookup table.
	ErrNotConfigured = errors.New("provider not configured")

	// ErrNoMatch is returned by the canned provider when the prompt has
	// no table entry.
	ErrNoMatch = errors.New("no canned response for prompt")
)

// Prompt carries one turn's input: the new user text, the prior
// conversation, an optional response-language hint and an optional
// local path to an uploaded image.
type Prompt struct {
	Text      string
	History   []domain.Message
	Language  string
	ImagePath string
}

// Instruction renders the language hint as a system-level instruction,
// or "" when no hint was given.
func (p Prompt) Instruction() string {
	if p.Language == "" {
		return ""
	}
	return "Respond in " + p.Language + "."
}

// Stream is a lazy, finite, non-restartable fragment sequence. Recv
// blocks for the next fragment and returns io.EOF after the last one;
// any other error means the stream died upstream. Abandon tells the
// producer to stop; it is idempotent and safe after EOF. Recv and
// Abandon are called from the consuming goroutine only.
type Stream interface {
	Recv() (string, error)
	Abandon()
}

// Streamer starts one generation stream per call.
type Streamer interface {
	StartStream(ctx context.Context, p Prompt) (Stream, error)
}
