package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// cannedChunkWords is how many words go into each streamed fragment, so
// canned replies arrive the same way model replies do.
const cannedChunkWords = 4

// Canned serves replies from a lookup table. Matching is exact on the
// trimmed, lowercased prompt text.
type Canned struct {
	responses map[string]string
	fallback  string
}

var _ Streamer = (*Canned)(nil)

type cannedFile struct {
	Responses map[string]string `yaml:"responses"`
	Default   string            `yaml:"default,omitempty"`
}

// NewCanned loads the lookup table from a YAML file:
//
//	responses:
//	  "hello": "Hi! How can I help you today?"
//	default: "I don't have an answer for that yet."
//
// An empty default makes unmatched prompts fail with ErrNoMatch.
func NewCanned(path string) (*Canned, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read canned responses: %w", err)
	}

	var file cannedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse canned responses %s: %w", path, err)
	}
	if len(file.Responses) == 0 && file.Default == "" {
		return nil, fmt.Errorf("%w: %s defines no responses", ErrNotConfigured, path)
	}

	return NewCannedFromMap(file.Responses, file.Default), nil
}

// NewCannedFromMap builds a table directly, normalizing keys the same
// way lookups are normalized.
func NewCannedFromMap(responses map[string]string, fallback string) *Canned {
	normalized := make(map[string]string, len(responses))
	for k, v := range responses {
		normalized[normalizeKey(k)] = v
	}
	return &Canned{responses: normalized, fallback: fallback}
}

func normalizeKey(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// Lookup returns the canned reply for the given prompt text, if any.
func (c *Canned) Lookup(text string) (string, bool) {
	reply, ok := c.responses[normalizeKey(text)]
	return reply, ok
}

func (c *Canned) StartStream(ctx context.Context, p Prompt) (Stream, error) {
	reply, ok := c.Lookup(p.Text)
	if !ok {
		if c.fallback == "" {
			return nil, ErrNoMatch
		}
		reply = c.fallback
	}
	return newCannedStream(reply), nil
}

// cannedStream replays a fixed reply in word chunks that concatenate
// back to the exact original text.
type cannedStream struct {
	chunks    []string
	pos       int
	abandoned atomic.Bool
}

func newCannedStream(reply string) *cannedStream {
	words := strings.SplitAfter(reply, " ")
	var chunks []string
	for len(words) > 0 {
		n := cannedChunkWords
		if n > len(words) {
			n = len(words)
		}
		chunks = append(chunks, strings.Join(words[:n], ""))
		words = words[n:]
	}
	return &cannedStream{chunks: chunks}
}

func (s *cannedStream) Recv() (string, error) {
	if s.abandoned.Load() || s.pos >= len(s.chunks) {
		return "", io.EOF
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *cannedStream) Abandon() {
	s.abandoned.Store(true)
}

// Fallback asks the canned table first and falls through to the model
// for anything the table does not cover.
type Fallback struct {
	canned *Canned
	model  Streamer
}

var _ Streamer = (*Fallback)(nil)

func NewFallback(canned *Canned, model Streamer) *Fallback {
	return &Fallback{canned: canned, model: model}
}

func (f *Fallback) StartStream(ctx context.Context, p Prompt) (Stream, error) {
	if reply, ok := f.canned.Lookup(p.Text); ok {
		return newCannedStream(reply), nil
	}
	if f.model == nil {
		return nil, errors.New("no model behind canned fallback")
	}
	return f.model.StartStream(ctx, p)
}
