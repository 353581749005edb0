package ai

import (
	"context"
	"fmt"
	"io"
	"iter"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/parleyhq/parley/internal/domain"
)

// Gemini streams completions from the Gemini API. Turns carrying an
// image reference are sent multimodal with the image bytes inlined.
type Gemini struct {
	client *genai.Client
	model  string
	log    zerolog.Logger
}

var _ Streamer = (*Gemini)(nil)

func NewGemini(ctx context.Context, apiKey, model string, log zerolog.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: GEMINI_API_KEY is empty", ErrNotConfigured)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &Gemini{client: client, model: model, log: log}, nil
}

func (g *Gemini) StartStream(ctx context.Context, p Prompt) (Stream, error) {
	contents, err := buildGeminiContents(p)
	if err != nil {
		return nil, err
	}

	var cfg *genai.GenerateContentConfig
	if instr := p.Instruction(); instr != "" {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(instr, genai.RoleUser),
		}
	}

	g.log.Debug().Str("model", g.model).Int("history", len(p.History)).Msg("starting gemini stream")

	streamCtx, cancel := context.WithCancel(ctx)
	next, stop := iter.Pull2(g.client.Models.GenerateContentStream(streamCtx, g.model, contents, cfg))
	return &geminiStream{next: next, stop: stop, cancel: cancel}, nil
}

func buildGeminiContents(p Prompt) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(p.History)+1)
	for _, m := range p.History {
		role := genai.Role(genai.RoleUser)
		if m.Role == domain.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Text, role))
	}

	if p.ImagePath == "" {
		return append(contents, genai.NewContentFromText(p.Text, genai.RoleUser)), nil
	}

	data, err := os.ReadFile(p.ImagePath)
	if err != nil {
		return nil, fmt.Errorf("read image %s: %w", p.ImagePath, err)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(p.ImagePath))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	parts := []*genai.Part{
		genai.NewPartFromText(p.Text),
		genai.NewPartFromBytes(data, mimeType),
	}
	return append(contents, genai.NewContentFromParts(parts, genai.RoleUser)), nil
}

// geminiStream adapts the SDK's push iterator to the pull contract.
// iter.Pull2 runs the underlying range-over-func lazily, so a fragment
// is only produced when Recv asks for it.
type geminiStream struct {
	next    func() (*genai.GenerateContentResponse, error, bool)
	stop    func()
	cancel  context.CancelFunc
	abandon sync.Once
}

func (s *geminiStream) Recv() (string, error) {
	for {
		resp, err, ok := s.next()
		if !ok {
			return "", io.EOF
		}
		if err != nil {
			return "", fmt.Errorf("gemini stream: %w", err)
		}
		// Chunks carrying only metadata (safety ratings, usage) have no
		// text; skip to the next one.
		if text := resp.Text(); text != "" {
			return text, nil
		}
	}
}

func (s *geminiStream) Abandon() {
	s.abandon.Do(func() {
		s.cancel()
		s.stop()
	})
}
