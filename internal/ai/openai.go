package ai

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/packages/ssestream"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"
	"github.com/rs/zerolog"
)

// OpenAI streams completions from the Responses API. Image references
// are ignored on this provider; turns are text only.
type OpenAI struct {
	client openai.Client
	model  string
	log    zerolog.Logger
}

var _ Streamer = (*OpenAI)(nil)

func NewOpenAI(apiKey, model string, log zerolog.Logger) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY is empty", ErrNotConfigured)
	}
	return &OpenAI{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
		log:    log,
	}, nil
}

func (o *OpenAI) StartStream(ctx context.Context, p Prompt) (Stream, error) {
	input := make(responses.ResponseInputParam, 0, len(p.History)+1)
	for _, m := range p.History {
		input = append(input, inputMessage(string(m.Role), m.Text))
	}
	input = append(input, inputMessage("user", p.Text))

	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(o.model),
		Input: responses.ResponseNewParamsInputUnion{OfInputItemList: input},
	}
	if instr := p.Instruction(); instr != "" {
		params.Instructions = param.NewOpt(instr)
	}

	o.log.Debug().Str("model", o.model).Int("history", len(p.History)).Msg("starting openai stream")

	stream := o.client.Responses.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai stream start: %w", err)
	}
	return &openaiStream{stream: stream}, nil
}

func inputMessage(role, text string) responses.ResponseInputItemUnionParam {
	return responses.ResponseInputItemUnionParam{
		OfMessage: &responses.EasyInputMessageParam{
			Role:    responses.EasyInputMessageRole(role),
			Content: responses.EasyInputMessageContentUnionParam{OfString: param.NewOpt(text)},
		},
	}
}

type openaiStream struct {
	stream  *ssestream.Stream[responses.ResponseStreamEventUnion]
	abandon sync.Once
}

func (s *openaiStream) Recv() (string, error) {
	for s.stream.Next() {
		data := s.stream.Current()
		switch data.AsAny().(type) {
		case responses.ResponseTextDeltaEvent:
			if data.Delta != "" {
				return data.Delta, nil
			}
		default:
			// Lifecycle events (created, in_progress, done) carry no text.
		}
	}
	if err := s.stream.Err(); err != nil {
		return "", fmt.Errorf("openai stream: %w", err)
	}
	return "", io.EOF
}

func (s *openaiStream) Abandon() {
	s.abandon.Do(func() {
		_ = s.stream.Close()
	})
}
