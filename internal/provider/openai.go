package provider

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

type OpenAIProvider struct {
	client     *openai.Client
	model      string
	embedModel openai.EmbeddingModel
	name       string
}

// NewOpenAIProvider also serves OpenAI-compatible endpoints such as Grok via
// baseURL; name is then used for budgets and metrics.
func NewOpenAIProvider(apiKey, baseURL, model string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("API key is required")
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}

	client := openai.NewClientWithConfig(config)
	if model == "" {
		model = openai.GPT4o
	}

	return &OpenAIProvider{
		client:     client,
		model:      model,
		embedModel: openai.SmallEmbedding3,
		name:       "openai",
	}, nil
}

// WithName overrides the reported provider name.
func (p *OpenAIProvider) WithName(name string) *OpenAIProvider {
	p.name = name
	return p
}

// WithEmbeddingModel overrides the model used by Embed.
func (p *OpenAIProvider) WithEmbeddingModel(model string) *OpenAIProvider {
	if model != "" {
		p.embedModel = openai.EmbeddingModel(model)
	}
	return p
}

func (p *OpenAIProvider) Name() string {
	return p.name
}

func (p *OpenAIProvider) Stream(ctx context.Context, req Request, fn Handler) error {
	msgs := FlattenToolTurns(req.Messages)
	reqMsgs := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if req.System != "" {
		reqMsgs = append(reqMsgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range msgs {
		reqMsgs = append(reqMsgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	var tools []openai.Tool
	for _, t := range req.Tools {
		props, required := t.Schema()
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters: map[string]any{
					"type":       "object",
					"properties": props,
					"required":   required,
				},
			},
		})
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:         p.model,
		Messages:      reqMsgs,
		Tools:         tools,
		MaxTokens:     req.MaxTokens,
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	})
	if err != nil {
		return fmt.Errorf("openai completion failed: %w", err)
	}
	defer stream.Close()

	var usage Usage
	var stopReason string
	started := map[int]bool{}
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("openai stream: %w", err)
		}
		if resp.Usage != nil {
			usage = Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			}
		}
		if len(resp.Choices) == 0 {
			continue
		}

		choice := resp.Choices[0]
		if choice.FinishReason != "" {
			stopReason = string(choice.FinishReason)
		}
		if choice.Delta.Content != "" {
			if err := fn(Event{Type: EventText, Text: choice.Delta.Content}); err != nil {
				return err
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			if !started[idx] {
				started[idx] = true
				if err := fn(Event{Type: EventToolStart, Index: idx, ToolID: tc.ID, ToolName: tc.Function.Name}); err != nil {
					return err
				}
			}
			if tc.Function.Arguments != "" {
				if err := fn(Event{Type: EventToolDelta, Index: idx, PartialJSON: tc.Function.Arguments}); err != nil {
					return err
				}
			}
		}
	}

	return fn(Event{Type: EventDone, Usage: usage, StopReason: stopReason})
}

func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.CreateEmbeddings(
		ctx,
		openai.EmbeddingRequest{
			Input: []string{text},
			Model: p.embedModel,
		},
	)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return resp.Data[0].Embedding, nil
}
