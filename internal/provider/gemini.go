package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

type GeminiProvider struct {
	client     *genai.Client
	model      string
	embedModel string
}

func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, errors.New("API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	if model == "" {
		model = "gemini-1.5-pro-latest"
	}

	return &GeminiProvider{
		client:     client,
		model:      model,
		embedModel: "text-embedding-004",
	}, nil
}

// WithEmbeddingModel overrides the model used by Embed.
func (p *GeminiProvider) WithEmbeddingModel(model string) *GeminiProvider {
	if model != "" {
		p.embedModel = model
	}
	return p
}

func (p *GeminiProvider) Name() string {
	return "gemini"
}

var geminiTypes = map[string]genai.Type{
	"string":  genai.TypeString,
	"boolean": genai.TypeBoolean,
	"number":  genai.TypeNumber,
}

func (p *GeminiProvider) Stream(ctx context.Context, req Request, fn Handler) error {
	msgs := FlattenToolTurns(req.Messages)
	if len(msgs) == 0 {
		return errors.New("gemini: no messages")
	}

	geminiModel := p.client.GenerativeModel(p.model)
	if req.System != "" {
		geminiModel.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	if req.MaxTokens > 0 {
		geminiModel.SetMaxOutputTokens(int32(req.MaxTokens))
	}

	for _, t := range req.Tools {
		schema := &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}}
		for _, param := range t.Params {
			schema.Properties[param.Name] = &genai.Schema{Type: geminiTypes[param.Type], Description: param.Description}
			if param.Required {
				schema.Required = append(schema.Required, param.Name)
			}
		}
		geminiModel.Tools = append(geminiModel.Tools, &genai.Tool{
			FunctionDeclarations: []*genai.FunctionDeclaration{{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			}},
		})
	}

	cs := geminiModel.StartChat()
	for _, m := range msgs[:len(msgs)-1] {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		cs.History = append(cs.History, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}

	iter := cs.SendMessageStream(ctx, genai.Text(msgs[len(msgs)-1].Content))
	var usage Usage
	toolIndex := 0
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return fmt.Errorf("gemini stream: %w", err)
		}
		if resp.UsageMetadata != nil {
			usage = Usage{
				PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
				CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
				TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
			}
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}

		for _, part := range resp.Candidates[0].Content.Parts {
			switch v := part.(type) {
			case genai.Text:
				if err := fn(Event{Type: EventText, Text: string(v)}); err != nil {
					return err
				}
			case genai.FunctionCall:
				args, err := json.Marshal(v.Args)
				if err != nil {
					return fmt.Errorf("gemini function args: %w", err)
				}
				if err := fn(Event{Type: EventToolStart, Index: toolIndex, ToolID: v.Name, ToolName: v.Name}); err != nil {
					return err
				}
				if err := fn(Event{Type: EventToolDelta, Index: toolIndex, PartialJSON: string(args)}); err != nil {
					return err
				}
				toolIndex++
			}
		}
	}

	return fn(Event{Type: EventDone, Usage: usage})
}

func (p *GeminiProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	em := p.client.EmbeddingModel(p.embedModel)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, err
	}
	if res.Embedding == nil {
		return nil, fmt.Errorf("no embedding returned")
	}
	return res.Embedding.Values, nil
}

// Close releases the underlying client.
func (p *GeminiProvider) Close() error {
	return p.client.Close()
}
