package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/ollama/ollama/api"
)

type OllamaProvider struct {
	client *api.Client
	model  string
}

func NewOllamaProvider(model string) (*OllamaProvider, error) {
	if model == "" {
		model = "llama3.2"
	}

	baseURL := "http://localhost:11434"
	if envURL := os.Getenv("OLLAMA_HOST"); envURL != "" {
		baseURL = envURL
	}
	uri, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid OLLAMA_HOST: %w", err)
	}
	client := api.NewClient(uri, http.DefaultClient)

	return &OllamaProvider{
		client: client,
		model:  model,
	}, nil
}

func (p *OllamaProvider) Name() string {
	return "ollama"
}

func (p *OllamaProvider) Stream(ctx context.Context, req Request, fn Handler) error {
	msgs := FlattenToolTurns(req.Messages)
	apiMsgs := make([]api.Message, 0, len(msgs)+1)
	if req.System != "" {
		apiMsgs = append(apiMsgs, api.Message{Role: "system", Content: req.System})
	}
	for _, m := range msgs {
		apiMsgs = append(apiMsgs, api.Message{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	var tools []api.Tool
	for _, t := range req.Tools {
		props := api.NewToolPropertiesMap()
		var required []string
		for _, param := range t.Params {
			props.Set(param.Name, api.ToolProperty{
				Type:        api.PropertyType{param.Type},
				Description: param.Description,
			})
			if param.Required {
				required = append(required, param.Name)
			}
		}
		tools = append(tools, api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters: api.ToolFunctionParameters{
					Type:       "object",
					Properties: props,
					Required:   required,
				},
			},
		})
	}

	chatReq := &api.ChatRequest{
		Model:    p.model,
		Messages: apiMsgs,
		Tools:    tools,
	}
	if req.MaxTokens > 0 {
		chatReq.Options = map[string]any{"num_predict": req.MaxTokens}
	}

	var usage Usage
	toolIndex := 0
	err := p.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		if resp.Message.Content != "" {
			if err := fn(Event{Type: EventText, Text: resp.Message.Content}); err != nil {
				return err
			}
		}
		for _, tc := range resp.Message.ToolCalls {
			argsBytes, err := json.Marshal(tc.Function.Arguments)
			if err != nil {
				return fmt.Errorf("ollama tool args: %w", err)
			}
			if err := fn(Event{Type: EventToolStart, Index: toolIndex, ToolID: "call_" + tc.Function.Name, ToolName: tc.Function.Name}); err != nil {
				return err
			}
			if err := fn(Event{Type: EventToolDelta, Index: toolIndex, PartialJSON: string(argsBytes)}); err != nil {
				return err
			}
			toolIndex++
		}
		if resp.Done {
			usage = Usage{
				PromptTokens:     resp.PromptEvalCount,
				CompletionTokens: resp.EvalCount,
				TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ollama chat failed: %w", err)
	}

	return fn(Event{Type: EventDone, Usage: usage})
}

func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	req := &api.EmbeddingRequest{
		Model:  p.model,
		Prompt: text,
	}
	resp, err := p.client.Embeddings(ctx, req)
	if err != nil {
		return nil, err
	}
	vec := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}
