package llm

import (
	"context"
	"errors"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider implements Provider over the official OpenAI API via
// the vendor SDK. The compatible-endpoint family (xAI, Azure, Copilot,
// proxy) lives in CompatProvider; this adapter is the canonical one.
type OpenAIProvider struct {
	client  openai.Client
	model   string
	costIn  float64
	costOut float64
}

// NewOpenAIProvider builds the adapter. endpoint overrides the API base
// URL when set (ZEKE_OPENAI_ENDPOINT).
func NewOpenAIProvider(apiKey, model, endpoint string) *OpenAIProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHeader("User-Agent", userAgent),
	}
	if endpoint != "" {
		opts = append(opts, option.WithBaseURL(endpoint))
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIProvider{
		client:  openai.NewClient(opts...),
		model:   model,
		costIn:  0.00015,
		costOut: 0.0006,
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) CostPerToken() (float64, float64) { return p.costIn, p.costOut }

func (p *OpenAIProvider) RateLimit() *RateLimit {
	return &RateLimit{RequestsPerMin: 500, TokensPerMin: 200000}
}

func (p *OpenAIProvider) buildParams(req ChatRequest, stream bool) openai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = p.model
	}
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
	}
	for _, m := range req.Conversation() {
		switch m.Role {
		case RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case RoleAssistant:
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		}
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if stream {
		params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		}
	}
	return params
}

func mapOpenAIError(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return errorFromStatus("openai", apierr.StatusCode, apierr.Error())
	}
	return WrapProviderError("openai", err)
}

// Complete performs a blocking chat completion.
func (p *OpenAIProvider) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()
	resp, err := p.client.Chat.Completions.New(ctx, p.buildParams(req, false))
	if err != nil {
		return nil, mapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, NewProviderError("openai", ErrInvalidResponse, "completion response has no choices")
	}
	choice := resp.Choices[0]
	if choice.FinishReason == "content_filter" {
		return nil, NewProviderError("openai", ErrContentFiltered, "response blocked by upstream content filter")
	}
	return &ChatResponse{
		Content:   choice.Message.Content,
		Model:     resp.Model,
		Provider:  "openai",
		TokensIn:  int(resp.Usage.PromptTokens),
		TokensOut: int(resp.Usage.CompletionTokens),
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// Stream performs a streaming chat completion.
func (p *OpenAIProvider) Stream(ctx context.Context, req ChatRequest) (Stream, error) {
	params := p.buildParams(req, true)
	return newDeltaStream(ctx, func(ctx context.Context, out chan<- Delta) error {
		stream := p.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()
		var id string
		var tokensIn, tokensOut int
		for stream.Next() {
			chunk := stream.Current()
			if id == "" {
				id = chunk.ID
			}
			if chunk.Usage.CompletionTokens > 0 || chunk.Usage.PromptTokens > 0 {
				tokensIn = int(chunk.Usage.PromptTokens)
				tokensOut = int(chunk.Usage.CompletionTokens)
			}
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					select {
					case out <- Delta{ID: id, Text: choice.Delta.Content}:
					case <-ctx.Done():
						return WrapProviderError("openai", ctx.Err())
					}
				}
				if choice.FinishReason == "content_filter" {
					return NewProviderError("openai", ErrContentFiltered, "response blocked by upstream content filter")
				}
			}
		}
		if err := stream.Err(); err != nil {
			return mapOpenAIError(err)
		}
		select {
		case out <- Delta{ID: id, Finished: true, TokensIn: tokensIn, TokensOut: tokensOut}:
		case <-ctx.Done():
			return WrapProviderError("openai", ctx.Err())
		}
		return nil
	}), nil
}

// ListModels queries the /models endpoint through the SDK.
func (p *OpenAIProvider) ListModels(ctx context.Context) ([]ModelRecord, error) {
	page, err := p.client.Models.List(ctx)
	if err != nil {
		return nil, mapOpenAIError(err)
	}
	now := time.Now()
	var records []ModelRecord
	for _, m := range page.Data {
		records = append(records, ModelRecord{
			ID:            ModelID("openai", m.ID),
			Provider:      "openai",
			Name:          m.ID,
			ContextLength: contextLengthForModel(m.ID),
			Capabilities:  CapChat | CapCode | CapTools,
			CostInPer1K:   p.costIn,
			CostOutPer1K:  p.costOut,
			SuccessRate:   1.0,
			Available:     true,
			LastChecked:   now,
		})
	}
	return records, nil
}
