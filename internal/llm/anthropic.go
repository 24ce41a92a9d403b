package llm

import (
	"context"
	"errors"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// oauthBetaHeader enables OAuth bearer authentication on the Anthropic
// API (Claude Max tokens from the PKCE flow).
const oauthBetaHeader = "oauth-2025-04-20"

// AnthropicProvider implements Provider over the Anthropic Messages API.
type AnthropicProvider struct {
	client  anthropic.Client
	model   string
	costIn  float64
	costOut float64
}

// NewAnthropicProvider builds an adapter authenticated by API key.
func NewAnthropicProvider(apiKey, model string, opts ...option.RequestOption) *AnthropicProvider {
	options := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHeader("User-Agent", userAgent),
	}, opts...)
	return newAnthropicProvider(anthropic.NewClient(options...), model)
}

// NewAnthropicOAuthProvider builds an adapter authenticated by an OAuth
// access token from the Claude Max PKCE flow. The beta header is
// required on every request.
func NewAnthropicOAuthProvider(token, model string, opts ...option.RequestOption) *AnthropicProvider {
	options := append([]option.RequestOption{
		option.WithAuthToken(token),
		option.WithHeader("anthropic-beta", oauthBetaHeader),
		option.WithHeader("User-Agent", userAgent),
	}, opts...)
	return newAnthropicProvider(anthropic.NewClient(options...), model)
}

func newAnthropicProvider(client anthropic.Client, model string) *AnthropicProvider {
	if model == "" {
		model = "claude-sonnet-4-5"
	}
	return &AnthropicProvider{
		client:  client,
		model:   model,
		costIn:  0.003,
		costOut: 0.015,
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) CostPerToken() (float64, float64) { return p.costIn, p.costOut }

func (p *AnthropicProvider) RateLimit() *RateLimit {
	return &RateLimit{RequestsPerMin: 50, TokensPerMin: 40000}
}

func (p *AnthropicProvider) buildParams(req ChatRequest) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
	}
	var system string
	for _, m := range req.Conversation() {
		switch m.Role {
		case RoleSystem:
			system = m.Content
		case RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	return params
}

// mapAnthropicError converts SDK errors into the tagged taxonomy.
func mapAnthropicError(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return errorFromStatus("anthropic", apierr.StatusCode, apierr.Error())
	}
	return WrapProviderError("anthropic", err)
}

// Complete performs a blocking Messages call.
func (p *AnthropicProvider) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()
	msg, err := p.client.Messages.New(ctx, p.buildParams(req))
	if err != nil {
		return nil, mapAnthropicError(err)
	}
	var content string
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			content += text.Text
		}
	}
	if msg.StopReason == anthropic.StopReasonRefusal {
		return nil, NewProviderError("anthropic", ErrContentFiltered, "response refused by the model")
	}
	return &ChatResponse{
		Content:   content,
		Model:     string(msg.Model),
		Provider:  "anthropic",
		TokensIn:  int(msg.Usage.InputTokens),
		TokensOut: int(msg.Usage.OutputTokens),
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// Stream performs a streaming Messages call, translating SDK events to
// deltas in arrival order.
func (p *AnthropicProvider) Stream(ctx context.Context, req ChatRequest) (Stream, error) {
	params := p.buildParams(req)
	return newDeltaStream(ctx, func(ctx context.Context, out chan<- Delta) error {
		stream := p.client.Messages.NewStreaming(ctx, params)
		var id string
		var tokensIn, tokensOut int
		for stream.Next() {
			event := stream.Current()
			switch variant := event.AsAny().(type) {
			case anthropic.MessageStartEvent:
				id = variant.Message.ID
				tokensIn = int(variant.Message.Usage.InputTokens)
			case anthropic.ContentBlockDeltaEvent:
				if delta, ok := variant.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
					select {
					case out <- Delta{ID: id, Text: delta.Text}:
					case <-ctx.Done():
						return WrapProviderError("anthropic", ctx.Err())
					}
				}
			case anthropic.MessageDeltaEvent:
				if variant.Usage.OutputTokens > 0 {
					tokensOut = int(variant.Usage.OutputTokens)
				}
			}
		}
		if err := stream.Err(); err != nil {
			return mapAnthropicError(err)
		}
		select {
		case out <- Delta{ID: id, Finished: true, TokensIn: tokensIn, TokensOut: tokensOut}:
		case <-ctx.Done():
			return WrapProviderError("anthropic", ctx.Err())
		}
		return nil
	}), nil
}

// ListModels queries the Anthropic model listing endpoint.
func (p *AnthropicProvider) ListModels(ctx context.Context) ([]ModelRecord, error) {
	page, err := p.client.Models.List(ctx, anthropic.ModelListParams{})
	if err != nil {
		return nil, mapAnthropicError(err)
	}
	now := time.Now()
	var records []ModelRecord
	for _, m := range page.Data {
		records = append(records, ModelRecord{
			ID:            ModelID("anthropic", m.ID),
			Provider:      "anthropic",
			Name:          m.ID,
			DisplayName:   m.DisplayName,
			ContextLength: 200000,
			Capabilities:  CapChat | CapCode | CapVision | CapTools | CapReasoning,
			CostInPer1K:   p.costIn,
			CostOutPer1K:  p.costOut,
			SuccessRate:   1.0,
			Available:     true,
			LastChecked:   now,
		})
	}
	return records, nil
}
