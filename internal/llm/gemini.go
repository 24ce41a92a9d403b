package llm

import (
	"context"
	"strings"
	"time"

	"google.golang.org/genai"
)

// GoogleProvider implements Provider over the Gemini API via the
// official genai SDK. The client is created per call because the SDK
// binds it to a context.
type GoogleProvider struct {
	apiKey  string
	model   string
	costIn  float64
	costOut float64
}

// NewGoogleProvider builds the Gemini adapter.
func NewGoogleProvider(apiKey, model string) *GoogleProvider {
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GoogleProvider{
		apiKey:  apiKey,
		model:   model,
		costIn:  0.0001,
		costOut: 0.0004,
	}
}

func (p *GoogleProvider) Name() string { return "google" }

func (p *GoogleProvider) CostPerToken() (float64, float64) { return p.costIn, p.costOut }

func (p *GoogleProvider) RateLimit() *RateLimit {
	return &RateLimit{RequestsPerMin: 60, TokensPerMin: 120000}
}

func (p *GoogleProvider) newClient(ctx context.Context) (*genai.Client, error) {
	return genai.NewClient(ctx, &genai.ClientConfig{APIKey: p.apiKey})
}

func (p *GoogleProvider) buildContents(req ChatRequest) (string, []*genai.Content, *genai.GenerateContentConfig) {
	var system string
	var contents []*genai.Content
	for _, m := range req.Conversation() {
		switch m.Role {
		case RoleSystem:
			system = m.Content
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	return system, contents, config
}

func (p *GoogleProvider) chooseModel(req ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.model
}

// Complete performs a blocking GenerateContent call.
func (p *GoogleProvider) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	client, err := p.newClient(ctx)
	if err != nil {
		return nil, WrapProviderError("google", err)
	}
	_, contents, config := p.buildContents(req)
	start := time.Now()
	resp, err := client.Models.GenerateContent(ctx, p.chooseModel(req), contents, config)
	if err != nil {
		return nil, WrapProviderError("google", err)
	}
	out := &ChatResponse{
		Content:   resp.Text(),
		Model:     p.chooseModel(req),
		Provider:  "google",
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if resp.UsageMetadata != nil {
		out.TokensIn = int(resp.UsageMetadata.PromptTokenCount)
		out.TokensOut = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return nil, NewProviderError("google", ErrContentFiltered, "response blocked by safety filter")
	}
	return out, nil
}

// Stream performs a streaming GenerateContent call.
func (p *GoogleProvider) Stream(ctx context.Context, req ChatRequest) (Stream, error) {
	client, err := p.newClient(ctx)
	if err != nil {
		return nil, WrapProviderError("google", err)
	}
	_, contents, config := p.buildContents(req)
	model := p.chooseModel(req)
	return newDeltaStream(ctx, func(ctx context.Context, out chan<- Delta) error {
		var last *genai.GenerateContentResponse
		for resp, err := range client.Models.GenerateContentStream(ctx, model, contents, config) {
			if err != nil {
				return WrapProviderError("google", err)
			}
			last = resp
			if text := resp.Text(); text != "" {
				select {
				case out <- Delta{ID: resp.ResponseID, Text: text}:
				case <-ctx.Done():
					return WrapProviderError("google", ctx.Err())
				}
			}
		}
		final := Delta{Finished: true}
		if last != nil {
			final.ID = last.ResponseID
			if last.UsageMetadata != nil {
				final.TokensIn = int(last.UsageMetadata.PromptTokenCount)
				final.TokensOut = int(last.UsageMetadata.CandidatesTokenCount)
			}
		}
		select {
		case out <- final:
		case <-ctx.Done():
			return WrapProviderError("google", ctx.Err())
		}
		return nil
	}), nil
}

// ListModels enumerates Gemini models supporting generateContent.
func (p *GoogleProvider) ListModels(ctx context.Context) ([]ModelRecord, error) {
	client, err := p.newClient(ctx)
	if err != nil {
		return nil, WrapProviderError("google", err)
	}
	now := time.Now()
	var records []ModelRecord
	for m, err := range client.Models.All(ctx) {
		if err != nil {
			return nil, WrapProviderError("google", err)
		}
		name := strings.TrimPrefix(m.Name, "models/")
		ctxLen := int(m.InputTokenLimit)
		if ctxLen < 1 {
			ctxLen = 32768
		}
		records = append(records, ModelRecord{
			ID:            ModelID("google", name),
			Provider:      "google",
			Name:          name,
			DisplayName:   m.DisplayName,
			ContextLength: ctxLen,
			Capabilities:  CapChat | CapCode | CapVision,
			CostInPer1K:   p.costIn,
			CostOutPer1K:  p.costOut,
			SuccessRate:   1.0,
			Available:     true,
			LastChecked:   now,
		})
	}
	return records, nil
}
