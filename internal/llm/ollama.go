package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultOllamaEndpoint is used when neither config nor
// ZEKE_OLLAMA_ENDPOINT overrides it.
const DefaultOllamaEndpoint = "http://localhost:11434"

// OllamaProvider speaks Ollama's native API: /api/generate for
// completions and /api/tags for the model list. No authentication.
type OllamaProvider struct {
	endpoint string
	model    string
	client   *http.Client
}

// NewOllamaProvider builds the local adapter.
func NewOllamaProvider(endpoint, model string) *OllamaProvider {
	if endpoint == "" {
		endpoint = DefaultOllamaEndpoint
	}
	return &OllamaProvider{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		model:    model,
		client:   defaultHTTPClient,
	}
}

func (p *OllamaProvider) Name() string { return "ollama" }

// CostPerToken is zero: local inference is free by definition and the
// budget guard must never count it.
func (p *OllamaProvider) CostPerToken() (float64, float64) { return 0, 0 }

func (p *OllamaProvider) RateLimit() *RateLimit { return nil }

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaGenerateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error,omitempty"`
}

func (p *OllamaProvider) buildRequest(req ChatRequest, stream bool) ollamaGenerateRequest {
	model := req.Model
	if model == "" {
		model = p.model
	}
	var system string
	var prompt strings.Builder
	for _, m := range req.Conversation() {
		switch m.Role {
		case RoleSystem:
			system = m.Content
		case RoleAssistant:
			prompt.WriteString("Assistant: " + m.Content + "\n")
		default:
			prompt.WriteString(m.Content + "\n")
		}
	}
	return ollamaGenerateRequest{
		Model:  model,
		Prompt: strings.TrimSuffix(prompt.String(), "\n"),
		System: system,
		Stream: stream,
		Options: ollamaOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		},
	}
}

func (p *OllamaProvider) post(ctx context.Context, path string, body any) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, WrapProviderError("ollama", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+path, bytes.NewReader(raw))
	if err != nil {
		return nil, WrapProviderError("ollama", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, WrapProviderError("ollama", err)
	}
	if resp.StatusCode != http.StatusOK {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, errorFromStatus("ollama", resp.StatusCode, string(excerpt))
	}
	return resp, nil
}

// Complete targets /api/generate with stream:false.
func (p *OllamaProvider) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()
	resp, err := p.post(ctx, "/api/generate", p.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var parsed ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, NewProviderError("ollama", ErrInvalidResponse, "malformed generate response")
	}
	if parsed.Error != "" {
		return nil, NewProviderError("ollama", ErrServer, parsed.Error)
	}
	return &ChatResponse{
		Content:   parsed.Response,
		Model:     firstNonEmpty(parsed.Model, req.Model, p.model),
		Provider:  "ollama",
		TokensIn:  parsed.PromptEvalCount,
		TokensOut: parsed.EvalCount,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// Stream targets /api/generate with stream:true. Ollama streams
// newline-delimited JSON objects rather than SSE.
func (p *OllamaProvider) Stream(ctx context.Context, req ChatRequest) (Stream, error) {
	resp, err := p.post(ctx, "/api/generate", p.buildRequest(req, true))
	if err != nil {
		return nil, err
	}
	id := resp.Header.Get("x-request-id")
	return newDeltaStream(ctx, func(ctx context.Context, out chan<- Delta) error {
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var chunk ollamaGenerateResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				continue
			}
			if chunk.Error != "" {
				return NewProviderError("ollama", ErrServer, chunk.Error)
			}
			if chunk.Response != "" {
				select {
				case out <- Delta{ID: id, Text: chunk.Response}:
				case <-ctx.Done():
					return WrapProviderError("ollama", ctx.Err())
				}
			}
			if chunk.Done {
				select {
				case out <- Delta{ID: id, Finished: true, TokensIn: chunk.PromptEvalCount, TokensOut: chunk.EvalCount}:
				case <-ctx.Done():
					return WrapProviderError("ollama", ctx.Err())
				}
				return nil
			}
		}
		if err := scanner.Err(); err != nil {
			return WrapProviderError("ollama", err)
		}
		return fmt.Errorf("ollama stream ended without done marker")
	}), nil
}

type ollamaTagsResponse struct {
	Models []struct {
		Name    string `json:"name"`
		Details struct {
			Family            string `json:"family"`
			ParameterSize     string `json:"parameter_size"`
			QuantizationLevel string `json:"quantization_level"`
		} `json:"details"`
	} `json:"models"`
}

// ListModels queries /api/tags.
func (p *OllamaProvider) ListModels(ctx context.Context) ([]ModelRecord, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"/api/tags", nil)
	if err != nil {
		return nil, WrapProviderError("ollama", err)
	}
	httpReq.Header.Set("User-Agent", userAgent)
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, WrapProviderError("ollama", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errorFromStatus("ollama", resp.StatusCode, string(excerpt))
	}
	var parsed ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, NewProviderError("ollama", ErrInvalidResponse, "malformed tags response")
	}
	now := time.Now()
	records := make([]ModelRecord, 0, len(parsed.Models))
	for _, m := range parsed.Models {
		records = append(records, ModelRecord{
			ID:            ModelID("ollama", m.Name),
			Provider:      "ollama",
			Name:          m.Name,
			Family:        m.Details.Family,
			ParameterSize: m.Details.ParameterSize,
			Quantization:  m.Details.QuantizationLevel,
			ContextLength: 8192,
			Capabilities:  CapChat | CapCode,
			SuccessRate:   1.0,
			Available:     true,
			LastChecked:   now,
		})
	}
	return records, nil
}
