package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// userAgent identifies Zeke on every outbound request.
var userAgent = "zeke/" + Version

// httpClientTimeout bounds a whole request including body read.
const httpClientTimeout = 10 * time.Minute

var defaultHTTPClient = &http.Client{Timeout: httpClientTimeout}

// TraceInfo carries the aggregating proxy's observability headers.
type TraceInfo struct {
	TraceJSON      string
	DecisionReason string
	CandidatesJSON string
}

// Tracer is implemented by adapters that surface upstream routing
// traces. The router persists the last trace after a request completes.
type Tracer interface {
	LastTrace() *TraceInfo
}

// CompatConfig configures one member of the OpenAI-compatible family.
type CompatConfig struct {
	// Name is the provider key: openai, xai, azure, copilot, proxy, or a
	// custom endpoint name.
	Name string
	// BaseURL has /chat/completions appended unless ChatURL is set.
	BaseURL string
	// ChatURL, when set, is used verbatim (Azure deployment URLs).
	ChatURL string
	// ModelInBody controls whether the model name goes in the JSON body.
	// Azure routes the model through the deployment URL instead.
	ModelInBody bool
	Model       string
	// TokenSource returns the bearer credential per request so OAuth
	// refresh is picked up without rebuilding the adapter.
	TokenSource func(ctx context.Context) (string, error)
	// Headers are extra static headers (Copilot editor headers,
	// api-key for Azure).
	Headers map[string]string
	// SendTags includes the ChatRequest tags object in the body.
	// Non-compatible upstreams ignore it; the proxy routes on it.
	SendTags bool
	// CaptureTrace records x-zeke-* response headers (proxy mode).
	CaptureTrace bool
	CostIn       float64
	CostOut      float64
	Limit        *RateLimit
	HTTPClient   *http.Client
}

// CompatProvider speaks the OpenAI /v1/chat/completions contract. It
// covers xAI, Azure deployments, GitHub Copilot's editor endpoints, the
// aggregating proxy, and any custom compatible server.
type CompatProvider struct {
	cfg     CompatConfig
	client  *http.Client
	limiter *rate.Limiter

	traceMu   sync.Mutex
	lastTrace *TraceInfo
}

// NewCompatProvider builds an adapter for one compatible endpoint.
func NewCompatProvider(cfg CompatConfig) *CompatProvider {
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/chat/completions")
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	client := cfg.HTTPClient
	if client == nil {
		client = defaultHTTPClient
	}
	var limiter *rate.Limiter
	if cfg.Limit != nil && cfg.Limit.RequestsPerMin > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.Limit.RequestsPerMin)/60.0), cfg.Limit.RequestsPerMin)
	}
	return &CompatProvider{cfg: cfg, client: client, limiter: limiter}
}

func (p *CompatProvider) Name() string { return p.cfg.Name }

func (p *CompatProvider) CostPerToken() (float64, float64) { return p.cfg.CostIn, p.cfg.CostOut }

func (p *CompatProvider) RateLimit() *RateLimit { return p.cfg.Limit }

// LastTrace returns the proxy trace from the most recent response, or
// nil when trace capture is off or no trace was supplied.
func (p *CompatProvider) LastTrace() *TraceInfo {
	p.traceMu.Lock()
	defer p.traceMu.Unlock()
	return p.lastTrace
}

type compatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type compatChatRequest struct {
	Model         string               `json:"model,omitempty"`
	Messages      []compatMessage      `json:"messages"`
	Temperature   *float64             `json:"temperature,omitempty"`
	MaxTokens     *int                 `json:"max_tokens,omitempty"`
	Stream        bool                 `json:"stream,omitempty"`
	StreamOptions *compatStreamOptions `json:"stream_options,omitempty"`
	Tags          *Tags                `json:"tags,omitempty"`
}

type compatStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type compatChoice struct {
	Index        int            `json:"index"`
	Message      *compatMessage `json:"message,omitempty"`
	Delta        *compatMessage `json:"delta,omitempty"`
	FinishReason string         `json:"finish_reason"`
}

type compatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type compatAPIError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type compatChatResponse struct {
	ID      string          `json:"id"`
	Model   string          `json:"model"`
	Choices []compatChoice  `json:"choices"`
	Usage   *compatUsage    `json:"usage,omitempty"`
	Error   *compatAPIError `json:"error,omitempty"`
}

func (p *CompatProvider) buildBody(req ChatRequest, stream bool) ([]byte, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	body := compatChatRequest{
		Messages: make([]compatMessage, 0, len(req.Messages)+1),
		Stream:   stream,
	}
	if p.cfg.ModelInBody {
		body.Model = model
	}
	for _, m := range req.Conversation() {
		body.Messages = append(body.Messages, compatMessage{Role: string(m.Role), Content: m.Content})
	}
	if req.Temperature > 0 {
		t := req.Temperature
		body.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		body.MaxTokens = &mt
	}
	if stream {
		body.StreamOptions = &compatStreamOptions{IncludeUsage: true}
	}
	if p.cfg.SendTags {
		tags := req.Tags
		body.Tags = &tags
	}
	return json.Marshal(body)
}

func (p *CompatProvider) chatURL() string {
	if p.cfg.ChatURL != "" {
		return p.cfg.ChatURL
	}
	return p.cfg.BaseURL + "/chat/completions"
}

func (p *CompatProvider) do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, WrapProviderError(p.cfg.Name, err)
		}
	}
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, WrapProviderError(p.cfg.Name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	if p.cfg.TokenSource != nil {
		token, err := p.cfg.TokenSource(ctx)
		if err != nil {
			return nil, &ProviderError{Kind: ErrReAuthRequired, Provider: p.cfg.Name, Message: err.Error(), cause: err}
		}
		if token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}
	for k, v := range p.cfg.Headers {
		if v != "" {
			httpReq.Header.Set(k, v)
		}
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, WrapProviderError(p.cfg.Name, err)
	}
	return resp, nil
}

func (p *CompatProvider) checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	perr := errorFromStatus(p.cfg.Name, resp.StatusCode, string(body))
	if perr.Kind == ErrRateLimited {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil {
				perr.RetryAfter = time.Duration(secs) * time.Second
			}
		}
	}
	return perr
}

func (p *CompatProvider) captureTrace(resp *http.Response) {
	if !p.cfg.CaptureTrace {
		return
	}
	trace := resp.Header.Get("x-zeke-trace")
	reason := resp.Header.Get("x-zeke-decision-reason")
	candidates := resp.Header.Get("x-zeke-candidates")
	if trace == "" && reason == "" && candidates == "" {
		return
	}
	p.traceMu.Lock()
	p.lastTrace = &TraceInfo{TraceJSON: trace, DecisionReason: reason, CandidatesJSON: candidates}
	p.traceMu.Unlock()
}

// Complete performs a blocking chat completion.
func (p *CompatProvider) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body, err := p.buildBody(req, false)
	if err != nil {
		return nil, WrapProviderError(p.cfg.Name, err)
	}
	start := time.Now()
	resp, err := p.do(ctx, http.MethodPost, p.chatURL(), body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := p.checkStatus(resp); err != nil {
		return nil, err
	}
	p.captureTrace(resp)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapProviderError(p.cfg.Name, err)
	}
	var parsed compatChatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, NewProviderError(p.cfg.Name, ErrInvalidResponse, "malformed completion response")
	}
	if parsed.Error != nil {
		return nil, NewProviderError(p.cfg.Name, ErrServer, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message == nil {
		return nil, NewProviderError(p.cfg.Name, ErrInvalidResponse, "completion response has no choices")
	}
	if parsed.Choices[0].FinishReason == "content_filter" {
		return nil, NewProviderError(p.cfg.Name, ErrContentFiltered, "response blocked by upstream content filter")
	}

	out := &ChatResponse{
		Content:   parsed.Choices[0].Message.Content,
		Model:     firstNonEmpty(parsed.Model, req.Model, p.cfg.Model),
		Provider:  p.cfg.Name,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if parsed.Usage != nil {
		out.TokensIn = parsed.Usage.PromptTokens
		out.TokensOut = parsed.Usage.CompletionTokens
	}
	return out, nil
}

// Stream performs a streaming chat completion over SSE.
func (p *CompatProvider) Stream(ctx context.Context, req ChatRequest) (Stream, error) {
	body, err := p.buildBody(req, true)
	if err != nil {
		return nil, WrapProviderError(p.cfg.Name, err)
	}
	// The HTTP exchange happens synchronously so the router's fallback
	// logic sees 401/429 before any delta is surfaced.
	resp, err := p.do(ctx, http.MethodPost, p.chatURL(), body)
	if err != nil {
		return nil, err
	}
	if err := p.checkStatus(resp); err != nil {
		return nil, err
	}
	p.captureTrace(resp)

	id := resp.Header.Get("x-request-id")
	return newDeltaStream(ctx, func(ctx context.Context, out chan<- Delta) error {
		defer resp.Body.Close()
		var usage *compatUsage
		err := scanSSE(resp.Body, func(data string) error {
			var chunk compatChatResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				// Tolerate keep-alive fragments.
				return nil
			}
			if chunk.Error != nil {
				return NewProviderError(p.cfg.Name, ErrServer, chunk.Error.Message)
			}
			if chunk.Usage != nil {
				usage = chunk.Usage
			}
			if id == "" {
				id = chunk.ID
			}
			for _, choice := range chunk.Choices {
				if choice.Delta != nil && choice.Delta.Content != "" {
					select {
					case out <- Delta{ID: id, Text: choice.Delta.Content}:
					case <-ctx.Done():
						return WrapProviderError(p.cfg.Name, ctx.Err())
					}
				}
				if choice.FinishReason == "content_filter" {
					return NewProviderError(p.cfg.Name, ErrContentFiltered, "response blocked by upstream content filter")
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		final := Delta{ID: id, Finished: true}
		if usage != nil {
			final.TokensIn = usage.PromptTokens
			final.TokensOut = usage.CompletionTokens
		}
		select {
		case out <- final:
		case <-ctx.Done():
			return WrapProviderError(p.cfg.Name, ctx.Err())
		}
		return nil
	}), nil
}

type compatModelsResponse struct {
	Data []struct {
		ID      string `json:"id"`
		Created int64  `json:"created"`
		OwnedBy string `json:"owned_by"`
	} `json:"data"`
}

// ListModels queries the /models endpoint.
func (p *CompatProvider) ListModels(ctx context.Context) ([]ModelRecord, error) {
	resp, err := p.do(ctx, http.MethodGet, p.cfg.BaseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := p.checkStatus(resp); err != nil {
		return nil, err
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapProviderError(p.cfg.Name, err)
	}
	var parsed compatModelsResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, NewProviderError(p.cfg.Name, ErrInvalidResponse, "malformed models response")
	}
	now := time.Now()
	records := make([]ModelRecord, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		records = append(records, ModelRecord{
			ID:            ModelID(p.cfg.Name, m.ID),
			Provider:      p.cfg.Name,
			Name:          m.ID,
			ContextLength: contextLengthForModel(m.ID),
			Capabilities:  CapChat | CapCode,
			CostInPer1K:   p.cfg.CostIn,
			CostOutPer1K:  p.cfg.CostOut,
			SuccessRate:   1.0,
			Available:     true,
			LastChecked:   now,
		})
	}
	return records, nil
}

// contextLengthForModel guesses a context window from the model name.
// The catalog treats it as advisory until the adapter reports better.
func contextLengthForModel(model string) int {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "gpt-4o"), strings.Contains(m, "gpt-4.1"),
		strings.Contains(m, "grok"), strings.Contains(m, "o3"), strings.Contains(m, "o4"):
		return 128000
	case strings.Contains(m, "32k"):
		return 32768
	case strings.Contains(m, "16k"):
		return 16384
	default:
		return 8192
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
