// Package llm defines the common request/response contract spoken by all
// provider adapters, plus the streaming event model the router and the
// RPC layer consume.
package llm

import (
	"context"
	"strings"
)

// Intent classifies what the client is asking the model to do. The
// router uses it for complexity estimation and capability matching.
type Intent string

const (
	IntentCode         Intent = "code"
	IntentCompletion   Intent = "completion"
	IntentRefactor     Intent = "refactor"
	IntentTests        Intent = "tests"
	IntentExplain      Intent = "explain"
	IntentArchitecture Intent = "architecture"
	IntentReason       Intent = "reason"
)

// ParseIntent normalizes a client-supplied intent tag. Unknown values
// map to IntentCode so a typo never breaks routing.
func ParseIntent(s string) Intent {
	switch Intent(strings.ToLower(s)) {
	case IntentCode, IntentCompletion, IntentRefactor, IntentTests,
		IntentExplain, IntentArchitecture, IntentReason:
		return Intent(strings.ToLower(s))
	default:
		return IntentCode
	}
}

// Complexity is the router's size estimate for a request.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// Role identifies a message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Tags carry client-supplied routing hints. They ride along in request
// bodies sent to the aggregating proxy (which understands them) and are
// ignored by everything else.
type Tags struct {
	Intent     string `json:"intent,omitempty"`
	Language   string `json:"language,omitempty"`
	Complexity string `json:"complexity,omitempty"`
	Project    string `json:"project,omitempty"`
	Priority   string `json:"priority,omitempty"`
}

// ChatRequest is the normalized request every adapter accepts.
// Exactly one of Prompt or Messages is populated; Prompt is shorthand
// for a single user message.
type ChatRequest struct {
	Prompt      string    `json:"prompt,omitempty"`
	Messages    []Message `json:"messages,omitempty"`
	ModelAlias  string    `json:"model_alias,omitempty"`
	Model       string    `json:"model,omitempty"`
	Provider    string    `json:"provider,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
	Tags        Tags      `json:"tags,omitempty"`
}

// Conversation returns the request's messages, synthesizing one from
// Prompt when no explicit history was supplied.
func (r ChatRequest) Conversation() []Message {
	if len(r.Messages) > 0 {
		return r.Messages
	}
	return []Message{{Role: RoleUser, Content: r.Prompt}}
}

// PromptText returns the concatenated user-visible prompt text, used by
// the router's size heuristics.
func (r ChatRequest) PromptText() string {
	if len(r.Messages) == 0 {
		return r.Prompt
	}
	var b strings.Builder
	for _, m := range r.Messages {
		if m.Role == RoleUser {
			b.WriteString(m.Content)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// ChatResponse is a completed (non-streaming) model turn.
type ChatResponse struct {
	Content   string `json:"content"`
	Model     string `json:"model"`
	Provider  string `json:"provider"`
	TokensIn  int    `json:"tokens_in"`
	TokensOut int    `json:"tokens_out"`
	LatencyMs int64  `json:"latency_ms"`
	Cached    bool   `json:"cached,omitempty"`
}

// Delta is one chunk of a streaming response.
type Delta struct {
	ID       string `json:"id"`
	Text     string `json:"delta"`
	Finished bool   `json:"finished"`
	// TokensIn/TokensOut are provider-reported counts, populated on the
	// final delta when the upstream surfaces usage.
	TokensIn  int `json:"tokens_in,omitempty"`
	TokensOut int `json:"tokens_out,omitempty"`
}

// Stream yields deltas until io.EOF. It is finite and not restartable.
type Stream interface {
	Recv() (Delta, error)
	Close() error
}

// RateLimit describes an adapter's advertised request budget.
type RateLimit struct {
	RequestsPerMin int
	TokensPerMin   int
}

// Provider is the adapter contract. Instances are shared and immutable
// after construction; any short-lived mutable state (limiters, failure
// timestamps) lives behind interior locks.
type Provider interface {
	// Name returns the provider key (openai, anthropic, google, xai,
	// azure, ollama, copilot, proxy).
	Name() string
	Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Stream(ctx context.Context, req ChatRequest) (Stream, error)
	ListModels(ctx context.Context) ([]ModelRecord, error)
	// CostPerToken returns (input, output) USD cost per 1k tokens for
	// the adapter's default model.
	CostPerToken() (float64, float64)
	// RateLimit returns the advertised budget, or nil when unknown.
	RateLimit() *RateLimit
}
