package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func sseHandler(t *testing.T, chunks []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", chunk)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}
}

func TestCompatComplete(t *testing.T) {
	var gotReq compatChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if ua := r.Header.Get("User-Agent"); !strings.HasPrefix(ua, "zeke/") {
			t.Errorf("user agent = %q", ua)
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotReq)
		json.NewEncoder(w).Encode(compatChatResponse{
			ID:    "resp-1",
			Model: "test-model",
			Choices: []compatChoice{{
				Message: &compatMessage{Role: "assistant", Content: "hello back"},
			}},
			Usage: &compatUsage{PromptTokens: 7, CompletionTokens: 3},
		})
	}))
	defer server.Close()

	p := NewCompatProvider(CompatConfig{
		Name:        "xai",
		BaseURL:     server.URL,
		ModelInBody: true,
		Model:       "test-model",
	})
	resp, err := p.Complete(context.Background(), ChatRequest{Prompt: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "hello back" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.TokensIn != 7 || resp.TokensOut != 3 {
		t.Errorf("tokens = %d/%d", resp.TokensIn, resp.TokensOut)
	}
	if resp.Provider != "xai" {
		t.Errorf("provider = %q", resp.Provider)
	}
	if gotReq.Model != "test-model" {
		t.Errorf("request model = %q", gotReq.Model)
	}
	if gotReq.Tags != nil {
		t.Error("tags must not be sent unless SendTags is set")
	}
}

func TestCompatStream(t *testing.T) {
	chunks := []string{
		`{"id":"s1","choices":[{"delta":{"content":"Hel"}}]}`,
		`{"id":"s1","choices":[{"delta":{"content":"lo"}}]}`,
		`{"id":"s1","choices":[{"delta":{}}],"usage":{"prompt_tokens":4,"completion_tokens":2}}`,
	}
	server := httptest.NewServer(sseHandler(t, chunks))
	defer server.Close()

	p := NewCompatProvider(CompatConfig{Name: "proxy", BaseURL: server.URL, ModelInBody: true, Model: "m"})
	stream, err := p.Stream(context.Background(), ChatRequest{Prompt: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	var text string
	var final Delta
	for {
		d, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		text += d.Text
		if d.Finished {
			final = d
		}
	}
	if text != "Hello" {
		t.Errorf("text = %q", text)
	}
	if !final.Finished {
		t.Error("missing finished delta")
	}
	if final.TokensIn != 4 || final.TokensOut != 2 {
		t.Errorf("usage = %d/%d", final.TokensIn, final.TokensOut)
	}
}

func TestCompatSendsTags(t *testing.T) {
	var gotReq compatChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotReq)
		json.NewEncoder(w).Encode(compatChatResponse{
			Choices: []compatChoice{{Message: &compatMessage{Content: "ok"}}},
		})
	}))
	defer server.Close()

	p := NewProxyProvider(server.URL, "auto", nil)
	_, err := p.Complete(context.Background(), ChatRequest{
		Prompt: "x",
		Tags:   Tags{Intent: "code", Language: "go"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if gotReq.Tags == nil || gotReq.Tags.Intent != "code" || gotReq.Tags.Language != "go" {
		t.Errorf("tags = %+v", gotReq.Tags)
	}
}

func TestCompatErrorMapping(t *testing.T) {
	tests := []struct {
		status     int
		wantKind   ErrorKind
		retryAfter string
	}{
		{401, ErrUnauthorised, ""},
		{429, ErrRateLimited, "7"},
		{500, ErrServer, ""},
		{413, ErrContextLengthExceeded, ""},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"error":{"message":"nope"}}`)
			}))
			defer server.Close()

			p := NewCompatProvider(CompatConfig{Name: "openai", BaseURL: server.URL, ModelInBody: true})
			_, err := p.Complete(context.Background(), ChatRequest{Prompt: "x"})
			if err == nil {
				t.Fatal("expected error")
			}
			perr, ok := err.(*ProviderError)
			if !ok {
				t.Fatalf("error type %T", err)
			}
			if perr.Kind != tt.wantKind {
				t.Errorf("kind = %s, want %s", perr.Kind, tt.wantKind)
			}
			if tt.retryAfter != "" && perr.RetryAfter != 7*time.Second {
				t.Errorf("retry after = %v", perr.RetryAfter)
			}
		})
	}
}

func TestCompatTraceCapture(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-zeke-trace", `{"hops":1}`)
		w.Header().Set("x-zeke-decision-reason", "cheapest")
		json.NewEncoder(w).Encode(compatChatResponse{
			Choices: []compatChoice{{Message: &compatMessage{Content: "ok"}}},
		})
	}))
	defer server.Close()

	p := NewProxyProvider(server.URL, "auto", nil)
	if _, err := p.Complete(context.Background(), ChatRequest{Prompt: "x"}); err != nil {
		t.Fatal(err)
	}
	trace := p.LastTrace()
	if trace == nil {
		t.Fatal("expected captured trace")
	}
	if trace.DecisionReason != "cheapest" {
		t.Errorf("reason = %q", trace.DecisionReason)
	}
}

func TestAzureURLScheme(t *testing.T) {
	p := NewAzureProvider(AzureConfig{
		ResourceName:   "myres",
		DeploymentName: "gpt4-deploy",
	})
	want := "https://myres.openai.azure.com/openai/deployments/gpt4-deploy/chat/completions?api-version=" + DefaultAzureAPIVersion
	if got := p.chatURL(); got != want {
		t.Errorf("chat URL = %q\nwant        %q", got, want)
	}
	if p.cfg.ModelInBody {
		t.Error("azure must not put the model in the body")
	}
}

func TestListModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"data":[{"id":"gpt-4o","owned_by":"openai"},{"id":"gpt-4o-mini","owned_by":"openai"}]}`)
	}))
	defer server.Close()

	p := NewCompatProvider(CompatConfig{Name: "openai", BaseURL: server.URL})
	records, err := p.ListModels(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d", len(records))
	}
	if records[0].ID != "openai:gpt-4o" {
		t.Errorf("id = %q", records[0].ID)
	}
	if records[0].ContextLength < 1 {
		t.Error("context length must be >= 1")
	}
}
