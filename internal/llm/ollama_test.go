package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOllamaComplete(t *testing.T) {
	var gotReq ollamaGenerateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(ollamaGenerateResponse{
			Model:           "qwen2.5-coder:7b",
			Response:        "package main",
			Done:            true,
			PromptEvalCount: 11,
			EvalCount:       5,
		})
	}))
	defer server.Close()

	p := NewOllamaProvider(server.URL, "qwen2.5-coder:7b")
	resp, err := p.Complete(context.Background(), ChatRequest{Prompt: "write hello world", Temperature: 0.2})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Provider != "ollama" {
		t.Errorf("provider = %q", resp.Provider)
	}
	if resp.Model != "qwen2.5-coder:7b" {
		t.Errorf("model = %q", resp.Model)
	}
	if resp.Content != "package main" {
		t.Errorf("content = %q", resp.Content)
	}
	if gotReq.Stream {
		t.Error("complete must set stream:false")
	}
	if gotReq.Options.Temperature != 0.2 {
		t.Errorf("temperature = %v", gotReq.Options.Temperature)
	}
	in, out := p.CostPerToken()
	if in != 0 || out != 0 {
		t.Error("local inference must cost zero")
	}
}

func TestOllamaStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		enc := json.NewEncoder(w)
		enc.Encode(ollamaGenerateResponse{Response: "one "})
		enc.Encode(ollamaGenerateResponse{Response: "two"})
		enc.Encode(ollamaGenerateResponse{Done: true, PromptEvalCount: 3, EvalCount: 2})
	}))
	defer server.Close()

	p := NewOllamaProvider(server.URL, "m")
	stream, err := p.Stream(context.Background(), ChatRequest{Prompt: "count"})
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	var text string
	sawFinished := false
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
			sawFinished = true
			if d.TokensIn != 3 || d.TokensOut != 2 {
				t.Errorf("usage = %d/%d", d.TokensIn, d.TokensOut)
			}
		}
	}
	if text != "one two" {
		t.Errorf("text = %q", text)
	}
	if !sawFinished {
		t.Error("missing finished delta")
	}
}

func TestOllamaListModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"models":[{"name":"qwen2.5-coder:7b","details":{"family":"qwen2","parameter_size":"7B","quantization_level":"Q4_K_M"}}]}`)
	}))
	defer server.Close()

	p := NewOllamaProvider(server.URL, "")
	records, err := p.ListModels(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d", len(records))
	}
	rec := records[0]
	if rec.ID != "ollama:qwen2.5-coder:7b" {
		t.Errorf("id = %q", rec.ID)
	}
	if rec.ParameterSize != "7B" || rec.Quantization != "Q4_K_M" {
		t.Errorf("details = %q/%q", rec.ParameterSize, rec.Quantization)
	}
}

func TestOllamaServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "model not loaded")
	}))
	defer server.Close()

	p := NewOllamaProvider(server.URL, "m")
	_, err := p.Complete(context.Background(), ChatRequest{Prompt: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if KindOf(err) != ErrServer {
		t.Errorf("kind = %s", KindOf(err))
	}
}
