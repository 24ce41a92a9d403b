package router

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ghostkellz/zeke/internal/llm"
	"github.com/ghostkellz/zeke/internal/routingdb"
)

// fakeProvider scripts one adapter's behaviour for router tests.
type fakeProvider struct {
	name    string
	costIn  float64
	costOut float64
	err     error
	content string
	stall   time.Duration
	deltas  []string

	mu    sync.Mutex
	calls int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeProvider) bump() {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
}

func (f *fakeProvider) Complete(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	f.bump()
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{
		Content:   f.content,
		Model:     req.Model,
		Provider:  f.name,
		TokensIn:  10,
		TokensOut: 5,
		LatencyMs: 1,
	}, nil
}

func (f *fakeProvider) Stream(ctx context.Context, req llm.ChatRequest) (llm.Stream, error) {
	f.bump()
	if f.err != nil {
		return nil, f.err
	}
	deltas := f.deltas
	stall := f.stall
	return &fakeStream{deltas: deltas, stall: stall, ctx: ctx}, nil
}

func (f *fakeProvider) ListModels(ctx context.Context) ([]llm.ModelRecord, error) { return nil, nil }
func (f *fakeProvider) CostPerToken() (float64, float64)                          { return f.costIn, f.costOut }
func (f *fakeProvider) RateLimit() *llm.RateLimit                                 { return nil }

type fakeStream struct {
	deltas []string
	stall  time.Duration
	ctx    context.Context
	pos    int
	closed bool
}

func (s *fakeStream) Recv() (llm.Delta, error) {
	if s.pos == 0 && s.stall > 0 {
		select {
		case <-time.After(s.stall):
		case <-s.ctx.Done():
			return llm.Delta{}, s.ctx.Err()
		}
	}
	if s.pos < len(s.deltas) {
		d := llm.Delta{ID: "f1", Text: s.deltas[s.pos]}
		s.pos++
		return d, nil
	}
	if s.pos == len(s.deltas) {
		s.pos++
		return llm.Delta{ID: "f1", Finished: true, TokensIn: 10, TokensOut: 5}, nil
	}
	return llm.Delta{}, io.EOF
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

func testDB(t *testing.T) *routingdb.DB {
	t.Helper()
	db, err := routingdb.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testRouter(t *testing.T, providers map[string]llm.Provider, catalog *llm.Catalog) (*Router, *routingdb.DB) {
	db := testDB(t)
	if catalog == nil {
		catalog = llm.NewCatalog()
	}
	opts := DefaultOptions()
	opts.FirstTokenTimeout = 50 * time.Millisecond
	return New(providers, catalog, db, opts, map[string]string{
		"fast": "ollama:qwen2.5-coder:7b",
	}), db
}

func TestEstimateComplexity(t *testing.T) {
	tests := []struct {
		name string
		req  llm.ChatRequest
		want llm.Complexity
	}{
		{"explicit hint wins", llm.ChatRequest{Prompt: strings.Repeat("x", 5000), Tags: llm.Tags{Complexity: "simple"}}, llm.ComplexitySimple},
		{"completion intent is simple", llm.ChatRequest{Prompt: strings.Repeat("x", 5000), Tags: llm.Tags{Intent: "completion"}}, llm.ComplexitySimple},
		{"architecture intent is complex", llm.ChatRequest{Prompt: "hi", Tags: llm.Tags{Intent: "architecture"}}, llm.ComplexityComplex},
		{"reason intent is complex", llm.ChatRequest{Prompt: "hi", Tags: llm.Tags{Intent: "reason"}}, llm.ComplexityComplex},
		{"short prompt small budget", llm.ChatRequest{Prompt: "hello", MaxTokens: 100}, llm.ComplexitySimple},
		{"long prompt", llm.ChatRequest{Prompt: strings.Repeat("x", 2001)}, llm.ComplexityComplex},
		{"big output budget", llm.ChatRequest{Prompt: "hi there this is a prompt of medium length that runs past two hundred characters when padded out with more words to defeat the simple branch of the heuristic for good measure and then some extra", MaxTokens: 4096}, llm.ComplexityComplex},
		{"middle ground", llm.ChatRequest{Prompt: strings.Repeat("x", 500), MaxTokens: 1024}, llm.ComplexityMedium},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateComplexity(tt.req); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPlanSimpleCodeGoesLocal(t *testing.T) {
	local := &fakeProvider{name: "ollama"}
	cloud := &fakeProvider{name: "anthropic", costIn: 0.003, costOut: 0.015}
	rt, _ := testRouter(t, map[string]llm.Provider{"ollama": local, "anthropic": cloud}, nil)

	plan, err := rt.Plan(llm.ChatRequest{
		Prompt: "hello",
		Tags:   llm.Tags{Intent: "code", Complexity: "simple"},
	}, routingdb.DefaultPrefs("p1"))
	if err != nil {
		t.Fatal(err)
	}
	if plan.Class != "local" {
		t.Errorf("class = %s, want local", plan.Class)
	}
	cands := plan.Candidates()
	if len(cands) == 0 || !strings.HasPrefix(cands[0], "ollama:") {
		t.Errorf("candidates = %v", cands)
	}
}

func TestPlanComplexGoesCloud(t *testing.T) {
	local := &fakeProvider{name: "ollama"}
	cloud := &fakeProvider{name: "anthropic"}
	rt, _ := testRouter(t, map[string]llm.Provider{"ollama": local, "anthropic": cloud}, nil)

	plan, err := rt.Plan(llm.ChatRequest{
		Prompt: "design a distributed scheduler",
		Tags:   llm.Tags{Intent: "architecture", Complexity: "complex"},
	}, routingdb.DefaultPrefs("p1"))
	if err != nil {
		t.Fatal(err)
	}
	if plan.Class != "cloud" {
		t.Errorf("class = %s, want cloud", plan.Class)
	}
	if cands := plan.Candidates(); !strings.HasPrefix(cands[0], "anthropic:") {
		t.Errorf("candidates = %v", cands)
	}
}

func TestPlanDeterministicForIdenticalInputs(t *testing.T) {
	catalog := llm.NewCatalog()
	now := time.Now()
	for _, rec := range []llm.ModelRecord{
		{ID: "anthropic:sonnet", Provider: "anthropic", Name: "sonnet", ContextLength: 200000,
			Capabilities: llm.CapChat | llm.CapCode | llm.CapReasoning, CostInPer1K: 0.003, CostOutPer1K: 0.015,
			SuccessRate: 1, Available: true, LastChecked: now},
		{ID: "openai:gpt", Provider: "openai", Name: "gpt", ContextLength: 128000,
			Capabilities: llm.CapChat | llm.CapCode | llm.CapReasoning, CostInPer1K: 0.0025, CostOutPer1K: 0.01,
			SuccessRate: 1, Available: true, LastChecked: now},
	} {
		if err := catalog.Put(rec); err != nil {
			t.Fatal(err)
		}
	}
	providers := map[string]llm.Provider{
		"anthropic": &fakeProvider{name: "anthropic"},
		"openai":    &fakeProvider{name: "openai"},
	}
	rt, _ := testRouter(t, providers, catalog)

	req := llm.ChatRequest{Prompt: "identical", Tags: llm.Tags{Intent: "reason", Complexity: "complex"}}
	prefs := routingdb.DefaultPrefs("p1")
	first, err := rt.Plan(req, prefs)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		again, err := rt.Plan(req, prefs)
		if err != nil {
			t.Fatal(err)
		}
		if strings.Join(again.Candidates(), "|") != strings.Join(first.Candidates(), "|") {
			t.Fatalf("plan differs across runs: %v vs %v", again.Candidates(), first.Candidates())
		}
	}
}

func TestCompleteRecordsOneStatsRow(t *testing.T) {
	local := &fakeProvider{name: "ollama", content: "hi"}
	rt, db := testRouter(t, map[string]llm.Provider{"ollama": local}, nil)

	resp, plan, err := rt.Complete(context.Background(), llm.ChatRequest{
		Prompt: "hello",
		Model:  "qwen2.5-coder:7b",
		Tags:   llm.Tags{Intent: "code", Complexity: "simple"},
	}, "proj")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Provider != "ollama" {
		t.Errorf("provider = %s", resp.Provider)
	}
	db.Flush()
	count, err := db.StatsCount(plan.RequestID)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("stats rows = %d, want 1", count)
	}
}

func TestCompleteUnauthorisedSurfacesImmediately(t *testing.T) {
	bad := &fakeProvider{name: "anthropic", err: llm.NewProviderError("anthropic", llm.ErrUnauthorised, "bad key")}
	backup := &fakeProvider{name: "openai", content: "never"}
	rt, _ := testRouter(t, map[string]llm.Provider{"anthropic": bad, "openai": backup}, nil)

	_, _, err := rt.Complete(context.Background(), llm.ChatRequest{
		Prompt:   "x",
		Provider: "anthropic",
	}, "proj")
	if err == nil {
		t.Fatal("expected error")
	}
	if llm.KindOf(err) != llm.ErrUnauthorised {
		t.Errorf("kind = %s", llm.KindOf(err))
	}
	if backup.Calls() != 0 {
		t.Error("router fell through on an auth failure")
	}
}

func TestCompleteRateLimitFallsBack(t *testing.T) {
	limited := &fakeProvider{name: "openai", err: llm.NewProviderError("openai", llm.ErrRateLimited, "slow down"), costIn: 0.001}
	healthy := &fakeProvider{name: "anthropic", content: "served", costIn: 0.01}
	catalog := llm.NewCatalog()
	now := time.Now()
	for _, rec := range []llm.ModelRecord{
		{ID: "openai:cheap", Provider: "openai", Name: "cheap", ContextLength: 10, Capabilities: llm.CapChat | llm.CapCode | llm.CapReasoning, CostInPer1K: 0.001, SuccessRate: 1, Available: true, LastChecked: now},
		{ID: "anthropic:backup", Provider: "anthropic", Name: "backup", ContextLength: 10, Capabilities: llm.CapChat | llm.CapCode | llm.CapReasoning, CostInPer1K: 0.01, SuccessRate: 1, Available: true, LastChecked: now},
	} {
		if err := catalog.Put(rec); err != nil {
			t.Fatal(err)
		}
	}
	rt, db := testRouter(t, map[string]llm.Provider{"openai": limited, "anthropic": healthy}, catalog)

	resp, plan, err := rt.Complete(context.Background(), llm.ChatRequest{
		Prompt: "x",
		Tags:   llm.Tags{Intent: "reason", Complexity: "complex"},
	}, "proj")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Provider != "anthropic" {
		t.Errorf("provider = %s, want anthropic", resp.Provider)
	}
	db.Flush()
	if n, _ := db.StatsCount(plan.RequestID); n != 1 {
		t.Errorf("stats rows = %d, want 1", n)
	}
}

func TestBudgetGuardExcludesCloud(t *testing.T) {
	cloud := &fakeProvider{name: "anthropic", content: "expensive"}
	rt, db := testRouter(t, map[string]llm.Provider{"anthropic": cloud}, nil)

	prefs := routingdb.DefaultPrefs("rich-project")
	prefs.MaxCloudCostCents = 1
	if err := db.PutPrefs(prefs); err != nil {
		t.Fatal(err)
	}
	// Burn past the budget.
	if err := db.RecordDecision(routingdb.Decision{
		RequestID: "seed", Project: "rich-project", Model: "m", Provider: "anthropic",
		Intent: "code", SizeHint: "simple", CostCents: 5, Success: true,
	}); err != nil {
		t.Fatal(err)
	}
	db.Flush()

	_, _, err := rt.Complete(context.Background(), llm.ChatRequest{
		Prompt: "x",
		Tags:   llm.Tags{Intent: "code", Complexity: "complex"},
	}, "rich-project")
	if err != ErrBudgetExceeded {
		t.Fatalf("err = %v, want ErrBudgetExceeded", err)
	}

	// Architecture intent may exceed the cap.
	resp, _, err := rt.Complete(context.Background(), llm.ChatRequest{
		Prompt: "x",
		Tags:   llm.Tags{Intent: "architecture"},
	}, "rich-project")
	if err != nil {
		t.Fatalf("architecture request should pass the guard: %v", err)
	}
	if resp.Provider != "anthropic" {
		t.Errorf("provider = %s", resp.Provider)
	}
}

func TestHybridEscalationOnStalledLocal(t *testing.T) {
	local := &fakeProvider{name: "ollama", stall: time.Second, deltas: []string{"never"}}
	cloud := &fakeProvider{name: "anthropic", deltas: []string{"from ", "cloud"}}
	rt, db := testRouter(t, map[string]llm.Provider{"ollama": local, "anthropic": cloud}, nil)

	stream, plan, err := rt.StreamChat(context.Background(), llm.ChatRequest{
		Prompt: strings.Repeat("refactor this please ", 30),
		Tags:   llm.Tags{Intent: "refactor", Complexity: "medium"},
	}, "proj")
	if err != nil {
		t.Fatal(err)
	}
	var text string
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
			break
		}
	}
	stream.Close()
	if text != "from cloud" {
		t.Errorf("text = %q", text)
	}
	if local.Calls() != 1 || cloud.Calls() != 1 {
		t.Errorf("calls local=%d cloud=%d", local.Calls(), cloud.Calls())
	}

	db.Flush()
	if n, _ := db.StatsCount(plan.RequestID); n != 1 {
		t.Errorf("stats rows = %d, want 1", n)
	}
}

func TestStreamDeltasInOrderThenTerminal(t *testing.T) {
	local := &fakeProvider{name: "ollama", deltas: []string{"a", "b", "c"}}
	rt, _ := testRouter(t, map[string]llm.Provider{"ollama": local}, nil)

	stream, _, err := rt.StreamChat(context.Background(), llm.ChatRequest{
		Prompt: "hi",
		Tags:   llm.Tags{Intent: "code", Complexity: "simple"},
	}, "proj")
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	var got []string
	terminalSeen := false
	for {
		d, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if terminalSeen {
			t.Fatal("delta after terminal frame")
		}
		if d.Finished {
			terminalSeen = true
			continue
		}
		got = append(got, d.Text)
	}
	if strings.Join(got, "") != "abc" {
		t.Errorf("deltas = %v", got)
	}
	if !terminalSeen {
		t.Error("no terminal frame")
	}
}

func TestStreamCancelRecordsFailure(t *testing.T) {
	local := &fakeProvider{name: "ollama", deltas: []string{"a", "b", "c", "d"}}
	rt, db := testRouter(t, map[string]llm.Provider{"ollama": local}, nil)

	stream, plan, err := rt.StreamChat(context.Background(), llm.ChatRequest{
		Prompt: "hi",
		Tags:   llm.Tags{Intent: "code", Complexity: "simple"},
	}, "proj")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := stream.Recv(); err != nil {
		t.Fatal(err)
	}
	stream.Close()

	db.Flush()
	if n, _ := db.StatsCount(plan.RequestID); n != 1 {
		t.Errorf("stats rows = %d, want 1", n)
	}
}
