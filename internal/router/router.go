// Package router selects a provider adapter per request from intent,
// complexity, preferences and health, executes with bounded fallback,
// and records every final decision in the routing database.
package router

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ghostkellz/zeke/internal/llm"
	"github.com/ghostkellz/zeke/internal/routingdb"
)

// ErrBudgetExceeded is surfaced when the month-to-date spend for a
// project passes its cap and no local candidate can serve the request.
var ErrBudgetExceeded = errors.New("cloud budget exceeded for this project")

// ErrNoProviders is surfaced when no configured adapter can serve the
// request.
var ErrNoProviders = errors.New("no provider available for this request")

// successWindow is the number of recent stats rows consulted for the
// health tie-break.
const successWindow = 100

// Options are the routing knobs, resolved from config.
type Options struct {
	PreferLocalFor    []llm.Intent
	FallbackEnabled   bool
	FirstTokenTimeout time.Duration
	CloudTimeout      time.Duration
	LocalTimeout      time.Duration
	OllamaTimeout     time.Duration
	// LocalProvider names the local adapter, normally "ollama"; empty
	// disables local routing.
	LocalProvider string
}

// DefaultOptions mirror the documented timeout defaults.
func DefaultOptions() Options {
	return Options{
		PreferLocalFor:    []llm.Intent{llm.IntentCode, llm.IntentCompletion, llm.IntentRefactor, llm.IntentTests},
		FallbackEnabled:   true,
		FirstTokenTimeout: 2 * time.Second,
		CloudTimeout:      30 * time.Second,
		LocalTimeout:      45 * time.Second,
		OllamaTimeout:     60 * time.Second,
		LocalProvider:     "ollama",
	}
}

// Router is the smart router. Construct once at daemon startup; safe
// for concurrent use.
type Router struct {
	providers map[string]llm.Provider
	catalog   *llm.Catalog
	db        *routingdb.DB
	opts      Options
	aliases   map[string]string // alias -> "provider:model"
}

// New builds a router over the given adapters.
func New(providers map[string]llm.Provider, catalog *llm.Catalog, db *routingdb.DB, opts Options, aliases map[string]string) *Router {
	if opts.FirstTokenTimeout <= 0 {
		opts.FirstTokenTimeout = 2 * time.Second
	}
	return &Router{
		providers: providers,
		catalog:   catalog,
		db:        db,
		opts:      opts,
		aliases:   aliases,
	}
}

// Provider exposes a configured adapter by name.
func (r *Router) Provider(name string) (llm.Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Providers returns the configured adapter names, sorted.
func (r *Router) Providers() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Catalog returns the shared model catalog.
func (r *Router) Catalog() *llm.Catalog { return r.catalog }

// candidate is one (provider, model) the planner may dispatch to.
type candidate struct {
	provider llm.Provider
	model    string
	local    bool
}

func (c candidate) String() string {
	return c.provider.Name() + ":" + c.model
}

// providerClass is the planner's local/cloud/hybrid outcome.
type providerClass string

const (
	classLocal  providerClass = "local"
	classCloud  providerClass = "cloud"
	classHybrid providerClass = "hybrid"
)

// Plan is the resolved decision for one request, before execution.
type Plan struct {
	RequestID  string
	Intent     llm.Intent
	Complexity llm.Complexity
	Class      string
	Alias      string
	Reason     string
	candidates []candidate
}

// Primary returns the first planned provider's name.
func (p *Plan) Primary() string {
	if len(p.candidates) == 0 {
		return ""
	}
	return p.candidates[0].provider.Name()
}

// Candidates lists the planned (provider, model) pairs in try order.
func (p *Plan) Candidates() []string {
	out := make([]string, len(p.candidates))
	for i, c := range p.candidates {
		out[i] = c.String()
	}
	return out
}

func (r *Router) localProvider() (llm.Provider, bool) {
	if r.opts.LocalProvider == "" {
		return nil, false
	}
	p, ok := r.providers[r.opts.LocalProvider]
	return p, ok
}

func (r *Router) prefersLocal(intent llm.Intent) bool {
	for _, i := range r.opts.PreferLocalFor {
		if i == intent {
			return true
		}
	}
	return false
}

// localHealthy consults the catalog for any available local model. The
// catalog is advisory, so an empty catalog counts as healthy and the
// first request probes reality.
func (r *Router) localHealthy() bool {
	local, ok := r.localProvider()
	if !ok {
		return false
	}
	records := r.catalog.ByProvider(local.Name())
	if len(records) == 0 {
		return true
	}
	for _, rec := range records {
		if rec.Available {
			return true
		}
	}
	return false
}

// Plan resolves alias, complexity, provider class, candidate order and
// the budget guard for one request.
func (r *Router) Plan(req llm.ChatRequest, prefs routingdb.Prefs) (*Plan, error) {
	plan := &Plan{
		RequestID:  uuid.NewString(),
		Intent:     llm.ParseIntent(req.Tags.Intent),
		Complexity: EstimateComplexity(req),
	}

	// Alias resolution fixes provider and model before anything else.
	if req.ModelAlias != "" {
		if target, ok := r.aliases[req.ModelAlias]; ok {
			plan.Alias = req.ModelAlias
			provider, model := splitTarget(target)
			if req.Provider == "" {
				req.Provider = provider
			}
			if req.Model == "" {
				req.Model = model
			}
		}
	}

	// Explicit provider pins the candidate list to that adapter.
	if req.Provider != "" {
		p, ok := r.providers[req.Provider]
		if !ok {
			return nil, fmt.Errorf("%w: provider %q not configured", ErrNoProviders, req.Provider)
		}
		plan.candidates = []candidate{{provider: p, model: req.Model, local: req.Provider == r.opts.LocalProvider}}
		plan.Class = "explicit"
		plan.Reason = "explicit provider requested"
		return plan, nil
	}

	local, hasLocal := r.localProvider()
	preferLocal := prefs.PreferLocal && hasLocal

	var class providerClass
	switch {
	case r.prefersLocal(plan.Intent) && plan.Complexity == llm.ComplexitySimple && preferLocal && r.localHealthy():
		class = classLocal
	case plan.Complexity == llm.ComplexityComplex || !hasLocal || !preferLocal:
		class = classCloud
	case plan.Complexity == llm.ComplexityMedium && r.opts.FallbackEnabled:
		class = classHybrid
	default:
		if hasLocal {
			class = classLocal
		} else {
			class = classCloud
		}
	}
	plan.Class = string(class)

	cloud := r.cloudCandidates(plan.Intent, req.Model)

	// Budget guard: architecture requests may exceed the cap, all other
	// intents lose their cloud candidates.
	if prefs.MaxCloudCostCents > 0 && plan.Intent != llm.IntentArchitecture {
		spent, err := r.db.MonthToDateCostCents(prefs.Project, time.Now())
		if err == nil && spent >= float64(prefs.MaxCloudCostCents) {
			cloud = nil
			if class == classCloud && !hasLocal {
				return nil, ErrBudgetExceeded
			}
			if class == classCloud {
				class = classLocal
				plan.Class = string(classLocal)
				plan.Reason = "budget exceeded, downgraded to local"
			}
		}
	}

	switch class {
	case classLocal:
		plan.candidates = append(plan.candidates, candidate{provider: local, model: req.Model, local: true})
		// Cloud remains as a fallback tail when enabled.
		if r.opts.FallbackEnabled {
			plan.candidates = append(plan.candidates, cloud...)
		}
		if plan.Reason == "" {
			plan.Reason = "simple intent preferred locally"
		}
	case classHybrid:
		plan.candidates = append(plan.candidates, candidate{provider: local, model: req.Model, local: true})
		plan.candidates = append(plan.candidates, cloud...)
		plan.Reason = "medium complexity, local first with cloud escalation"
	case classCloud:
		plan.candidates = append(plan.candidates, cloud...)
		if hasLocal && r.opts.FallbackEnabled {
			plan.candidates = append(plan.candidates, candidate{provider: local, model: req.Model, local: true})
		}
		if plan.Reason == "" {
			plan.Reason = "complex request routed to cloud"
		}
	}

	if len(plan.candidates) == 0 {
		return nil, ErrNoProviders
	}
	return plan, nil
}

// cloudCandidates orders cloud adapters: explicit model match first,
// then cheapest capable model, then highest recent success rate.
func (r *Router) cloudCandidates(intent llm.Intent, explicitModel string) []candidate {
	type scored struct {
		cand    candidate
		cost    float64
		success float64
		pinned  bool
	}
	var out []scored
	seen := make(map[string]bool)

	for _, rec := range r.catalog.Candidates(intent) {
		if rec.Provider == r.opts.LocalProvider {
			continue
		}
		p, ok := r.providers[rec.Provider]
		if !ok || seen[rec.ID] {
			continue
		}
		seen[rec.ID] = true
		success := rec.SuccessRate
		if rate, n, err := r.db.SuccessRate(rec.Name, successWindow); err == nil && n > 0 {
			success = rate
		}
		out = append(out, scored{
			cand:    candidate{provider: p, model: rec.Name},
			cost:    rec.CostInPer1K + rec.CostOutPer1K,
			success: success,
			pinned:  explicitModel != "" && rec.Name == explicitModel,
		})
	}

	// With an empty catalog fall back to one candidate per configured
	// cloud adapter using its default model.
	if len(out) == 0 {
		for _, name := range r.Providers() {
			if name == r.opts.LocalProvider {
				continue
			}
			p := r.providers[name]
			in, outCost := p.CostPerToken()
			out = append(out, scored{
				cand: candidate{provider: p, model: explicitModel},
				cost: in + outCost,
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].pinned != out[j].pinned {
			return out[i].pinned
		}
		if out[i].cost != out[j].cost {
			return out[i].cost < out[j].cost
		}
		if out[i].success != out[j].success {
			return out[i].success > out[j].success
		}
		return out[i].cand.String() < out[j].cand.String()
	})

	cands := make([]candidate, len(out))
	for i, s := range out {
		cands[i] = s.cand
	}
	return cands
}

func splitTarget(target string) (string, string) {
	for i := 0; i < len(target); i++ {
		if target[i] == ':' {
			return target[:i], target[i+1:]
		}
	}
	return target, ""
}

// costCents computes the recorded cost for a response against an
// adapter's per-1k pricing.
func costCents(p llm.Provider, tokensIn, tokensOut int) float64 {
	in, out := p.CostPerToken()
	return (float64(tokensIn)/1000.0*in + float64(tokensOut)/1000.0*out) * 100.0
}
