package router

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/ghostkellz/zeke/internal/llm"
	"github.com/ghostkellz/zeke/internal/routingdb"
)

// streamState tracks one streaming request through its lifecycle.
type streamState int

const (
	stateIdle streamState = iota
	stateDispatching
	stateFirstTokenWait
	stateStreaming
	stateDone
	stateFailing
	stateEscalating
	stateCancelled
)

func (r *Router) timeoutFor(c candidate) time.Duration {
	if c.local {
		if c.provider.Name() == "ollama" {
			return r.opts.OllamaTimeout
		}
		return r.opts.LocalTimeout
	}
	return r.opts.CloudTimeout
}

// record writes the single stats row for a finished request and, when
// the adapter captured a proxy trace, the trace row.
func (r *Router) record(dec routingdb.Decision, p llm.Provider) {
	if err := r.db.RecordDecision(dec); err == nil {
		if tracer, ok := p.(llm.Tracer); ok {
			if trace := tracer.LastTrace(); trace != nil {
				r.db.RecordTrace(routingdb.Trace{
					RequestID:      dec.RequestID,
					Project:        dec.Project,
					TraceJSON:      trace.TraceJSON,
					DecisionReason: trace.DecisionReason,
					CandidatesJSON: trace.CandidatesJSON,
				})
			}
		}
	}
}

func (r *Router) rememberChoice(prefs routingdb.Prefs, plan *Plan, model string) {
	prefs.LastAlias = plan.Alias
	prefs.LastModel = model
	_ = r.db.PutPrefs(prefs)
}

// Complete routes and executes a blocking chat request. One stats row
// is recorded for the final attempt, with escalated=true when a
// fallback fired.
func (r *Router) Complete(ctx context.Context, req llm.ChatRequest, project string) (*llm.ChatResponse, *Plan, error) {
	prefs, err := r.db.GetPrefs(project)
	if err != nil {
		prefs = routingdb.DefaultPrefs(project)
	}
	plan, err := r.Plan(req, prefs)
	if err != nil {
		return nil, nil, err
	}

	start := time.Now()
	fallbacks := 0
	var lastErr error

	for i, cand := range plan.candidates {
		attemptCtx, cancel := context.WithTimeout(ctx, r.timeoutFor(cand))
		attemptReq := req
		attemptReq.Model = cand.model
		resp, err := cand.provider.Complete(attemptCtx, attemptReq)
		cancel()

		if err == nil {
			resp.Provider = cand.provider.Name()
			dec := routingdb.Decision{
				RequestID:       plan.RequestID,
				Project:         project,
				Alias:           plan.Alias,
				Model:           resp.Model,
				Provider:        resp.Provider,
				Intent:          string(plan.Intent),
				SizeHint:        string(plan.Complexity),
				LatencyMs:       resp.LatencyMs,
				TotalDurationMs: time.Since(start).Milliseconds(),
				TokensIn:        resp.TokensIn,
				TokensOut:       resp.TokensOut,
				CostCents:       costCents(cand.provider, resp.TokensIn, resp.TokensOut),
				Success:         true,
				Escalated:       i > 0,
			}
			r.record(dec, cand.provider)
			r.rememberChoice(prefs, plan, resp.Model)
			return resp, plan, nil
		}

		lastErr = err
		kind := llm.KindOf(err)
		switch kind {
		case llm.ErrUnauthorised, llm.ErrReAuthRequired:
			// Never fall through on an auth failure.
			r.recordFailure(plan, project, cand, start, kind)
			return nil, plan, err
		case llm.ErrRateLimited:
			continue
		case llm.ErrTimeout, llm.ErrNetwork, llm.ErrServer:
			if fallbacks >= 1 {
				r.recordFailure(plan, project, cand, start, kind)
				return nil, plan, err
			}
			fallbacks++
			continue
		case llm.ErrCancelled:
			r.recordFailure(plan, project, cand, start, kind)
			return nil, plan, err
		default:
			r.recordFailure(plan, project, cand, start, kind)
			return nil, plan, err
		}
	}

	if lastErr == nil {
		lastErr = ErrNoProviders
	}
	last := plan.candidates[len(plan.candidates)-1]
	r.recordFailure(plan, project, last, start, llm.KindOf(lastErr))
	return nil, plan, lastErr
}

func (r *Router) recordFailure(plan *Plan, project string, cand candidate, start time.Time, kind llm.ErrorKind) {
	r.record(routingdb.Decision{
		RequestID:       plan.RequestID,
		Project:         project,
		Alias:           plan.Alias,
		Model:           cand.model,
		Provider:        cand.provider.Name(),
		Intent:          string(plan.Intent),
		SizeHint:        string(plan.Complexity),
		TotalDurationMs: time.Since(start).Milliseconds(),
		Success:         false,
		ErrorCode:       string(kind),
		Escalated:       cand.String() != plan.candidates[0].String(),
	}, cand.provider)
}

// StreamChat routes and executes a streaming request. In hybrid mode
// the local candidate gets a first-token deadline; on expiry the partial
// stream is discarded and the next candidate is dispatched. A pre-token
// timeout, network or server error falls back once; other errors
// (auth failures included) are surfaced. The stats row is written when the returned
// stream terminates, never mid-stream.
func (r *Router) StreamChat(ctx context.Context, req llm.ChatRequest, project string) (llm.Stream, *Plan, error) {
	prefs, err := r.db.GetPrefs(project)
	if err != nil {
		prefs = routingdb.DefaultPrefs(project)
	}
	plan, err := r.Plan(req, prefs)
	if err != nil {
		return nil, nil, err
	}

	start := time.Now()
	fallbacks := 0
	var lastErr error

	for i, cand := range plan.candidates {
		attemptReq := req
		attemptReq.Model = cand.model

		// Dispatching.
		upstream, err := cand.provider.Stream(ctx, attemptReq)
		if err != nil {
			lastErr = err
			kind := llm.KindOf(err)
			switch kind {
			case llm.ErrUnauthorised, llm.ErrReAuthRequired, llm.ErrCancelled,
				llm.ErrInvalidResponse, llm.ErrContextLengthExceeded, llm.ErrContentFiltered:
				r.recordFailure(plan, project, cand, start, kind)
				return nil, plan, err
			case llm.ErrRateLimited:
				continue
			default:
				if fallbacks >= 1 {
					r.recordFailure(plan, project, cand, start, kind)
					return nil, plan, err
				}
				fallbacks++
				continue
			}
		}

		// FirstTokenWait. The hybrid class escalates on expiry; other
		// classes wait for the candidate's own timeout.
		wait := r.timeoutFor(cand)
		hybridLocal := plan.Class == string(classHybrid) && cand.local && i < len(plan.candidates)-1
		if hybridLocal {
			wait = r.opts.FirstTokenTimeout
		}
		first, err := recvFirst(upstream, wait)
		if err != nil {
			upstream.Close()
			if errors.Is(err, errFirstTokenTimeout) && hybridLocal {
				// Escalating: the stream seen so far is discarded.
				lastErr = err
				continue
			}
			kind := llm.KindOf(err)
			if kind == llm.ErrTimeout || kind == llm.ErrNetwork || kind == llm.ErrServer {
				if fallbacks < 1 {
					fallbacks++
					lastErr = err
					continue
				}
			}
			r.recordFailure(plan, project, cand, start, kind)
			return nil, plan, err
		}

		ms := &monitoredStream{
			inner:      upstream,
			pending:    first,
			router:     r,
			plan:       plan,
			prefs:      prefs,
			cand:       cand,
			project:    project,
			start:      start,
			firstTokMs: time.Since(start).Milliseconds(),
			escalated:  i > 0,
			state:      stateStreaming,
		}
		return ms, plan, nil
	}

	if lastErr == nil {
		lastErr = ErrNoProviders
	}
	last := plan.candidates[len(plan.candidates)-1]
	r.recordFailure(plan, project, last, start, llm.KindOf(lastErr))
	return nil, plan, lastErr
}

var errFirstTokenTimeout = &llm.ProviderError{Kind: llm.ErrTimeout, Provider: "router", Message: "first token deadline exceeded"}

// recvFirst waits for the first delta with a deadline. The receive runs
// in a goroutine because Stream.Recv has no deadline of its own; on
// timeout the caller closes the stream, which unblocks the receive.
func recvFirst(s llm.Stream, wait time.Duration) (*llm.Delta, error) {
	type result struct {
		d   llm.Delta
		err error
	}
	ch := make(chan result, 1)
	go func() {
		d, err := s.Recv()
		ch <- result{d, err}
	}()
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		return &res.d, nil
	case <-timer.C:
		return nil, errFirstTokenTimeout
	}
}

// monitoredStream passes deltas through in order and writes the stats
// row exactly once when the stream reaches a terminal state.
type monitoredStream struct {
	inner      llm.Stream
	pending    *llm.Delta
	router     *Router
	plan       *Plan
	prefs      routingdb.Prefs
	cand       candidate
	project    string
	start      time.Time
	firstTokMs int64
	escalated  bool

	mu          sync.Mutex
	state       streamState
	recorded    bool
	sawTerminal bool
	tokensIn    int
	tokensOut   int
}

func (m *monitoredStream) Recv() (llm.Delta, error) {
	if m.pending != nil {
		d := *m.pending
		m.pending = nil
		m.observe(d)
		return d, nil
	}
	d, err := m.inner.Recv()
	if err == io.EOF {
		m.finish(stateDone, "")
		return llm.Delta{}, io.EOF
	}
	if err != nil {
		m.finish(stateFailing, string(llm.KindOf(err)))
		return llm.Delta{}, err
	}
	m.observe(d)
	return d, nil
}

func (m *monitoredStream) observe(d llm.Delta) {
	m.mu.Lock()
	if d.TokensIn > 0 {
		m.tokensIn = d.TokensIn
	}
	if d.TokensOut > 0 {
		m.tokensOut = d.TokensOut
	}
	if d.Finished {
		m.sawTerminal = true
	}
	m.mu.Unlock()
}

// Close cancels the stream. A close before the terminator records the
// request as cancelled; after the terminator it completes normally.
func (m *monitoredStream) Close() error {
	err := m.inner.Close()
	m.mu.Lock()
	finished := m.sawTerminal
	m.mu.Unlock()
	if finished {
		m.finish(stateDone, "")
	} else {
		m.finish(stateCancelled, "cancelled")
	}
	return err
}

func (m *monitoredStream) finish(state streamState, errorCode string) {
	m.mu.Lock()
	if m.recorded {
		m.mu.Unlock()
		return
	}
	m.recorded = true
	m.state = state
	tokensIn, tokensOut := m.tokensIn, m.tokensOut
	m.mu.Unlock()

	dec := routingdb.Decision{
		RequestID:       m.plan.RequestID,
		Project:         m.project,
		Alias:           m.plan.Alias,
		Model:           m.cand.model,
		Provider:        m.cand.provider.Name(),
		Intent:          string(m.plan.Intent),
		SizeHint:        string(m.plan.Complexity),
		LatencyMs:       m.firstTokMs,
		TotalDurationMs: time.Since(m.start).Milliseconds(),
		TokensIn:        tokensIn,
		TokensOut:       tokensOut,
		CostCents:       costCents(m.cand.provider, tokensIn, tokensOut),
		Success:         state == stateDone,
		ErrorCode:       errorCode,
		Escalated:       m.escalated,
	}
	m.router.record(dec, m.cand.provider)
	if state == stateDone {
		m.router.rememberChoice(m.prefs, m.plan, m.cand.model)
	}
}
