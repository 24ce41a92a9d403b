package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"time"

	"github.com/ghostkellz/zeke/internal/credentials"
	"github.com/ghostkellz/zeke/internal/jsonrpc"
	"github.com/ghostkellz/zeke/internal/llm"
	"github.com/ghostkellz/zeke/internal/routingdb"
	"github.com/ghostkellz/zeke/internal/tools"
)

// removeIfSocket unlinks a stale Unix socket file.
func removeIfSocket(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return nil
	}
	if info.Mode()&os.ModeSocket != 0 {
		return os.Remove(path)
	}
	return nil
}

func errorCode(err error) int {
	var jerr *jsonrpc.Error
	if errors.As(err, &jerr) {
		return jerr.Code
	}
	var terr *tools.Error
	if errors.As(err, &terr) && terr.Type == tools.ErrInvalidParams {
		return jsonrpc.CodeInvalidParams
	}
	return jsonrpc.CodeInternalError
}

// dispatch routes one request to its handler and returns the response
// message: the result, or an error response when the handler fails.
func (s *Server) dispatch(ctx context.Context, c *conn, msg *jsonrpc.Message) *jsonrpc.Message {
	result, err := s.invoke(ctx, c, msg)
	if err != nil {
		return jsonrpc.NewError(msg.ID, errorCode(err), err.Error())
	}
	resp, merr := jsonrpc.NewResult(msg.ID, result)
	if merr != nil {
		return jsonrpc.NewError(msg.ID, jsonrpc.CodeInternalError, merr.Error())
	}
	return resp
}

func decodeParams[T any](msg *jsonrpc.Message) (T, error) {
	var params T
	if len(msg.Params) == 0 {
		return params, nil
	}
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return params, &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
	}
	return params, nil
}

func (s *Server) invoke(ctx context.Context, c *conn, msg *jsonrpc.Message) (any, error) {
	switch msg.Method {
	case "version":
		return map[string]string{"version": s.deps.Version}, nil

	case "daemon.status":
		return map[string]any{
			"version":   s.deps.Version,
			"in_flight": s.InFlight(),
			"providers": s.deps.Router.Providers(),
		}, nil

	case "chat.complete":
		req, err := decodeParams[llm.ChatRequest](msg)
		if err != nil {
			return nil, err
		}
		resp, _, err := s.deps.Router.Complete(ctx, req, projectFor(req))
		if err != nil {
			return nil, err
		}
		return resp, nil

	case "chat.stream":
		return s.chatStream(ctx, c, msg)

	case "project.analyze":
		params, err := decodeParams[struct {
			Path string `json:"path"`
		}](msg)
		if err != nil {
			return nil, err
		}
		return s.deps.Analyzer.Analyze(params.Path)

	case "dependency.suggest":
		params, err := decodeParams[struct {
			Query string `json:"query"`
		}](msg)
		if err != nil {
			return nil, err
		}
		return SuggestDependencies(params.Query), nil

	case "package.recommend":
		params, err := decodeParams[struct {
			Need string `json:"need"`
		}](msg)
		if err != nil {
			return nil, err
		}
		return SuggestDependencies(params.Need), nil

	case "tool.list":
		return s.deps.Tools.List(), nil

	case "tool.execute":
		params, err := decodeParams[struct {
			Name   string         `json:"name"`
			Params map[string]any `json:"params"`
		}](msg)
		if err != nil {
			return nil, err
		}
		return s.deps.Tools.Execute(ctx, params.Name, params.Params, c.sessionID)

	case "auth.status":
		return s.authStatus(), nil

	case "auth.set_key":
		params, err := decodeParams[struct {
			Provider string `json:"provider"`
			Value    string `json:"value"`
		}](msg)
		if err != nil {
			return nil, err
		}
		err = s.deps.Store.Set(credentials.Credential{
			Provider: params.Provider,
			Kind:     credentials.KindAPIKey,
			Value:    params.Value,
		})
		if err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil

	case "auth.logout":
		params, err := decodeParams[struct {
			Provider string `json:"provider"`
		}](msg)
		if err != nil {
			return nil, err
		}
		if err := s.deps.Store.Logout(params.Provider); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil

	case "provider.list":
		return s.deps.Router.Providers(), nil

	case "provider.status":
		return s.providerStatus(ctx), nil

	case "provider.test":
		params, err := decodeParams[struct {
			Provider string `json:"provider"`
		}](msg)
		if err != nil {
			return nil, err
		}
		return s.providerTest(ctx, params.Provider)

	case "model.list":
		return s.deps.Router.Catalog().All(), nil

	case "router.status":
		return map[string]any{
			"providers": s.deps.Router.Providers(),
			"in_flight": s.InFlight(),
		}, nil

	case "router.test":
		req := llm.ChatRequest{
			Prompt:    "Reply with the single word: ok",
			MaxTokens: 8,
			Tags:      llm.Tags{Intent: string(llm.IntentCompletion)},
		}
		resp, plan, err := s.deps.Router.Complete(ctx, req, "router-test")
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"provider":   resp.Provider,
			"model":      resp.Model,
			"latency_ms": resp.LatencyMs,
			"reason":     plan.Reason,
		}, nil

	default:
		return nil, &jsonrpc.Error{Code: jsonrpc.CodeMethodNotFound, Message: "unknown method: " + msg.Method}
	}
}

// projectFor derives the stats project key from request tags, falling
// back to the daemon's working directory.
func projectFor(req llm.ChatRequest) string {
	if req.Tags.Project != "" {
		return routingdb.ProjectID(req.Tags.Project)
	}
	wd, err := os.Getwd()
	if err != nil {
		return "unknown"
	}
	return routingdb.ProjectID(wd)
}

// chatStream bridges a pull stream to push notification frames:
// stream.delta per chunk, stream.end as the last frame for the id.
func (s *Server) chatStream(ctx context.Context, c *conn, msg *jsonrpc.Message) (any, error) {
	req, err := decodeParams[llm.ChatRequest](msg)
	if err != nil {
		return nil, err
	}
	stream, plan, err := s.deps.Router.StreamChat(ctx, req, projectFor(req))
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	streamID := plan.RequestID
	var totalTokens int
	for {
		select {
		case <-ctx.Done():
			// Cancellation: stop reading, close upstream, emit the
			// terminal frame. The stats row records the cancel.
			stream.Close()
			s.notify(c, "stream.end", map[string]any{"id": streamID})
			return nil, &llm.ProviderError{Kind: llm.ErrCancelled, Provider: "router", Message: "request cancelled"}
		default:
		}

		delta, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.notify(c, "stream.end", map[string]any{"id": streamID, "error": err.Error()})
			return nil, err
		}
		if delta.TokensOut > 0 {
			totalTokens = delta.TokensIn + delta.TokensOut
		}
		if delta.Text != "" || delta.Finished {
			s.notify(c, "stream.delta", map[string]any{
				"id":       streamID,
				"text":     delta.Text,
				"finished": delta.Finished,
			})
		}
		if delta.Finished {
			break
		}
	}
	end := map[string]any{"id": streamID}
	if totalTokens > 0 {
		end["total_tokens"] = totalTokens
	}
	s.notify(c, "stream.end", end)
	return map[string]any{"id": streamID, "total_tokens": totalTokens}, nil
}

func (s *Server) notify(c *conn, method string, params any) {
	note, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		return
	}
	_ = c.framing.WriteMessage(note)
}

// authStatus reports per-provider credential state without values.
func (s *Server) authStatus() []map[string]any {
	var out []map[string]any
	for _, meta := range s.deps.Store.List() {
		entry := map[string]any{
			"provider": meta.Provider,
			"kind":     string(meta.Kind),
			"status":   "OK",
		}
		if meta.ExpiresAt != nil {
			entry["expires_at"] = meta.ExpiresAt.Format(time.RFC3339)
			if meta.ExpiresAt.Before(time.Now()) {
				entry["status"] = "expired"
			}
		}
		out = append(out, entry)
	}
	return out
}

func (s *Server) providerStatus(ctx context.Context) []map[string]any {
	var out []map[string]any
	for _, name := range s.deps.Router.Providers() {
		records := s.deps.Router.Catalog().ByProvider(name)
		available := len(records) == 0
		for _, rec := range records {
			if rec.Available {
				available = true
				break
			}
		}
		out = append(out, map[string]any{
			"provider":  name,
			"models":    len(records),
			"available": available,
		})
	}
	return out
}

// providerTest lists the provider's models and refreshes the catalog.
func (s *Server) providerTest(ctx context.Context, name string) (any, error) {
	p, ok := s.deps.Router.Provider(name)
	if !ok {
		return nil, &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: "provider not configured: " + name}
	}
	testCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	start := time.Now()
	records, err := p.ListModels(testCtx)
	if err != nil {
		return map[string]any{"provider": name, "ok": false, "error": err.Error()}, nil
	}
	for _, rec := range records {
		_ = s.deps.Router.Catalog().Put(rec)
		if s.deps.DB != nil {
			_ = s.deps.DB.UpsertModel(rec)
		}
	}
	return map[string]any{
		"provider":   name,
		"ok":         true,
		"models":     len(records),
		"latency_ms": time.Since(start).Milliseconds(),
	}, nil
}
